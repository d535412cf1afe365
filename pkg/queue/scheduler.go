// Package queue is the command scheduler: four queues (player, object,
// wait, semaphore), a pid table for external control, and per-owner cost
// accounting with runaway protection.
package queue

import (
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crystal-mush/mushcore/pkg/eval"
	"github.com/crystal-mush/mushcore/pkg/gamedb"
)

// Executor runs the command text of a dequeued entry.
type Executor interface {
	Execute(ctx *eval.Context, command string)
}

// ExecutorFunc adapts a function to an Executor.
type ExecutorFunc func(ctx *eval.Context, command string)

func (f ExecutorFunc) Execute(ctx *eval.Context, command string) { f(ctx, command) }

// Economy charges and refunds queue costs.
type Economy interface {
	Charge(owner gamedb.DBRef, amount int) bool
	Refund(owner gamedb.DBRef, amount int)
}

// Notifier tells an object something.
type Notifier interface {
	Notify(target gamedb.DBRef, msg string)
}

const (
	MsgRunaway = "Run away objects: too many commands queued.  Halted."
	MsgNoFunds = "Not enough money to queue command."
)

// Config holds the scheduler limits.
type Config struct {
	QueueMax       int           // per-owner quota
	WizardQueueMax int           // quota for wizard owners
	WaitCost       int           // charged per entry, refunded when it leaves
	MachineCost    int           // 1 in MachineCost enqueues loses an extra unit
	MaxPIDs        int           // signal table capacity
	CPULimit       time.Duration // per-entry budget; 0 disables
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		QueueMax:       100,
		WizardQueueMax: 1000,
		WaitCost:       10,
		MachineCost:    64,
		MaxPIDs:        10000,
		CPULimit:       500 * time.Millisecond,
	}
}

// Stats is a snapshot of queue sizes and lifetime counters.
type Stats struct {
	Player, Object, Wait, Sem int
	PIDsInUse                 int

	Executed  uint64
	Runaways  uint64
	CPUAborts uint64
	Dropped   uint64
	Halted    uint64
	NoPID     uint64
	Panics    uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithRand replaces the source used for the lost machine-cost unit.
func WithRand(intn func(n int) int) Option {
	return func(s *Scheduler) { s.intn = intn }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// WithNotifier sets where runaway and funding messages go.
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// Scheduler owns every queue and the pid table. It is not safe for
// concurrent use; the host serializes all calls.
type Scheduler struct {
	cfg      Config
	db       *gamedb.Database
	exec     Executor
	econ     Economy
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
	intn     func(n int) int

	queues   [numKinds]list
	sigs     *signalTable
	depth    map[gamedb.DBRef]int
	lastTick time.Time
	stats    Stats
}

// New creates a Scheduler.
func New(cfg Config, db *gamedb.Database, exec Executor, econ Economy, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:   cfg,
		db:    db,
		exec:  exec,
		econ:  econ,
		log:   zap.NewNop(),
		now:   time.Now,
		intn:  rand.IntN,
		depth: make(map[gamedb.DBRef]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sigs = newSignalTable(cfg.MaxPIDs)
	s.lastTick = s.now()
	return s
}

func (s *Scheduler) notify(target gamedb.DBRef, msg string) {
	if s.notifier != nil {
		s.notifier.Notify(target, msg)
	}
}

// Config returns the current limits.
func (s *Scheduler) Config() Config { return s.cfg }

// SetConfig changes limits at runtime. The pid table keeps its capacity.
func (s *Scheduler) SetConfig(cfg Config) {
	cfg.MaxPIDs = s.sigs.capacity()
	s.cfg = cfg
}

// ---------- Enqueue ----------

// EnqueueImmediate queues command on the player queue when the cause is a
// player and on the object queue otherwise.
func (s *Scheduler) EnqueueImmediate(ctx *eval.Context, command string) (int, error) {
	return s.enqueue(ctx, command, time.Time{}, gamedb.Nothing, "")
}

// EnqueueDelayed queues command to run no sooner than delay from now. A
// zero delay is the same as EnqueueImmediate.
func (s *Scheduler) EnqueueDelayed(ctx *eval.Context, command string, delay time.Duration) (int, error) {
	if delay < 0 {
		return 0, ErrNegativeDelay
	}
	if delay == 0 {
		return s.EnqueueImmediate(ctx, command)
	}
	return s.enqueue(ctx, command, s.now().Add(delay), gamedb.Nothing, "")
}

// EnqueueSemaphore bumps the counter in sem/attr and parks command until
// a notify. If the counter shows notifies already pending the command
// runs at once. A positive timeout releases the entry on its own.
func (s *Scheduler) EnqueueSemaphore(ctx *eval.Context, command string, sem gamedb.DBRef, attr string, timeout time.Duration) (int, error) {
	if timeout < 0 {
		return 0, ErrNegativeDelay
	}
	if !s.db.Valid(sem) {
		return 0, fmt.Errorf("semaphore #%d: %w", sem, ErrInvalidActor)
	}
	attr = semAttr(attr)
	if s.addCounter(sem, attr, 1) <= 0 {
		return s.EnqueueImmediate(ctx, command)
	}
	var until time.Time
	if timeout > 0 {
		until = s.now().Add(timeout)
	}
	pid, err := s.enqueue(ctx, command, until, sem, attr)
	if err != nil {
		s.addCounter(sem, attr, -1)
	}
	return pid, err
}

func semAttr(attr string) string {
	attr = strings.ToUpper(strings.TrimSpace(attr))
	if attr == "" {
		return DefaultSemAttr
	}
	return attr
}

func (s *Scheduler) enqueue(ctx *eval.Context, command string, until time.Time, sem gamedb.DBRef, attr string) (int, error) {
	player := ctx.Player
	obj, ok := s.db.Get(player)
	if !ok || obj.IsGoing() {
		return 0, fmt.Errorf("enqueue #%d: %w", player, ErrInvalidActor)
	}
	owner := s.db.Owner(player)
	if s.halted(obj, owner) {
		return 0, fmt.Errorf("enqueue #%d: %w", player, ErrHalted)
	}

	cost := 0
	if !s.db.FreeMoney(player) {
		cost = s.cfg.WaitCost
		if s.cfg.MachineCost > 0 && s.intn(s.cfg.MachineCost) == 0 {
			cost++
		}
		if cost > 0 && s.econ != nil && !s.econ.Charge(owner, cost) {
			s.notify(owner, MsgNoFunds)
			return 0, fmt.Errorf("enqueue #%d: %w", player, ErrNoFunds)
		}
	}

	s.depth[owner]++
	if s.depth[owner] > s.Quota(owner) {
		s.depth[owner]--
		s.refund(owner, cost)
		s.runaway(owner, player)
		return 0, fmt.Errorf("enqueue #%d: %w", player, ErrRunaway)
	}

	e := &Entry{
		Player:    player,
		Owner:     owner,
		Cause:     ctx.Cause,
		RealCause: ctx.RealCause,
		Identity:  ctx.Identity,
		Sem:       sem,
		SemAttr:   attr,
		WaitUntil: until,
		Regs:      ctx.Regs.Clone(),
		Command:   command,
		Evaluated: ctx.Literal,
		charged:   cost > 0,
	}
	if len(ctx.Args) > 0 {
		e.Args = append([]string(nil), ctx.Args...)
	}
	if _, ok := s.sigs.alloc(e); !ok {
		s.depth[owner]--
		s.refund(owner, cost)
		s.stats.NoPID++
		s.log.Error("QUEUE: no free pids, entry refused",
			zap.Int("player", int(player)),
			zap.Int("capacity", s.sigs.capacity()))
		return 0, fmt.Errorf("enqueue #%d: %w", player, ErrNoFreePID)
	}

	switch {
	case sem != gamedb.Nothing:
		e.kind = KindSem
		s.queues[KindSem].pushBack(e)
	case !until.IsZero():
		e.kind = KindWait
		s.queues[KindWait].insertByTime(e)
	case s.db.TypeOf(ctx.Cause) == gamedb.TypePlayer:
		e.kind = KindPlayer
		s.queues[KindPlayer].pushBack(e)
	default:
		e.kind = KindObject
		s.queues[KindObject].pushBack(e)
	}
	return e.PID, nil
}

// Quota returns how many entries owner may have queued at once. A numeric
// QUEUEMAX attribute on the owner overrides the configured limits.
func (s *Scheduler) Quota(owner gamedb.DBRef) int {
	if v := s.db.GetAttr(owner, gamedb.AttrQueueMax); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
			return n
		}
	}
	if s.db.Wizard(owner) {
		return s.cfg.WizardQueueMax
	}
	return s.cfg.QueueMax
}

// Depth returns the number of entries owner has queued.
func (s *Scheduler) Depth(owner gamedb.DBRef) int { return s.depth[owner] }

func (s *Scheduler) runaway(owner, player gamedb.DBRef) {
	s.stats.Runaways++
	s.notify(owner, MsgRunaway)
	s.log.Warn("QUEUE: runaway object halted",
		zap.Int("owner", int(owner)),
		zap.Int("player", int(player)),
		zap.Int("quota", s.Quota(owner)))
	s.Halt(owner)
	s.db.SetFlag(player, "HALT", true)
}

// halted reports whether obj or its owner carries HALT.
func (s *Scheduler) halted(obj *gamedb.Object, owner gamedb.DBRef) bool {
	if obj.HasFlag(gamedb.FlagHalt) {
		return true
	}
	o, ok := s.db.Get(owner)
	return ok && o.HasFlag(gamedb.FlagHalt)
}

func (s *Scheduler) refund(owner gamedb.DBRef, amount int) {
	if amount > 0 && s.econ != nil {
		s.econ.Refund(owner, amount)
	}
}

// release settles an entry leaving the queues: the wait cost goes back to
// the owner, the depth drops and the pid is freed.
func (s *Scheduler) release(e *Entry) {
	if e.charged {
		s.refund(e.Owner, s.cfg.WaitCost)
		e.charged = false
	}
	if s.depth[e.Owner] > 0 {
		s.depth[e.Owner]--
	}
	if s.depth[e.Owner] == 0 {
		delete(s.depth, e.Owner)
	}
	s.sigs.release(e.PID)
}

// invalidate neutralizes a player/object queue entry in place. Run drops
// it without executing.
func (s *Scheduler) invalidate(e *Entry) {
	s.release(e)
	e.Player = gamedb.Nothing
}

// discard unlinks a wait or semaphore entry and settles it.
func (s *Scheduler) discard(e *Entry, decSem bool) {
	s.queues[e.kind].remove(e)
	if decSem && e.Sem != gamedb.Nothing {
		s.addCounter(e.Sem, e.SemAttr, -1)
	}
	s.release(e)
}

// promote moves a woken entry to the end of the player queue, or the
// object queue when something other than a player caused it.
func (s *Scheduler) promote(e *Entry) {
	s.queues[e.kind].remove(e)
	e.WaitUntil = time.Time{}
	e.kind = KindObject
	if s.db.TypeOf(e.Cause) == gamedb.TypePlayer {
		e.kind = KindPlayer
	}
	s.queues[e.kind].pushBack(e)
}

// ---------- Semaphore counters ----------

// Counter returns the semaphore count stored in obj/attr.
func (s *Scheduler) Counter(obj gamedb.DBRef, attr string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s.db.GetAttr(obj, semAttr(attr))))
	return n
}

func (s *Scheduler) addCounter(obj gamedb.DBRef, attr string, delta int) int {
	n := s.Counter(obj, attr) + delta
	s.setCounter(obj, attr, n)
	return n
}

func (s *Scheduler) setCounter(obj gamedb.DBRef, attr string, n int) {
	if n == 0 {
		s.db.SetAttr(obj, semAttr(attr), "")
		return
	}
	s.db.SetAttr(obj, semAttr(attr), strconv.Itoa(n))
}

// DrainOrNotify wakes or discards entries waiting on target/attr. With
// drain, every waiter is discarded and the counter cleared. Otherwise up
// to count waiters (all of them with all) are woken in FIFO order; the
// counter drops by count, or is cleared with all. Frozen waiters stay put
// and wait out their timeout. It returns how many entries were affected.
func (s *Scheduler) DrainOrNotify(target gamedb.DBRef, attr string, count int, all, drain bool) int {
	attr = semAttr(attr)
	if count < 1 {
		count = 1
	}
	n := 0
	for e := s.queues[KindSem].head; e != nil; {
		next := e.next
		if e.Sem == target && e.SemAttr == attr {
			switch {
			case drain:
				s.discard(e, false)
				n++
			case all || n < count:
				if !s.frozen(e) {
					s.promote(e)
					n++
				}
			}
		}
		e = next
	}
	if drain || all {
		s.setCounter(target, attr, 0)
	} else {
		s.addCounter(target, attr, -count)
	}
	return n
}

// ---------- Halt ----------

// Halt stops everything target runs. For a player that is every entry it
// owns; for anything else, the entries it executes.
func (s *Scheduler) Halt(target gamedb.DBRef) int {
	if s.db.TypeOf(target) == gamedb.TypePlayer {
		return s.halt(func(e *Entry) bool { return e.Owner == target })
	}
	return s.halt(func(e *Entry) bool { return e.Player == target })
}

// HaltAll empties every queue.
func (s *Scheduler) HaltAll() int {
	return s.halt(func(*Entry) bool { return true })
}

func (s *Scheduler) halt(match func(e *Entry) bool) int {
	n := 0
	for _, k := range []Kind{KindPlayer, KindObject} {
		s.queues[k].each(func(e *Entry) {
			if e.Player != gamedb.Nothing && match(e) {
				s.invalidate(e)
				n++
			}
		})
	}
	for _, k := range []Kind{KindWait, KindSem} {
		s.queues[k].each(func(e *Entry) {
			if match(e) {
				s.discard(e, true)
				n++
			}
		})
	}
	s.stats.Halted += uint64(n)
	return n
}

// ---------- Tick and Run ----------

// Tick does the once-a-second work: object entries join the player
// queue, frozen timers are pushed back, externally changed entries are
// resorted, due waits are promoted and semaphore timeouts fire.
func (s *Scheduler) Tick() {
	now := s.now()
	elapsed := now.Sub(s.lastTick)
	if elapsed < 0 {
		elapsed = 0
	}
	s.lastTick = now

	s.queues[KindPlayer].appendList(&s.queues[KindObject])

	if elapsed > 0 {
		for _, k := range []Kind{KindWait, KindSem} {
			s.queues[k].each(func(e *Entry) {
				if s.frozen(e) && !e.WaitUntil.IsZero() {
					e.WaitUntil = e.WaitUntil.Add(elapsed)
					if e.kind == KindWait {
						s.sigs.markDirty(e.PID)
					}
				}
			})
		}
	}

	s.resort()

	for e := s.queues[KindWait].head; e != nil; {
		next := e.next
		if e.WaitUntil.After(now) {
			break
		}
		if !s.frozen(e) {
			s.promote(e)
		}
		e = next
	}

	s.queues[KindSem].each(func(e *Entry) {
		if e.WaitUntil.IsZero() || e.WaitUntil.After(now) || s.frozen(e) {
			return
		}
		s.addCounter(e.Sem, e.SemAttr, -1)
		s.promote(e)
	})
}

// resort applies pending continue/retime requests and relinks the
// changed wait entries.
func (s *Scheduler) resort() {
	for _, pid := range s.sigs.takeDirty() {
		sl, ok := s.sigs.get(pid)
		if !ok {
			continue
		}
		e := sl.entry
		switch sl.state {
		case StateContinueRequested:
			sl.state = StateActive
		case StateRetimeRequested:
			e.WaitUntil = sl.retime
			sl.retime = time.Time{}
			sl.state = StateActive
		}
		if e.kind == KindWait {
			s.queues[KindWait].remove(e)
			s.queues[KindWait].insertByTime(e)
		}
	}
}

func (s *Scheduler) frozen(e *Entry) bool {
	sl, ok := s.sigs.get(e.PID)
	return ok && sl.state == StateFrozen
}

// Run executes up to n entries from the head of the player queue and
// returns how many it executed. Frozen entries stay linked where they are,
// so Halt and List still see them while commands run. Killed and halted
// entries are dropped without counting.
func (s *Scheduler) Run(n int) int {
	q := &s.queues[KindPlayer]
	var held *Entry // last frozen entry left in place
	done := 0
	for done < n {
		e := q.head
		if held != nil {
			e = held.next
		}
		if e == nil {
			break
		}
		if e.Player != gamedb.Nothing && s.frozen(e) {
			held = e
			continue
		}
		q.removeNext(held)
		if e.Player == gamedb.Nothing {
			s.stats.Dropped++
			continue
		}
		s.release(e)

		obj, ok := s.db.Get(e.Player)
		if !ok || obj.IsGoing() || s.halted(obj, e.Owner) {
			s.stats.Dropped++
			continue
		}
		done++
		s.execute(e)
	}
	return done
}

func (s *Scheduler) execute(e *Entry) {
	ctx := e.context()
	ctx.Literal = e.Evaluated
	if s.cfg.CPULimit > 0 {
		ctx.Deadline = s.now().Add(s.cfg.CPULimit)
	}

	defer func() {
		if r := recover(); r != nil {
			s.stats.Panics++
			s.log.Error("QUEUE: panic in queue entry",
				zap.Int("player", int(e.Player)),
				zap.String("cmd", e.Command),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	s.stats.Executed++
	if s.exec != nil {
		s.exec.Execute(ctx, e.Command)
	}
	if ctx.Overrun {
		s.stats.CPUAborts++
		s.log.Warn("QUEUE: CPU limit exceeded, rest of entry abandoned",
			zap.Int("player", int(e.Player)),
			zap.String("cmd", e.Command),
			zap.Duration("limit", s.cfg.CPULimit))
	}
}

// Pending reports whether the player queue has work.
func (s *Scheduler) Pending() bool { return s.queues[KindPlayer].n > 0 }

// Stats returns queue sizes and counters.
func (s *Scheduler) Stats() Stats {
	st := s.stats
	st.Player = s.queues[KindPlayer].n
	st.Object = s.queues[KindObject].n
	st.Wait = s.queues[KindWait].n
	st.Sem = s.queues[KindSem].n
	st.PIDsInUse = s.sigs.live
	return st
}
