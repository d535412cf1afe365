package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/crystal-mush/mushcore/pkg/gamedb"
)

// lookup returns the live slot for pid if actor may signal it.
func (s *Scheduler) lookup(actor gamedb.DBRef, pid int) (*slot, error) {
	sl, ok := s.sigs.get(pid)
	if !ok {
		return nil, fmt.Errorf("pid %d: %w", pid, ErrNoSuchPID)
	}
	if !s.db.Controls(actor, sl.entry.Player) && !s.db.CanHalt(actor) {
		return nil, fmt.Errorf("pid %d: %w", pid, ErrPermission)
	}
	return sl, nil
}

func timed(e *Entry) bool {
	return e.kind == KindWait || e.kind == KindSem
}

// Freeze holds an entry where it is. Frozen timers do not run down.
func (s *Scheduler) Freeze(actor gamedb.DBRef, pid int) error {
	sl, err := s.lookup(actor, pid)
	if err != nil {
		return err
	}
	sl.state = StateFrozen
	return nil
}

// Continue releases a frozen entry. Waiting entries are relinked on the
// next tick.
func (s *Scheduler) Continue(actor gamedb.DBRef, pid int) error {
	sl, err := s.lookup(actor, pid)
	if err != nil {
		return err
	}
	if sl.state != StateFrozen {
		return nil
	}
	if !timed(sl.entry) {
		sl.state = StateActive
		return nil
	}
	sl.state = StateContinueRequested
	s.sigs.markDirty(pid)
	return nil
}

// Retime gives a waiting entry a new remaining time, applied on the next
// tick. A retimed entry is no longer frozen.
func (s *Scheduler) Retime(actor gamedb.DBRef, pid int, delay time.Duration) error {
	if delay < 0 {
		return fmt.Errorf("pid %d: %w", pid, ErrNegativeDelay)
	}
	sl, err := s.lookup(actor, pid)
	if err != nil {
		return err
	}
	if !timed(sl.entry) {
		return fmt.Errorf("pid %d: %w", pid, ErrNotTimed)
	}
	sl.state = StateRetimeRequested
	sl.retime = s.now().Add(delay)
	s.sigs.markDirty(pid)
	return nil
}

// QueryRemaining returns how long a waiting entry has left.
func (s *Scheduler) QueryRemaining(actor gamedb.DBRef, pid int) (time.Duration, error) {
	sl, ok := s.sigs.get(pid)
	if !ok {
		return 0, fmt.Errorf("pid %d: %w", pid, ErrNoSuchPID)
	}
	e := sl.entry
	if !s.db.Controls(actor, e.Player) && !s.db.SeeQueue(actor) {
		return 0, fmt.Errorf("pid %d: %w", pid, ErrPermission)
	}
	if !timed(e) {
		return 0, fmt.Errorf("pid %d: %w", pid, ErrNotTimed)
	}
	return s.remaining(sl), nil
}

func (s *Scheduler) remaining(sl *slot) time.Duration {
	until := sl.entry.WaitUntil
	if sl.state == StateRetimeRequested {
		until = sl.retime
	}
	if until.IsZero() {
		return 0
	}
	if d := until.Sub(s.now()); d > 0 {
		return d
	}
	return 0
}

// Kill removes one entry. Player and object entries are neutralized in
// place; waiting entries are unlinked and their semaphore given back.
func (s *Scheduler) Kill(actor gamedb.DBRef, pid int) error {
	sl, err := s.lookup(actor, pid)
	if err != nil {
		return err
	}
	e := sl.entry
	if timed(e) {
		s.discard(e, true)
	} else {
		s.invalidate(e)
	}
	s.stats.Halted++
	return nil
}

// Signal applies a named signal: freeze, thaw (or continue), kill (or
// halt), or retime with delay.
func (s *Scheduler) Signal(actor gamedb.DBRef, pid int, kind string, delay time.Duration) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "freeze":
		return s.Freeze(actor, pid)
	case "thaw", "continue":
		return s.Continue(actor, pid)
	case "kill", "halt":
		return s.Kill(actor, pid)
	case "retime", "wait":
		return s.Retime(actor, pid, delay)
	}
	return fmt.Errorf("signal %q: %w", kind, ErrBadSignal)
}

// ---------- Listing ----------

// Item describes one live entry.
type Item struct {
	PID       int
	Kind      Kind
	State     State
	Player    gamedb.DBRef
	Owner     gamedb.DBRef
	Cause     gamedb.DBRef
	Sem       gamedb.DBRef
	SemAttr   string
	Timed     bool
	Remaining time.Duration
	Command   string
}

// Frozen reports whether the entry is held.
func (it Item) Frozen() bool { return it.State == StateFrozen }

// Listing holds the live entries of each queue in queue order.
type Listing [numKinds][]Item

// Total counts the entries in l.
func (l Listing) Total() int {
	n := 0
	for _, items := range l {
		n += len(items)
	}
	return n
}

// List returns the live entries match accepts, grouped by queue. A nil
// match accepts everything.
func (s *Scheduler) List(match func(*Item) bool) Listing {
	var out Listing
	for k := KindPlayer; k < numKinds; k++ {
		for e := s.queues[k].head; e != nil; e = e.next {
			if e.Player == gamedb.Nothing {
				continue
			}
			it := s.item(e)
			if match == nil || match(&it) {
				out[k] = append(out[k], it)
			}
		}
	}
	return out
}

func (s *Scheduler) item(e *Entry) Item {
	it := Item{
		PID:     e.PID,
		Kind:    e.kind,
		Player:  e.Player,
		Owner:   e.Owner,
		Cause:   e.Cause,
		Sem:     e.Sem,
		SemAttr: e.SemAttr,
		Command: e.Command,
	}
	if sl, ok := s.sigs.get(e.PID); ok {
		it.State = sl.state
		if timed(e) {
			it.Remaining = s.remaining(sl)
			it.Timed = !e.WaitUntil.IsZero() || sl.state == StateRetimeRequested
		}
	}
	return it
}

// PIDInfo describes the entry behind pid.
func (s *Scheduler) PIDInfo(actor gamedb.DBRef, pid int) (Item, error) {
	sl, ok := s.sigs.get(pid)
	if !ok {
		return Item{}, fmt.Errorf("pid %d: %w", pid, ErrNoSuchPID)
	}
	if !s.db.Controls(actor, sl.entry.Player) && !s.db.SeeQueue(actor) {
		return Item{}, fmt.Errorf("pid %d: %w", pid, ErrPermission)
	}
	return s.item(sl.entry), nil
}
