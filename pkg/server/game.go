package server

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/crystal-mush/mushcore/pkg/boltstore"
	"github.com/crystal-mush/mushcore/pkg/boolexp"
	"github.com/crystal-mush/mushcore/pkg/command"
	"github.com/crystal-mush/mushcore/pkg/dispatch"
	"github.com/crystal-mush/mushcore/pkg/eval"
	"github.com/crystal-mush/mushcore/pkg/eval/functions"
	"github.com/crystal-mush/mushcore/pkg/events"
	"github.com/crystal-mush/mushcore/pkg/gamedb"
	"github.com/crystal-mush/mushcore/pkg/ledger"
	"github.com/crystal-mush/mushcore/pkg/queue"
)

// Game wires the command core together. Every entry point that touches
// the world takes mu, so dispatch, ticks and queue runs never overlap.
type Game struct {
	mu sync.Mutex

	DB         *gamedb.Database
	Conf       *GameConf
	Bus        *events.Bus
	Conns      *ConnManager
	Interp     *eval.Interp
	Locks      *boolexp.Checker
	Commands   *command.Registry
	Dispatcher *dispatch.Dispatcher
	Queue      *queue.Scheduler
	Econ       queue.Economy
	Ledger     *ledger.SQL      // nil unless ledger_database is set
	Store      *boltstore.Store // nil unless bolt_database is set
	Metrics    *Metrics         // nil unless metrics_enabled
	Log        *zap.Logger

	now       func() time.Time
	startTime time.Time
	busy      atomic.Bool // input arrived since the last queue run
}

// Option configures a Game.
type Option func(*Game)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(g *Game) {
		if log != nil {
			g.Log = log
		}
	}
}

// WithClock replaces time.Now for the scheduler, dispatcher and evaluator.
func WithClock(now func() time.Time) Option {
	return func(g *Game) { g.now = now }
}

// WithStore persists the world to s.
func WithStore(s *boltstore.Store) Option {
	return func(g *Game) { g.Store = s }
}

// WithLedger meters queue costs through l instead of object pennies.
func WithLedger(l *ledger.SQL) Option {
	return func(g *Game) {
		g.Ledger = l
		g.Econ = l
	}
}

// WithMetrics exports metrics through m.
func WithMetrics(m *Metrics) Option {
	return func(g *Game) { g.Metrics = m }
}

// NewGame builds a Game over db. A nil conf means DefaultGameConf.
func NewGame(db *gamedb.Database, conf *GameConf, opts ...Option) *Game {
	if conf == nil {
		conf = DefaultGameConf()
	}
	g := &Game{
		DB:    db,
		Conf:  conf,
		Bus:   events.NewBus(),
		Log:   zap.NewNop(),
		now:   time.Now,
	}
	g.Conns = NewConnManager(g.Bus)
	for _, opt := range opts {
		opt(g)
	}
	if g.Econ == nil {
		g.Econ = ledger.NewMemory(db)
	}
	g.startTime = g.now()
	db.God = gamedb.DBRef(conf.GodDBRef)

	g.Interp = eval.NewInterp(db)
	g.Interp.Now = g.now
	functions.RegisterAll(g.Interp)
	g.registerQueueFunctions()

	g.Locks = boolexp.NewChecker(db, g.Interp, g.Log)
	g.Commands = command.NewRegistry()
	g.registerBuiltins()

	g.Dispatcher = dispatch.New(g.Commands, db, g.Interp, g.Locks, g, g.Log)
	g.Dispatcher.Now = g.now
	g.Dispatcher.Unmatched = g.matchDollar
	g.Dispatcher.OnCommand = func(name string) {
		if g.Metrics != nil {
			g.Metrics.CommandRun(name)
		}
	}

	g.Queue = queue.New(conf.QueueConfig(), db, queue.ExecutorFunc(g.execute), g.Econ,
		queue.WithClock(g.now),
		queue.WithLogger(g.Log),
		queue.WithNotifier(g))

	g.ApplyGameConf(conf)
	return g
}

// Notify sends a line of text to target's connections.
func (g *Game) Notify(target gamedb.DBRef, msg string) {
	g.Bus.EmitToPlayer(target, events.Event{Type: events.EvText, Source: target, Text: msg})
}

func (g *Game) emitRoom(room, except, source gamedb.DBRef, typ events.EventType, msg string) {
	g.Bus.EmitToRoomExcept(g.DB, room, except, events.Event{Type: typ, Source: source, Text: msg})
}

// execute runs one queue entry's command list.
func (g *Game) execute(ctx *eval.Context, cmd string) {
	g.Dispatcher.RunChain(ctx, cmd)
}

// newContext builds a context for player acting on behalf of cause with
// a fresh CPU deadline.
func (g *Game) newContext(player, cause gamedb.DBRef) *eval.Context {
	ctx := eval.NewContext(player, cause)
	if lim := g.Queue.Config().CPULimit; lim > 0 {
		ctx.Deadline = g.now().Add(lim)
	}
	return ctx
}

// HandleInput runs a line typed by a connected player.
func (g *Game) HandleInput(player gamedb.DBRef, line string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.DB.Valid(player) {
		return
	}
	g.busy.Store(true)
	ctx := g.newContext(player, player)
	ctx.Direct = true
	g.Dispatcher.RunChain(ctx, line)
}

// Tick does the scheduler's once-a-second work.
func (g *Game) Tick() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Queue.Tick()
}

// RunQueue executes up to n player-queue entries.
func (g *Game) RunQueue(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Queue.Run(n)
}

// QueueStats returns scheduler counters.
func (g *Game) QueueStats() queue.Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Queue.Stats()
}

// QueueListing returns the entries actor may see.
func (g *Game) QueueListing(actor gamedb.DBRef) queue.Listing {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.DB.SeeQueue(actor) {
		return g.Queue.List(nil)
	}
	return g.Queue.List(func(it *queue.Item) bool { return it.Owner == g.DB.Owner(actor) })
}

// Startup queues the STARTUP attribute of every object that has one.
func (g *Game) Startup() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	refs := make([]gamedb.DBRef, 0)
	for ref, obj := range g.DB.Objects {
		if obj.Attrs[gamedb.AttrStartup] != "" && !obj.IsGoing() {
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })

	n := 0
	for _, ref := range refs {
		text := g.DB.GetAttr(ref, gamedb.AttrStartup)
		if _, err := g.Queue.EnqueueImmediate(g.newContext(ref, ref), text); err != nil {
			g.Log.Warn("startup: not queued", zap.Int("obj", int(ref)), zap.Error(err))
			continue
		}
		n++
	}
	if n > 0 {
		g.Log.Info("startup: queued STARTUP attributes", zap.Int("count", n))
	}
	return n
}

// Save checkpoints the world to the bolt store, if there is one.
func (g *Game) Save() error {
	if g.Store == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	n, err := g.Store.Checkpoint()
	if err != nil {
		g.Log.Error("save failed", zap.Error(err))
		return err
	}
	g.Log.Debug("saved", zap.Int("objects", n))
	return nil
}

// Close saves and releases the store and ledger.
func (g *Game) Close() error {
	var first error
	if err := g.Save(); err != nil {
		first = err
	}
	if g.Store != nil {
		if err := g.Store.Close(); err != nil && first == nil {
			first = err
		}
	}
	if g.Ledger != nil {
		if err := g.Ledger.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// matchDollar offers unmatched input to $-commands on the actor, the
// things it carries, its location and its neighbours, then the master
// room. Each object whose pattern matches gets the action queued.
func (g *Game) matchDollar(ctx *eval.Context, residual string) bool {
	actor := ctx.Player
	seen := make(map[gamedb.DBRef]bool)
	var candidates []gamedb.DBRef
	add := func(refs ...gamedb.DBRef) {
		for _, r := range refs {
			if r != gamedb.Nothing && !seen[r] {
				seen[r] = true
				candidates = append(candidates, r)
			}
		}
	}
	add(actor)
	add(g.DB.Contents(actor)...)
	if loc := g.DB.Location(actor); loc != gamedb.Nothing {
		add(loc)
		add(g.DB.Contents(loc)...)
	}

	if g.runDollars(ctx, candidates, residual) {
		return true
	}
	master := g.MasterRoomRef()
	if !g.DB.Valid(master) || seen[master] {
		return false
	}
	return g.runDollars(ctx, append([]gamedb.DBRef{master}, g.DB.Contents(master)...), residual)
}

func (g *Game) runDollars(ctx *eval.Context, objs []gamedb.DBRef, text string) bool {
	matched := false
	for _, obj := range objs {
		if !g.DB.Valid(obj) || g.DB.HasFlagName(obj, "HALT") {
			continue
		}
		for _, name := range g.DB.AttrNames(obj) {
			pattern, action, ok := dollarAttr(g.DB.GetAttr(obj, name))
			if !ok {
				continue
			}
			caps := eval.WildMatchCapture(pattern, text)
			if caps == nil {
				continue
			}
			qctx := g.newContext(obj, ctx.Player)
			qctx.RealCause = ctx.RealCause
			qctx.Args = caps
			if _, err := g.Queue.EnqueueImmediate(qctx, action); err != nil {
				g.Log.Debug("dollar: not queued", zap.Int("obj", int(obj)), zap.Error(err))
			}
			matched = true
		}
	}
	return matched
}

// dollarAttr splits "$pattern:action", honouring \: inside the pattern.
func dollarAttr(text string) (pattern, action string, ok bool) {
	if !strings.HasPrefix(text, "$") {
		return "", "", false
	}
	for i := 1; i < len(text); i++ {
		switch text[i] {
		case '\\':
			i++
		case ':':
			return strings.ReplaceAll(text[1:i], `\:`, ":"), text[i+1:], true
		}
	}
	return "", "", false
}
