package queue

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystal-mush/mushcore/pkg/eval"
	"github.com/crystal-mush/mushcore/pkg/gamedb"
	"github.com/crystal-mush/mushcore/pkg/ledger"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type ran struct {
	player gamedb.DBRef
	cmd    string
	at     time.Time
}

type fixture struct {
	s     *Scheduler
	db    *gamedb.Database
	clk   *clock
	start time.Time
	ran   []ran
	notes []string
	onRun func(ctx *eval.Context, cmd string)
}

const (
	god    gamedb.DBRef = 1
	wiz    gamedb.DBRef = 2
	bob    gamedb.DBRef = 3
	alice  gamedb.DBRef = 4
	widget gamedb.DBRef = 5 // Bob's
	gizmo  gamedb.DBRef = 6 // Alice's
)

func newFixture(t *testing.T, tweak func(*Config)) *fixture {
	t.Helper()
	db := gamedb.NewDatabase()
	db.Create("Limbo", gamedb.TypeRoom, god, gamedb.Nothing)
	db.Create("God", gamedb.TypePlayer, gamedb.Nothing, 0)
	w := db.Create("Wiz", gamedb.TypePlayer, gamedb.Nothing, 0)
	w.Flags[0] |= gamedb.FlagWizard
	db.Create("Bob", gamedb.TypePlayer, gamedb.Nothing, 0).Pennies = 1000
	db.Create("Alice", gamedb.TypePlayer, gamedb.Nothing, 0).Pennies = 1000
	db.Create("widget", gamedb.TypeThing, bob, bob)
	db.Create("gizmo", gamedb.TypeThing, alice, alice)

	f := &fixture{db: db, clk: &clock{t: time.Unix(1_000_000, 0)}}
	f.start = f.clk.t

	cfg := DefaultConfig()
	if tweak != nil {
		tweak(&cfg)
	}
	exec := ExecutorFunc(func(ctx *eval.Context, cmd string) {
		f.ran = append(f.ran, ran{player: ctx.Player, cmd: cmd, at: f.clk.now()})
		if f.onRun != nil {
			f.onRun(ctx, cmd)
		}
	})
	notifier := notifyFunc(func(target gamedb.DBRef, msg string) {
		f.notes = append(f.notes, fmt.Sprintf("#%d %s", target, msg))
	})
	f.s = New(cfg, db, exec, ledger.NewMemory(db),
		WithClock(f.clk.now),
		WithRand(func(int) int { return 1 }),
		WithNotifier(notifier))
	return f
}

type notifyFunc func(target gamedb.DBRef, msg string)

func (n notifyFunc) Notify(target gamedb.DBRef, msg string) { n(target, msg) }

func ctxFor(player, cause gamedb.DBRef) *eval.Context {
	return eval.NewContext(player, cause)
}

// step advances one second, ticks and runs everything runnable.
func (f *fixture) step() {
	f.clk.advance(time.Second)
	f.s.Tick()
	f.s.Run(1000)
}

func (f *fixture) commands() []string {
	out := make([]string, 0, len(f.ran))
	for _, r := range f.ran {
		out = append(out, r.cmd)
	}
	return out
}

func (f *fixture) pennies(ref gamedb.DBRef) int {
	obj, _ := f.db.Get(ref)
	return obj.Pennies
}

func TestDelayedRunsOnceNotBefore(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.s.EnqueueDelayed(ctxFor(widget, bob), "think hi", 5*time.Second)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		f.step()
	}
	assert.Empty(t, f.ran)
	for i := 0; i < 6; i++ {
		f.step()
	}
	require.Len(t, f.ran, 1)
	assert.False(t, f.ran[0].at.Before(f.start.Add(5*time.Second)))
	assert.Equal(t, widget, f.ran[0].player)
	assert.Equal(t, 1000, f.pennies(bob))
	assert.Zero(t, f.s.Stats().PIDsInUse)
}

func TestNegativeAndZeroDelay(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.s.EnqueueDelayed(ctxFor(widget, bob), "x", -time.Second)
	assert.ErrorIs(t, err, ErrNegativeDelay)

	_, err = f.s.EnqueueDelayed(ctxFor(widget, bob), "now", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, f.s.Stats().Player)
}

func TestQueueSelection(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.s.EnqueueImmediate(ctxFor(widget, bob), "from player")
	require.NoError(t, err)
	_, err = f.s.EnqueueImmediate(ctxFor(widget, widget), "from object")
	require.NoError(t, err)

	st := f.s.Stats()
	assert.Equal(t, 1, st.Player)
	assert.Equal(t, 1, st.Object)

	f.s.Run(10)
	assert.Equal(t, []string{"from player"}, f.commands())
	f.step()
	assert.Equal(t, []string{"from player", "from object"}, f.commands())
}

func TestWaitOrderStableForTies(t *testing.T) {
	f := newFixture(t, nil)
	c := ctxFor(widget, bob)

	for _, cmd := range []string{"a", "b", "c"} {
		_, err := f.s.EnqueueDelayed(c, cmd, 2*time.Second)
		require.NoError(t, err)
	}
	_, err := f.s.EnqueueDelayed(c, "z", time.Second)
	require.NoError(t, err)

	f.step()
	f.step()
	assert.Equal(t, []string{"z", "a", "b", "c"}, f.commands())
}

func TestSemaphoreNthNotify(t *testing.T) {
	f := newFixture(t, nil)
	c := ctxFor(widget, bob)

	for _, cmd := range []string{"a", "b", "c"} {
		_, err := f.s.EnqueueSemaphore(c, cmd, widget, "", 0)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, f.s.Counter(widget, ""))

	for i, want := range [][]string{{"a"}, {"a", "b"}, {"a", "b", "c"}} {
		assert.Equal(t, 1, f.s.DrainOrNotify(widget, "", 1, false, false), "notify %d", i+1)
		f.step()
		assert.Equal(t, want, f.commands())
	}
	assert.Zero(t, f.s.Counter(widget, ""))
	assert.Empty(t, f.db.GetAttr(widget, DefaultSemAttr))

	// Later ticks never run them again.
	f.step()
	f.step()
	assert.Len(t, f.ran, 3)
}

func TestSemaphoreNotifyBeforeWait(t *testing.T) {
	f := newFixture(t, nil)

	assert.Zero(t, f.s.DrainOrNotify(widget, "gate", 1, false, false))
	assert.Equal(t, -1, f.s.Counter(widget, "GATE"))

	_, err := f.s.EnqueueSemaphore(ctxFor(widget, bob), "go", widget, "gate", 0)
	require.NoError(t, err)
	assert.Zero(t, f.s.Counter(widget, "gate"))
	assert.Zero(t, f.s.Stats().Sem)

	f.s.Run(10)
	assert.Equal(t, []string{"go"}, f.commands())
}

func TestSemaphoreTimeout(t *testing.T) {
	f := newFixture(t, nil)

	pid, err := f.s.EnqueueSemaphore(ctxFor(widget, bob), "late", widget, "", 3*time.Second)
	require.NoError(t, err)
	rem, err := f.s.QueryRemaining(bob, pid)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, rem)

	f.step()
	f.step()
	assert.Empty(t, f.ran)
	f.step()
	assert.Equal(t, []string{"late"}, f.commands())
	assert.Zero(t, f.s.Counter(widget, ""))

	f.s.DrainOrNotify(widget, "", 1, false, false)
	f.step()
	assert.Len(t, f.ran, 1, "a timed-out entry does not run again on notify")
}

func TestSemaphoreNotifyAll(t *testing.T) {
	f := newFixture(t, nil)
	c := ctxFor(widget, bob)
	for _, cmd := range []string{"a", "b"} {
		_, err := f.s.EnqueueSemaphore(c, cmd, widget, "", 0)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, f.s.DrainOrNotify(widget, "", 0, true, false))
	assert.Zero(t, f.s.Counter(widget, ""))
	f.step()
	assert.Equal(t, []string{"a", "b"}, f.commands())
}

func TestDrainDiscardsOnce(t *testing.T) {
	f := newFixture(t, nil)
	c := ctxFor(widget, bob)
	for _, cmd := range []string{"a", "b"} {
		_, err := f.s.EnqueueSemaphore(c, cmd, widget, "", 0)
		require.NoError(t, err)
	}
	assert.Equal(t, 980, f.pennies(bob))

	assert.Equal(t, 2, f.s.DrainOrNotify(widget, "", 0, false, true))
	assert.Zero(t, f.s.Counter(widget, ""))
	assert.Equal(t, 1000, f.pennies(bob))
	assert.Zero(t, f.s.Stats().PIDsInUse)
	assert.Zero(t, f.s.Depth(bob))

	assert.Zero(t, f.s.DrainOrNotify(widget, "", 0, false, true), "second drain finds nothing")
	f.s.DrainOrNotify(widget, "", 5, false, false)
	f.step()
	assert.Empty(t, f.ran)
}

func TestPIDsUniqueAndReused(t *testing.T) {
	f := newFixture(t, nil)
	c := ctxFor(widget, bob)

	seen := map[int]bool{}
	for i := 0; i < 3; i++ {
		pid, err := f.s.EnqueueImmediate(c, "x")
		require.NoError(t, err)
		assert.False(t, seen[pid], "pid %d handed out twice", pid)
		seen[pid] = true
	}
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true}, seen)

	f.s.Run(10)
	assert.Zero(t, f.s.Stats().PIDsInUse)

	pid, err := f.s.EnqueueImmediate(c, "y")
	require.NoError(t, err)
	assert.True(t, seen[pid], "freed pids are reused")
}

func TestPIDExhaustion(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.MaxPIDs = 2 })
	c := ctxFor(widget, bob)

	for i := 0; i < 2; i++ {
		_, err := f.s.EnqueueImmediate(c, "x")
		require.NoError(t, err)
	}
	_, err := f.s.EnqueueImmediate(c, "x")
	assert.ErrorIs(t, err, ErrNoFreePID)
	assert.Equal(t, 2, f.s.Depth(bob))
	assert.Equal(t, 980, f.pennies(bob), "refused entry is refunded")
	assert.EqualValues(t, 1, f.s.Stats().NoPID)
}

func TestHaltTouchesOnlyTarget(t *testing.T) {
	f := newFixture(t, nil)

	for _, p := range []gamedb.DBRef{widget, widget, bob} {
		_, err := f.s.EnqueueImmediate(ctxFor(p, bob), "bob's")
		require.NoError(t, err)
	}
	_, err := f.s.EnqueueDelayed(ctxFor(widget, bob), "bob's later", time.Second)
	require.NoError(t, err)
	_, err = f.s.EnqueueImmediate(ctxFor(gizmo, alice), "alice's")
	require.NoError(t, err)

	assert.Equal(t, 3, f.s.Halt(widget), "object halt stops only that object")
	assert.Equal(t, 1, f.s.Depth(bob))

	assert.Equal(t, 1, f.s.Halt(bob), "player halt stops everything owned")
	assert.Zero(t, f.s.Depth(bob))
	assert.Equal(t, 1000, f.pennies(bob))
	assert.Equal(t, 1, f.s.Depth(alice))
	assert.Equal(t, 990, f.pennies(alice))

	f.step()
	f.step()
	assert.Equal(t, []string{"alice's"}, f.commands())
	assert.Equal(t, 1000, f.pennies(alice))
}

func TestHaltAll(t *testing.T) {
	f := newFixture(t, nil)
	_, _ = f.s.EnqueueImmediate(ctxFor(widget, bob), "a")
	_, _ = f.s.EnqueueSemaphore(ctxFor(gizmo, alice), "b", gizmo, "", 0)

	assert.Equal(t, 2, f.s.HaltAll())
	assert.Zero(t, f.s.Counter(gizmo, ""))
	assert.Zero(t, f.s.List(nil).Total())
}

func TestRunawayHaltsEntity(t *testing.T) {
	f := newFixture(t, nil)
	f.db.SetAttr(bob, "QUEUEMAX", "2")
	c := ctxFor(widget, bob)

	_, err := f.s.EnqueueImmediate(ctxFor(bob, bob), "mine")
	require.NoError(t, err)
	_, err = f.s.EnqueueImmediate(c, "x")
	require.NoError(t, err)
	_, err = f.s.EnqueueImmediate(c, "x")
	assert.ErrorIs(t, err, ErrRunaway)

	assert.True(t, f.db.HasFlagName(widget, "HALT"), "the runaway itself is halted")
	assert.False(t, f.db.HasFlagName(bob, "HALT"))
	assert.Zero(t, f.s.List(nil).Total(), "everything the owner queued is gone")
	assert.Zero(t, f.s.Depth(bob))
	assert.Equal(t, 1000, f.pennies(bob))
	assert.Equal(t, []string{"#3 " + MsgRunaway}, f.notes)

	_, err = f.s.EnqueueImmediate(c, "x")
	assert.ErrorIs(t, err, ErrHalted)

	_, err = f.s.EnqueueImmediate(ctxFor(bob, bob), "still here")
	require.NoError(t, err, "the owner can queue again")
	f.s.Run(10)
	assert.Equal(t, []string{"still here"}, f.commands())
}

func TestSelfRequeueEndsHalted(t *testing.T) {
	f := newFixture(t, nil)
	f.db.SetAttr(bob, "QUEUEMAX", "5")
	f.onRun = func(ctx *eval.Context, cmd string) {
		for i := 0; i < 2; i++ {
			if _, err := f.s.EnqueueImmediate(ctx, cmd); err != nil {
				return
			}
		}
	}

	_, err := f.s.EnqueueImmediate(ctxFor(widget, widget), "bomb")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		f.step()
	}

	assert.True(t, f.db.HasFlagName(widget, "HALT"))
	assert.False(t, f.db.HasFlagName(bob, "HALT"))
	assert.Zero(t, f.s.List(nil).Total(), "nothing pending")
	assert.Zero(t, f.s.Depth(bob))
	assert.Zero(t, f.s.Stats().PIDsInUse)
	assert.Equal(t, 1000, f.pennies(bob))
	assert.EqualValues(t, 1, f.s.Stats().Runaways)
}

func TestWizardQuotaAndCharges(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.QueueMax = 1 })

	for i := 0; i < 3; i++ {
		_, err := f.s.EnqueueImmediate(ctxFor(wiz, wiz), "w")
		require.NoError(t, err, "wizards get the wizard quota")
	}
	assert.Zero(t, f.pennies(wiz), "wizards are not charged")

	_, err := f.s.EnqueueImmediate(ctxFor(bob, bob), "b")
	require.NoError(t, err)
	assert.Equal(t, 990, f.pennies(bob))
	f.s.Run(10)
	assert.Equal(t, 1000, f.pennies(bob))
}

func TestLostMachineUnit(t *testing.T) {
	f := newFixture(t, nil)
	f.s.intn = func(int) int { return 0 }

	_, err := f.s.EnqueueImmediate(ctxFor(bob, bob), "b")
	require.NoError(t, err)
	assert.Equal(t, 989, f.pennies(bob))
	f.s.Run(1)
	assert.Equal(t, 999, f.pennies(bob), "the extra unit is not refunded")
}

func TestNoFunds(t *testing.T) {
	f := newFixture(t, nil)
	obj, _ := f.db.Get(alice)
	obj.Pennies = 5

	_, err := f.s.EnqueueImmediate(ctxFor(gizmo, alice), "x")
	assert.ErrorIs(t, err, ErrNoFunds)
	assert.Equal(t, []string{"#4 " + MsgNoFunds}, f.notes)
	assert.Zero(t, f.s.Depth(alice))
}

func TestHaltedObjectsDoNotRun(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.s.EnqueueImmediate(ctxFor(widget, bob), "x")
	require.NoError(t, err)
	f.db.SetFlag(widget, "HALT", true)

	_, err = f.s.EnqueueImmediate(ctxFor(widget, bob), "y")
	assert.ErrorIs(t, err, ErrHalted)

	f.s.Run(10)
	assert.Empty(t, f.ran)
	assert.EqualValues(t, 1, f.s.Stats().Dropped)
	assert.Equal(t, 1000, f.pennies(bob))

	_, err = f.s.EnqueueImmediate(ctxFor(gamedb.DBRef(99), bob), "z")
	assert.ErrorIs(t, err, ErrInvalidActor)
}

func TestPemitAfterDelay(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.s.EnqueueDelayed(ctxFor(bob, bob), "@pemit Alice=hi", 5*time.Second)
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		f.step()
	}
	require.Equal(t, []string{"@pemit Alice=hi"}, f.commands())
	assert.Equal(t, f.start.Add(5*time.Second), f.ran[0].at)
	assert.Equal(t, bob, f.ran[0].player)
}

func TestFreezeKeepsRemainingTime(t *testing.T) {
	f := newFixture(t, nil)

	pid, err := f.s.EnqueueDelayed(ctxFor(widget, bob), "later", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, f.s.Freeze(bob, pid))

	for i := 0; i < 10; i++ {
		f.step()
	}
	assert.Empty(t, f.ran)

	require.NoError(t, f.s.Continue(bob, pid))
	rem, err := f.s.QueryRemaining(bob, pid)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, rem, 3*time.Second)

	for i := 0; i < 3; i++ {
		f.step()
	}
	assert.Empty(t, f.ran)
	for i := 0; i < 5; i++ {
		f.step()
	}
	assert.Equal(t, []string{"later"}, f.commands())
}

func TestFrozenPlayerEntryKeepsPlace(t *testing.T) {
	f := newFixture(t, nil)
	c := ctxFor(bob, bob)

	x, err := f.s.EnqueueImmediate(c, "x")
	require.NoError(t, err)
	_, err = f.s.EnqueueImmediate(c, "y")
	require.NoError(t, err)
	require.NoError(t, f.s.Freeze(bob, x))

	assert.Equal(t, 1, f.s.Run(10))
	assert.Equal(t, []string{"y"}, f.commands())
	assert.Zero(t, f.s.Run(10))

	require.NoError(t, f.s.Continue(bob, x))
	f.s.Run(10)
	assert.Equal(t, []string{"y", "x"}, f.commands())
}

func TestHaltDuringRunReachesFrozenEntry(t *testing.T) {
	f := newFixture(t, nil)
	c := ctxFor(bob, bob)

	x, err := f.s.EnqueueImmediate(c, "x")
	require.NoError(t, err)
	require.NoError(t, f.s.Freeze(bob, x))
	_, err = f.s.EnqueueImmediate(c, "halter")
	require.NoError(t, err)

	var seen, removed int
	f.onRun = func(ctx *eval.Context, cmd string) {
		if cmd == "halter" {
			seen = f.s.List(nil).Total()
			removed = f.s.Halt(bob)
		}
	}
	assert.Equal(t, 1, f.s.Run(10))
	assert.Equal(t, 1, seen, "the frozen entry is listed mid-run")
	assert.Equal(t, 1, removed)
	assert.Zero(t, f.s.Depth(bob))
	assert.Zero(t, f.s.Stats().PIDsInUse)
	assert.Zero(t, f.s.List(nil).Total())
	assert.Equal(t, 1000, f.pennies(bob))

	assert.ErrorIs(t, f.s.Continue(bob, x), ErrNoSuchPID)
	assert.Zero(t, f.s.Run(10))
	assert.Equal(t, []string{"halter"}, f.commands())
	assert.Zero(t, f.s.Stats().Player)
}

func TestDroppedEntriesDoNotUseRunBudget(t *testing.T) {
	f := newFixture(t, nil)
	c := ctxFor(bob, bob)

	var pids []int
	for _, cmd := range []string{"a", "b", "c", "d"} {
		pid, err := f.s.EnqueueImmediate(c, cmd)
		require.NoError(t, err)
		pids = append(pids, pid)
	}
	require.NoError(t, f.s.Kill(bob, pids[0]))
	require.NoError(t, f.s.Kill(bob, pids[1]))

	assert.Equal(t, 1, f.s.Run(1))
	assert.Equal(t, []string{"c"}, f.commands())
	assert.EqualValues(t, 2, f.s.Stats().Dropped)
	assert.Equal(t, 1, f.s.Stats().Player)
}

func TestObjectCausedWakeUpsPassObjectQueue(t *testing.T) {
	f := newFixture(t, nil)
	c := ctxFor(widget, widget)

	_, err := f.s.EnqueueDelayed(c, "w", time.Second)
	require.NoError(t, err)
	f.clk.advance(time.Second)
	f.s.Tick()
	st := f.s.Stats()
	assert.Equal(t, 1, st.Object)
	assert.Zero(t, st.Player)
	assert.Zero(t, f.s.Run(10), "not runnable until the next tick")

	_, err = f.s.EnqueueSemaphore(c, "s", widget, "", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, f.s.DrainOrNotify(widget, "", 1, false, false))
	assert.Equal(t, 2, f.s.Stats().Object)

	f.step()
	assert.Equal(t, []string{"w", "s"}, f.commands())

	_, err = f.s.EnqueueSemaphore(ctxFor(widget, bob), "p", widget, "", 0)
	require.NoError(t, err)
	f.s.DrainOrNotify(widget, "", 1, false, false)
	assert.Equal(t, 1, f.s.Stats().Player, "player-caused wake-ups skip the object queue")
}

func TestNotifySkipsFrozenWaiter(t *testing.T) {
	f := newFixture(t, nil)
	c := ctxFor(widget, bob)

	a, err := f.s.EnqueueSemaphore(c, "a", widget, "", 5*time.Second)
	require.NoError(t, err)
	_, err = f.s.EnqueueSemaphore(c, "b", widget, "", 0)
	require.NoError(t, err)
	require.NoError(t, f.s.Freeze(bob, a))

	assert.Equal(t, 1, f.s.DrainOrNotify(widget, "", 1, false, false))
	assert.Equal(t, 1, f.s.Counter(widget, ""), "the counter matches the waiters left")
	f.step()
	assert.Equal(t, []string{"b"}, f.commands())

	require.NoError(t, f.s.Continue(bob, a))
	for i := 0; i < 3; i++ {
		f.step()
	}
	assert.Equal(t, []string{"b"}, f.commands(), "a thawed waiter is not woken by the old notify")
	for i := 0; i < 5; i++ {
		f.step()
	}
	assert.Equal(t, []string{"b", "a"}, f.commands(), "it runs on its timeout")
	assert.Zero(t, f.s.Counter(widget, ""))
	assert.Zero(t, f.s.Stats().PIDsInUse)
}

func TestRetime(t *testing.T) {
	f := newFixture(t, nil)

	pid, err := f.s.EnqueueDelayed(ctxFor(widget, bob), "soon", 10*time.Second)
	require.NoError(t, err)
	require.NoError(t, f.s.Retime(bob, pid, 2*time.Second))

	rem, err := f.s.QueryRemaining(bob, pid)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, rem)

	f.step()
	assert.Empty(t, f.ran)
	f.step()
	assert.Equal(t, []string{"soon"}, f.commands())

	now, err := f.s.EnqueueImmediate(ctxFor(bob, bob), "now")
	require.NoError(t, err)
	assert.ErrorIs(t, f.s.Retime(bob, now, time.Second), ErrNotTimed)
	assert.ErrorIs(t, f.s.Retime(bob, now, -time.Second), ErrNegativeDelay)
	_, err = f.s.QueryRemaining(bob, now)
	assert.ErrorIs(t, err, ErrNotTimed)
}

func TestKill(t *testing.T) {
	f := newFixture(t, nil)

	pid, err := f.s.EnqueueImmediate(ctxFor(bob, bob), "doomed")
	require.NoError(t, err)
	require.NoError(t, f.s.Kill(bob, pid))
	assert.Zero(t, f.s.List(nil).Total())
	assert.Equal(t, 1000, f.pennies(bob))

	f.s.Run(10)
	assert.Empty(t, f.ran)

	sem, err := f.s.EnqueueSemaphore(ctxFor(widget, bob), "waiting", widget, "", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, f.s.Counter(widget, ""))
	require.NoError(t, f.s.Kill(bob, sem))
	assert.Zero(t, f.s.Counter(widget, ""))
	assert.Zero(t, f.s.Stats().Sem)

	assert.ErrorIs(t, f.s.Kill(bob, sem), ErrNoSuchPID)
}

func TestSignalErrors(t *testing.T) {
	f := newFixture(t, nil)

	pid, err := f.s.EnqueueDelayed(ctxFor(widget, bob), "x", 5*time.Second)
	require.NoError(t, err)

	err = f.s.Freeze(alice, pid)
	assert.ErrorIs(t, err, ErrPermission)
	assert.Equal(t, CodePermission, SignalCode(err))
	assert.Equal(t, "#-1 PERMISSION DENIED", SignalString(SignalCode(err)))

	err = f.s.Freeze(bob, 999)
	assert.Equal(t, "#-1 NO SUCH PID", SignalString(SignalCode(err)))
	err = f.s.Freeze(bob, 0)
	assert.ErrorIs(t, err, ErrNoSuchPID)

	err = f.s.Signal(bob, pid, "explode", 0)
	assert.Equal(t, "#-1 INVALID SIGNAL", SignalString(SignalCode(err)))

	assert.NoError(t, f.s.Signal(wiz, pid, "freeze", 0), "wizards can halt anything")
	assert.NoError(t, f.s.Signal(bob, pid, "thaw", 0))
	assert.NoError(t, f.s.Signal(bob, pid, "kill", 0))
	assert.Zero(t, SignalCode(nil))
}

func TestCPUOverrunFreesEntry(t *testing.T) {
	f := newFixture(t, nil)
	f.onRun = func(ctx *eval.Context, _ string) {
		f.clk.advance(time.Second)
		ctx.CheckDeadline(f.clk.now())
	}

	_, err := f.s.EnqueueImmediate(ctxFor(bob, bob), "slow")
	require.NoError(t, err)
	f.s.Run(1)

	st := f.s.Stats()
	assert.EqualValues(t, 1, st.CPUAborts)
	assert.EqualValues(t, 1, st.Executed)
	assert.Zero(t, st.PIDsInUse)
	assert.Equal(t, 1000, f.pennies(bob))
}

func TestPanicIsRecovered(t *testing.T) {
	f := newFixture(t, nil)
	f.onRun = func(_ *eval.Context, cmd string) {
		if cmd == "boom" {
			panic("kaboom")
		}
	}

	c := ctxFor(bob, bob)
	_, _ = f.s.EnqueueImmediate(c, "boom")
	_, _ = f.s.EnqueueImmediate(c, "fine")
	assert.Equal(t, 2, f.s.Run(10))
	assert.Equal(t, []string{"boom", "fine"}, f.commands())
	assert.EqualValues(t, 1, f.s.Stats().Panics)
}

func TestEntryContextIsolated(t *testing.T) {
	f := newFixture(t, nil)
	c := ctxFor(widget, bob)
	c.Args = []string{"zero", "one"}
	c.Regs.Set("a", "kept")
	c.Literal = true

	var got *eval.Context
	f.onRun = func(ctx *eval.Context, _ string) { got = ctx }

	_, err := f.s.EnqueueImmediate(c, "x")
	require.NoError(t, err)
	c.Args[0] = "changed"
	c.Regs.Set("a", "changed")

	f.s.Run(1)
	require.NotNil(t, got)
	assert.Equal(t, "zero", got.Arg(0))
	assert.Equal(t, "kept", got.Regs.Get("a"))
	assert.Equal(t, bob, got.Cause)
	assert.True(t, got.Literal)
	assert.False(t, got.Deadline.IsZero())
}

func TestListing(t *testing.T) {
	f := newFixture(t, nil)

	_, _ = f.s.EnqueueImmediate(ctxFor(bob, bob), "now")
	wait, _ := f.s.EnqueueDelayed(ctxFor(widget, bob), "later", 5*time.Second)
	_, _ = f.s.EnqueueSemaphore(ctxFor(widget, bob), "gated", widget, "", 0)
	_, _ = f.s.EnqueueImmediate(ctxFor(gizmo, alice), "hers")
	require.NoError(t, f.s.Freeze(bob, wait))

	all := f.s.List(nil)
	assert.Equal(t, 4, all.Total())
	assert.Len(t, all[KindPlayer], 2)
	require.Len(t, all[KindWait], 1)
	w := all[KindWait][0]
	assert.True(t, w.Frozen())
	assert.True(t, w.Timed)
	assert.Equal(t, 5*time.Second, w.Remaining)
	require.Len(t, all[KindSem], 1)
	assert.False(t, all[KindSem][0].Timed)
	assert.Equal(t, DefaultSemAttr, all[KindSem][0].SemAttr)

	mine := f.s.List(func(it *Item) bool { return it.Owner == bob })
	assert.Equal(t, 3, mine.Total())

	info, err := f.s.PIDInfo(bob, wait)
	require.NoError(t, err)
	assert.Equal(t, "later", info.Command)
	_, err = f.s.PIDInfo(alice, wait)
	assert.ErrorIs(t, err, ErrPermission)
}

func TestKindAndStateNames(t *testing.T) {
	assert.Equal(t, "Semaphore", KindSem.String())
	assert.Equal(t, "frozen", StateFrozen.String())
}
