package server

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crystal-mush/mushcore/pkg/command"
	"github.com/crystal-mush/mushcore/pkg/dispatch"
	"github.com/crystal-mush/mushcore/pkg/eval"
	"github.com/crystal-mush/mushcore/pkg/gamedb"
	"github.com/crystal-mush/mushcore/pkg/queue"
)

func (g *Game) registerQueueCommands(reg func(*command.Command), h func(func(*command.Invocation)) command.Handler) {
	reg(&command.Command{Name: "@wait", Flags: command.TwoArgs | command.NoEvalRight, Switches: []string{"PID"}, Handler: h(g.cmdWait)})
	reg(&command.Command{Name: "@notify", Flags: command.TwoArgs, Switches: []string{"ALL", "ANY"}, Handler: h(g.cmdNotify)})
	reg(&command.Command{Name: "@drain", Handler: h(g.cmdDrain)})
	reg(&command.Command{Name: "@halt", Flags: command.TwoArgs | command.NoEvalRight, Switches: []string{"ALL", "PID"}, Handler: h(g.cmdHalt)})
	reg(&command.Command{Name: "@freeze", Handler: h(g.cmdFreeze)})
	reg(&command.Command{Name: "@thaw", Handler: h(g.cmdThaw)})
	reg(&command.Command{Name: "@ps", Switches: []string{"ALL", "SUMMARY"}, Handler: h(g.cmdPs)})
	reg(&command.Command{Name: dispatch.CmdForce, Perms: command.PermNoGuest, Flags: command.TwoArgs | command.NoEvalRight, Handler: h(g.cmdForce)})
	reg(&command.Command{Name: "@trigger", Flags: command.TwoArgs | command.ArgvRight, Handler: h(g.cmdTrigger)})
	reg(&command.Command{Name: "@include", Flags: command.TwoArgs | command.ArgvRight, Handler: h(g.cmdInclude)})
	reg(&command.Command{Name: "@break", Handler: h(g.cmdBreak)})
}

// parseSeconds reads a possibly fractional number of seconds.
func parseSeconds(s string) (time.Duration, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("seconds %q out of range", s)
	}
	return time.Duration(f * float64(time.Second)), nil
}

// queueError tells actor why an enqueue failed. Funds and runaway
// failures were already reported by the scheduler.
func (g *Game) queueError(actor gamedb.DBRef, err error) {
	switch {
	case err == nil:
	case errors.Is(err, queue.ErrNoFunds), errors.Is(err, queue.ErrRunaway):
	case errors.Is(err, queue.ErrHalted):
		g.Log.Debug("QUEUE: halted object, command dropped", zap.Int("player", int(actor)), zap.Error(err))
	case errors.Is(err, queue.ErrNegativeDelay):
		g.Notify(actor, "Invalid delay.")
	case errors.Is(err, queue.ErrNoFreePID):
		g.Notify(actor, "Could not queue command: no free process ids.")
	default:
		g.Notify(actor, msgNoMatch)
	}
}

// signalError tells actor why a signal failed.
func (g *Game) signalError(actor gamedb.DBRef, err error) {
	switch {
	case errors.Is(err, queue.ErrPermission):
		g.Notify(actor, dispatch.MsgPermission)
	case errors.Is(err, queue.ErrNotTimed):
		g.Notify(actor, "That entry is not waiting.")
	case errors.Is(err, queue.ErrNegativeDelay):
		g.Notify(actor, "Invalid delay.")
	default:
		g.Notify(actor, "No such process.")
	}
}

func (g *Game) parsePID(actor gamedb.DBRef, s string) (int, bool) {
	pid, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || pid < 1 {
		g.Notify(actor, "That is not a valid process id.")
		return 0, false
	}
	return pid, true
}

// cmdWait handles
//
//	@wait <secs>=<cmd>
//	@wait <obj>[/<attr>]=<cmd>
//	@wait <obj>/<secs>=<cmd>
//	@wait <obj>/<attr>/<secs>=<cmd>
//	@wait/pid <pid>=[+|-]<secs>
func (g *Game) cmdWait(inv *command.Invocation) {
	ctx := inv.Ctx
	actor := ctx.Player
	if inv.Has("PID") {
		g.retime(actor, inv.Left, inv.Right)
		return
	}
	if !inv.HasEquals || strings.TrimSpace(inv.Right) == "" {
		g.Notify(actor, "What do you want to wait for?")
		return
	}
	qctx := ctx.Clone()
	left := strings.TrimSpace(inv.Left)

	if delay, err := parseSeconds(left); err == nil {
		_, err := g.Queue.EnqueueDelayed(qctx, inv.Right, delay)
		g.queueError(actor, err)
		return
	}

	parts := strings.Split(left, "/")
	sem, ok := g.locate(ctx, parts[0])
	if !ok {
		return
	}
	var attr string
	var timeout time.Duration
	switch len(parts) {
	case 1:
	case 2:
		if d, err := parseSeconds(parts[1]); err == nil {
			timeout = d
		} else {
			attr = parts[1]
		}
	case 3:
		attr = parts[1]
		d, err := parseSeconds(parts[2])
		if err != nil {
			g.Notify(actor, "Invalid timeout.")
			return
		}
		timeout = d
	default:
		g.Notify(actor, "Invalid semaphore.")
		return
	}
	if !g.DB.Controls(actor, sem) {
		g.Notify(actor, dispatch.MsgPermission)
		return
	}
	if attr != "" && !strings.EqualFold(attr, queue.DefaultSemAttr) && !g.DB.CanSetAttr(actor, sem, strings.ToUpper(attr)) {
		g.Notify(actor, dispatch.MsgPermission)
		return
	}
	_, err := g.Queue.EnqueueSemaphore(qctx, inv.Right, sem, attr, timeout)
	g.queueError(actor, err)
}

// retime applies "@wait/pid pid=[+|-]secs".
func (g *Game) retime(actor gamedb.DBRef, pidText, secs string) {
	pid, ok := g.parsePID(actor, pidText)
	if !ok {
		return
	}
	secs = strings.TrimSpace(secs)
	relative := strings.HasPrefix(secs, "+") || strings.HasPrefix(secs, "-")
	delay, err := parseSeconds(secs)
	if err != nil {
		g.Notify(actor, "Invalid delay.")
		return
	}
	if relative {
		left, err := g.Queue.QueryRemaining(actor, pid)
		if err != nil {
			g.signalError(actor, err)
			return
		}
		delay = max(left+delay, 0)
	}
	if err := g.Queue.Retime(actor, pid, delay); err != nil {
		g.signalError(actor, err)
		return
	}
	g.ack(actor, fmt.Sprintf("Adjusted wait time for process %d.", pid))
}

// semTarget parses "<obj>[/<attr>]" and checks control.
func (g *Game) semTarget(ctx *eval.Context, text string) (gamedb.DBRef, string, bool) {
	name, attr, _ := strings.Cut(strings.TrimSpace(text), "/")
	obj, ok := g.controlled(ctx, name)
	if !ok {
		return gamedb.Nothing, "", false
	}
	return obj, strings.ToUpper(strings.TrimSpace(attr)), true
}

func (g *Game) waiting(obj gamedb.DBRef, attr string) int {
	if attr == "" {
		attr = queue.DefaultSemAttr
	}
	l := g.Queue.List(func(it *queue.Item) bool {
		return it.Sem == obj && it.SemAttr == attr && !it.Frozen()
	})
	return len(l[queue.KindSem])
}

// cmdNotify wakes semaphore waiters. /all wakes everyone and clears the
// counter; /any wakes only waiters that exist.
func (g *Game) cmdNotify(inv *command.Invocation) {
	ctx := inv.Ctx
	obj, attr, ok := g.semTarget(ctx, inv.Left)
	if !ok {
		return
	}
	count := 1
	if inv.HasEquals && strings.TrimSpace(inv.Right) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(inv.Right))
		if err != nil || n < 1 {
			g.Notify(ctx.Player, "Invalid count.")
			return
		}
		count = n
	}
	if inv.Has("ANY") && !inv.Has("ALL") {
		count = min(count, g.waiting(obj, attr))
		if count == 0 {
			g.ack(ctx.Player, "Notified.")
			return
		}
	}
	g.Queue.DrainOrNotify(obj, attr, count, inv.Has("ALL"), false)
	g.ack(ctx.Player, "Notified.")
}

func (g *Game) cmdDrain(inv *command.Invocation) {
	ctx := inv.Ctx
	obj, attr, ok := g.semTarget(ctx, inv.Left)
	if !ok {
		return
	}
	n := g.Queue.DrainOrNotify(obj, attr, 0, true, true)
	g.Log.Debug("QUEUE: drained", zap.Int("sem", int(obj)), zap.String("attr", attr), zap.Int("entries", n))
	g.ack(ctx.Player, "Drained.")
}

// cmdHalt stops queued work.
//
//	@halt               everything the actor's owner has queued
//	@halt <obj>         obj's entries; a non-player also gets HALT
//	@halt <obj>=<cmd>   obj's entries, then cmd is queued for it
//	@halt/pid <pid>     one entry
//	@halt/all           every queue (needs the halt power)
func (g *Game) cmdHalt(inv *command.Invocation) {
	ctx := inv.Ctx
	actor := ctx.Player
	switch {
	case inv.Has("ALL"):
		if !g.DB.CanHalt(actor) {
			g.Notify(actor, dispatch.MsgPermission)
			return
		}
		n := g.Queue.HaltAll()
		g.Log.Warn("QUEUE: all queues halted", zap.Int("by", int(actor)), zap.Int("entries", n))
		g.Notify(actor, fmt.Sprintf("Everything halted. %d queue entries removed.", n))
		return
	case inv.Has("PID"):
		pid, ok := g.parsePID(actor, inv.Left)
		if !ok {
			return
		}
		if err := g.Queue.Kill(actor, pid); err != nil {
			g.signalError(actor, err)
			return
		}
		g.ack(actor, fmt.Sprintf("Halted queue entry PID %d.", pid))
		return
	}

	if strings.TrimSpace(inv.Left) == "" {
		n := g.Queue.Halt(g.DB.Owner(actor))
		g.ack(actor, fmt.Sprintf("Halted. %d queue entries removed.", n))
		return
	}
	obj, ok := g.controlled(ctx, inv.Left)
	if !ok {
		return
	}
	n := g.Queue.Halt(obj)
	if inv.HasEquals && strings.TrimSpace(inv.Right) != "" {
		_, err := g.Queue.EnqueueImmediate(g.newContext(obj, actor), inv.Right)
		g.queueError(actor, err)
	} else if g.DB.TypeOf(obj) != gamedb.TypePlayer {
		g.DB.SetFlag(obj, "HALT", true)
	}
	g.ack(actor, fmt.Sprintf("Halted. %d queue entries removed.", n))
}

func (g *Game) cmdFreeze(inv *command.Invocation) {
	actor := inv.Ctx.Player
	pid, ok := g.parsePID(actor, inv.Left)
	if !ok {
		return
	}
	if err := g.Queue.Freeze(actor, pid); err != nil {
		g.signalError(actor, err)
		return
	}
	g.ack(actor, fmt.Sprintf("Process %d frozen.", pid))
}

func (g *Game) cmdThaw(inv *command.Invocation) {
	actor := inv.Ctx.Player
	pid, ok := g.parsePID(actor, inv.Left)
	if !ok {
		return
	}
	if err := g.Queue.Continue(actor, pid); err != nil {
		g.signalError(actor, err)
		return
	}
	g.ack(actor, fmt.Sprintf("Process %d thawed.", pid))
}

// cmdPs lists queue entries: the actor's own, one object's with an
// argument, or everything with /all.
func (g *Game) cmdPs(inv *command.Invocation) {
	ctx := inv.Ctx
	actor := ctx.Player
	var match func(*queue.Item) bool
	switch {
	case inv.Has("ALL"):
		if !g.DB.SeeQueue(actor) {
			g.Notify(actor, dispatch.MsgPermission)
			return
		}
	case strings.TrimSpace(inv.Left) != "":
		obj, ok := g.controlled(ctx, inv.Left)
		if !ok {
			return
		}
		if g.DB.TypeOf(obj) == gamedb.TypePlayer {
			match = func(it *queue.Item) bool { return it.Owner == obj }
		} else {
			match = func(it *queue.Item) bool { return it.Player == obj }
		}
	default:
		owner := g.DB.Owner(actor)
		match = func(it *queue.Item) bool { return it.Owner == owner }
	}

	l := g.Queue.List(match)
	if !inv.Has("SUMMARY") {
		for k := queue.KindPlayer; k <= queue.KindSem; k++ {
			g.Notify(actor, fmt.Sprintf("----- %s Queue -----", k))
			for _, it := range l[k] {
				g.Notify(actor, g.psLine(it))
			}
		}
	}
	st := g.Queue.Stats()
	g.Notify(actor, fmt.Sprintf("Totals: Player...%d/%d  Object...%d/%d  Wait...%d/%d  Semaphore...%d/%d",
		len(l[queue.KindPlayer]), st.Player,
		len(l[queue.KindObject]), st.Object,
		len(l[queue.KindWait]), st.Wait,
		len(l[queue.KindSem]), st.Sem))
}

// psLine renders "[pid]<secs>F(#sem/ATTR) Name(#n): command".
func (g *Game) psLine(it queue.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d]", it.PID)
	if it.Timed {
		fmt.Fprintf(&b, "%d", int(math.Ceil(it.Remaining.Seconds())))
	}
	if it.Frozen() {
		b.WriteByte('F')
	}
	if it.Sem != gamedb.Nothing {
		fmt.Fprintf(&b, "(#%d/%s)", it.Sem, it.SemAttr)
	}
	fmt.Fprintf(&b, " %s(#%d): %s", g.DB.Name(it.Player), it.Player, it.Command)
	return b.String()
}

// cmdForce makes a controlled object run a command. The command text is
// evaluated here, in the forcer's context, and queued as already
// evaluated.
func (g *Game) cmdForce(inv *command.Invocation) {
	ctx := inv.Ctx
	if !inv.HasEquals {
		g.Notify(ctx.Player, "Force whom to do what?")
		return
	}
	victim, ok := g.controlled(ctx, inv.Left)
	if !ok {
		return
	}
	if g.DB.IsGod(victim) && !g.DB.IsGod(ctx.Player) {
		g.Notify(ctx.Player, "You can't force God.")
		return
	}
	text := inv.Right
	if !ctx.Literal {
		text = g.Interp.Evaluate(ctx, text, evalFull)
	}
	qctx := g.newContext(victim, ctx.Player)
	qctx.RealCause = ctx.RealCause
	qctx.Args = append([]string(nil), ctx.Args...)
	qctx.Regs = ctx.Regs.Clone()
	qctx.Literal = true
	_, err := g.Queue.EnqueueImmediate(qctx, text)
	g.queueError(ctx.Player, err)
}

// attrRef splits "<obj>/<attr>" and checks the actor may read it.
func (g *Game) attrRef(ctx *eval.Context, text string) (gamedb.DBRef, string, bool) {
	name, attr, found := strings.Cut(strings.TrimSpace(text), "/")
	if !found || strings.TrimSpace(attr) == "" {
		g.Notify(ctx.Player, "I need an object and an attribute.")
		return gamedb.Nothing, "", false
	}
	obj, ok := g.controlled(ctx, name)
	if !ok {
		return gamedb.Nothing, "", false
	}
	attr = strings.ToUpper(strings.TrimSpace(attr))
	if !g.DB.CanSeeAttr(ctx.Player, obj, attr) {
		g.Notify(ctx.Player, dispatch.MsgPermission)
		return gamedb.Nothing, "", false
	}
	return obj, attr, true
}

// argv drops the reserved first element of an argument array.
func argv(a []string) []string {
	if len(a) <= 1 {
		return nil
	}
	return append([]string(nil), a[1:]...)
}

// cmdTrigger queues obj/attr as obj with the right side as %0-%9.
func (g *Game) cmdTrigger(inv *command.Invocation) {
	ctx := inv.Ctx
	obj, attr, ok := g.attrRef(ctx, inv.Left)
	if !ok {
		return
	}
	text := g.DB.GetAttr(obj, attr)
	if text == "" {
		return
	}
	qctx := g.newContext(obj, ctx.Player)
	qctx.RealCause = ctx.RealCause
	qctx.Args = argv(inv.RightArgv)
	_, err := g.Queue.EnqueueImmediate(qctx, text)
	g.queueError(ctx.Player, err)
	if err == nil {
		g.ack(ctx.Player, "Triggered.")
	}
}

// cmdInclude runs obj/attr inline in the current context. The right side
// temporarily replaces %0-%9.
func (g *Game) cmdInclude(inv *command.Invocation) {
	ctx := inv.Ctx
	obj, attr, ok := g.attrRef(ctx, inv.Left)
	if !ok {
		return
	}
	text := g.DB.GetAttr(obj, attr)
	if text == "" {
		return
	}
	savedArgs, savedLiteral := ctx.Args, ctx.Literal
	if inv.HasEquals {
		ctx.Args = argv(inv.RightArgv)
	}
	ctx.Literal = false
	g.Dispatcher.RunChain(ctx, text)
	ctx.Args, ctx.Literal = savedArgs, savedLiteral
}

// cmdBreak stops the rest of the chain when its argument is true or
// absent.
func (g *Game) cmdBreak(inv *command.Invocation) {
	if cond := strings.TrimSpace(inv.Left); cond == "" || truthy(cond) {
		inv.Ctx.Breaking = true
	}
}

func truthy(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return false
	}
	return !strings.HasPrefix(s, "#-")
}
