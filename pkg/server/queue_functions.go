package server

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/crystal-mush/mushcore/pkg/eval"
	"github.com/crystal-mush/mushcore/pkg/queue"
)

// defaultPIDFields is what pidinfo() reports without a field list.
const defaultPIDFields = "queue player time object attribute command"

// registerQueueFunctions adds the softcode view of the signal table.
func (g *Game) registerQueueFunctions() {
	g.Interp.Register("waittime", g.fnWaittime, 1, 0)
	g.Interp.Register("signal", g.fnSignal, 0, eval.FnVarArgs)
	g.Interp.Register("pidinfo", g.fnPidinfo, 0, eval.FnVarArgs)
}

func pidArg(s string) (int, bool) {
	pid, err := strconv.Atoi(strings.TrimSpace(s))
	return pid, err == nil && pid > 0
}

func writeSignalErr(buf *strings.Builder, err error) {
	buf.WriteString(queue.SignalString(queue.SignalCode(err)))
}

// waittime(<pid>) returns whole seconds left on a waiting entry.
func (g *Game) fnWaittime(_ *eval.Interp, ctx *eval.Context, args []string, buf *strings.Builder) {
	pid, ok := pidArg(args[0])
	if !ok {
		buf.WriteString(queue.SignalString(queue.CodeNoSuchPID))
		return
	}
	left, err := g.Queue.QueryRemaining(ctx.Player, pid)
	if err != nil {
		writeSignalErr(buf, err)
		return
	}
	buf.WriteString(strconv.Itoa(int(math.Ceil(left.Seconds()))))
}

// signal(<pid>, <kind>[, <secs>]) freezes, thaws, kills or retimes.
func (g *Game) fnSignal(_ *eval.Interp, ctx *eval.Context, args []string, buf *strings.Builder) {
	if len(args) < 2 || len(args) > 3 {
		buf.WriteString("#-1 FUNCTION (SIGNAL) EXPECTS 2 OR 3 ARGUMENTS")
		return
	}
	pid, ok := pidArg(args[0])
	if !ok {
		buf.WriteString(queue.SignalString(queue.CodeNoSuchPID))
		return
	}
	var delay time.Duration
	if len(args) == 3 {
		d, err := parseSeconds(args[2])
		if err != nil {
			buf.WriteString(queue.SignalString(queue.CodeBadSignal))
			return
		}
		delay = d
	}
	if err := g.Queue.Signal(ctx.Player, pid, args[1], delay); err != nil {
		writeSignalErr(buf, err)
		return
	}
	buf.WriteString("1")
}

// pidinfo(<pid>[, <fields>[, <delim>]]) describes a queue entry.
func (g *Game) fnPidinfo(_ *eval.Interp, ctx *eval.Context, args []string, buf *strings.Builder) {
	if len(args) < 1 || len(args) > 3 {
		buf.WriteString("#-1 FUNCTION (PIDINFO) EXPECTS 1 TO 3 ARGUMENTS")
		return
	}
	pid, ok := pidArg(args[0])
	if !ok {
		buf.WriteString(queue.SignalString(queue.CodeNoSuchPID))
		return
	}
	it, err := g.Queue.PIDInfo(ctx.Player, pid)
	if err != nil {
		writeSignalErr(buf, err)
		return
	}
	fields := defaultPIDFields
	if len(args) > 1 && strings.TrimSpace(args[1]) != "" {
		fields = args[1]
	}
	delim := " "
	if len(args) > 2 && args[2] != "" {
		delim = args[2]
	}

	out := make([]string, 0, 6)
	for _, f := range strings.Fields(strings.ToLower(fields)) {
		switch f {
		case "queue":
			out = append(out, strings.ToLower(it.Kind.String()))
		case "player":
			out = append(out, eval.FormatDBRef(it.Player))
		case "owner":
			out = append(out, eval.FormatDBRef(it.Owner))
		case "cause":
			out = append(out, eval.FormatDBRef(it.Cause))
		case "state":
			out = append(out, it.State.String())
		case "time":
			if it.Timed {
				out = append(out, strconv.Itoa(int(math.Ceil(it.Remaining.Seconds()))))
			} else {
				out = append(out, "-1")
			}
		case "object":
			out = append(out, eval.FormatDBRef(it.Sem))
		case "attribute":
			out = append(out, it.SemAttr)
		case "command":
			out = append(out, it.Command)
		default:
			buf.WriteString("#-1 INVALID FIELD")
			return
		}
	}
	buf.WriteString(strings.Join(out, delim))
}
