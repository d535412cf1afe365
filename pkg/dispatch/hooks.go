package dispatch

import (
	"strings"

	"github.com/crystal-mush/mushcore/pkg/command"
	"github.com/crystal-mush/mushcore/pkg/eval"
	"github.com/crystal-mush/mushcore/pkg/gamedb"
)

// hookContext builds the context a hook runs in: the hook object is the
// executor and the actor is the enactor. The CPU deadline carries over.
func hookContext(ctx *eval.Context, obj gamedb.DBRef, args []string) *eval.Context {
	hc := ctx.Clone()
	hc.Player = obj
	hc.Caller = ctx.Player
	hc.Cause = ctx.Player
	hc.Identity = gamedb.Nothing
	hc.Args = args
	hc.Regs = ctx.Regs
	hc.Deadline = ctx.Deadline
	hc.ChainDepth = ctx.ChainDepth
	return hc
}

// withSavedRegs runs fn and restores ctx's registers afterwards.
func withSavedRegs(ctx *eval.Context, fn func()) {
	saved := ctx.Regs.Clone()
	fn()
	ctx.Regs = saved
}

func hookArgs(inv *command.Invocation) []string {
	return []string{inv.Args, inv.Left, inv.Right}
}

func (d *Dispatcher) hookText(h *command.Hook) string {
	if d.DB == nil {
		return ""
	}
	return d.DB.GetAttr(h.Obj, h.Attr)
}

// runHook evaluates a before or after hook and discards its output.
func (d *Dispatcher) runHook(ctx *eval.Context, h *command.Hook, inv *command.Invocation) {
	text := d.hookText(h)
	if text == "" || d.Eval == nil {
		return
	}
	withSavedRegs(ctx, func() {
		hc := hookContext(ctx, h.Obj, hookArgs(inv))
		d.Eval.Evaluate(hc, text, eval.EvEval|eval.EvFCheck)
		ctx.Overrun = ctx.Overrun || hc.Overrun
	})
}

// runIgnoreHook reports whether the command should go ahead. A missing
// attribute lets it through.
func (d *Dispatcher) runIgnoreHook(ctx *eval.Context, h *command.Hook, inv *command.Invocation) bool {
	text := d.hookText(h)
	if text == "" || d.Eval == nil {
		return true
	}
	result := ""
	withSavedRegs(ctx, func() {
		hc := hookContext(ctx, h.Obj, hookArgs(inv))
		result = d.Eval.Evaluate(hc, text, eval.EvEval|eval.EvFCheck)
	})
	return truthy(result)
}

// runOverrideHook matches the canonical command text against the $-patterns
// in the hook attribute and runs the first matching action instead of the
// command. It reports whether an action ran.
func (d *Dispatcher) runOverrideHook(ctx *eval.Context, h *command.Hook, inv *command.Invocation) bool {
	text := d.hookText(h)
	if text == "" {
		return false
	}
	ran := false
	withSavedRegs(ctx, func() {
		ran = d.runDollar(ctx, h.Obj, text, inv.Text)
	})
	return ran
}

// runStub runs a command added with @addcommand. The attribute is either
// a $-pattern matched against the command text or a plain action list
// run with %0 set to the arguments.
func (d *Dispatcher) runStub(ctx *eval.Context, cmd *command.Command, inv *command.Invocation) {
	text := d.DB.GetAttr(cmd.StubObj, cmd.StubAttr)
	if text == "" {
		d.notify(ctx.Player, MsgHuh)
		return
	}
	if strings.HasPrefix(text, "$") {
		if !d.runDollar(ctx, cmd.StubObj, text, inv.Text) {
			d.notify(ctx.Player, MsgHuh)
		}
		return
	}
	hc := hookContext(ctx, cmd.StubObj, hookArgs(inv))
	hc.Regs = ctx.Regs.Clone()
	d.RunChain(hc, text)
}

// runDollar handles "$pattern:action" text. The pattern's wildcards become
// %0-%9 for the action.
func (d *Dispatcher) runDollar(ctx *eval.Context, obj gamedb.DBRef, attrText, cmdText string) bool {
	pattern, action, ok := splitDollar(attrText)
	if !ok {
		return false
	}
	captures := eval.WildMatchCapture(pattern, cmdText)
	if captures == nil {
		return false
	}
	hc := hookContext(ctx, obj, captures)
	d.RunChain(hc, action)
	ctx.Overrun = ctx.Overrun || hc.Overrun
	return true
}

// splitDollar splits "$pattern:action" at the first unescaped ':'.
func splitDollar(s string) (pattern, action string, ok bool) {
	if !strings.HasPrefix(s, "$") {
		return "", "", false
	}
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case ':':
			return s[1:i], s[i+1:], true
		}
	}
	return "", "", false
}

// truthy is the softcode boolean: empty, "0" and error strings are false.
func truthy(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return false
	}
	return !strings.HasPrefix(s, "#-")
}
