// Package dispatch turns one line of input into a permission-checked
// command invocation.
package dispatch

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crystal-mush/mushcore/pkg/command"
	"github.com/crystal-mush/mushcore/pkg/eval"
	"github.com/crystal-mush/mushcore/pkg/gamedb"
)

// Permission evaluates command locks.
type Permission interface {
	EvalLock(actor, target gamedb.DBRef, expr string, switches []string) bool
}

// Notifier delivers a line of text to an object.
type Notifier interface {
	Notify(target gamedb.DBRef, msg string)
}

// NotifyFunc adapts a function to a Notifier.
type NotifyFunc func(target gamedb.DBRef, msg string)

func (f NotifyFunc) Notify(target gamedb.DBRef, msg string) { f(target, msg) }

const (
	MsgHuh        = "Huh?  (Type \"help\" for help.)"
	MsgPermission = "Permission denied."
)

// Names of commands the token rewrites map to.
const (
	CmdSay     = "say"
	CmdPose    = "pose"
	CmdEmit    = "@emit"
	CmdChat    = "@chat"
	CmdForce   = "@force"
	CmdGo      = "go"
	CmdAttrSet = command.InternalPrefix + "attrset"
)

// Evaluation flags used for command arguments.
const argEval = eval.EvEval | eval.EvFCheck | eval.EvStrip

// Dispatcher resolves and runs commands. It holds no per-command state;
// everything about the running command lives in the eval.Context.
type Dispatcher struct {
	Reg    *command.Registry
	DB     *gamedb.Database
	Eval   eval.Evaluator
	Perm   Permission
	Notify Notifier
	Log    *zap.Logger

	NoEvalToken string // "~" by default
	NestLimit   int    // maximum chain re-entry depth
	Now         func() time.Time

	// Unmatched, if set, is offered the residual before "Huh?" is sent.
	Unmatched func(ctx *eval.Context, residual string) bool
	// OnCommand is called with the name of every command that runs.
	OnCommand func(name string)
}

// New creates a Dispatcher with default limits.
func New(reg *command.Registry, db *gamedb.Database, ev eval.Evaluator, perm Permission, n Notifier, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		Reg:         reg,
		DB:          db,
		Eval:        ev,
		Perm:        perm,
		Notify:      n,
		Log:         log,
		NoEvalToken: "~",
		NestLimit:   50,
		Now:         time.Now,
	}
}

func (d *Dispatcher) notify(target gamedb.DBRef, msg string) {
	if d.Notify != nil {
		d.Notify.Notify(target, msg)
	}
}

// parsed is the result of resolving the command word.
type parsed struct {
	cmd      *command.Command
	typed    []string // switches as typed
	implicit []string // switches implied by a rewrite
	slash    bool
	args     string
}

// Dispatch resolves line and runs it for ctx.Player. When the line names
// no usable command the fully evaluated line comes back as the residual
// with ok false. Every other outcome, including refusals, is handled.
func (d *Dispatcher) Dispatch(ctx *eval.Context, line string, direct bool) (residual string, ok bool) {
	line = strings.TrimLeft(line, " \t")
	if line == "" {
		return "", true
	}
	ctx.Direct = direct
	d.Log.Debug("CMD", zap.Int("player", int(ctx.Player)), zap.String("line", line))

	p := d.resolve(ctx, line)
	if p.cmd == nil || p.cmd.Disabled {
		return d.expand(ctx, line), false
	}
	cmd := p.cmd

	// Switches: declared by prefix, free-form when allowed, else an error
	// reported only once permission passes.
	switches := append([]string(nil), p.implicit...)
	badSwitch := ""
	matched := false
	for _, sw := range p.typed {
		if sw == "" {
			continue
		}
		if canon, ok := cmd.MatchSwitch(sw); ok {
			switches = append(switches, canon)
			matched = true
			continue
		}
		if cmd.Flags&command.FreeSwitches != 0 {
			switches = append(switches, strings.ToUpper(sw))
			matched = true
			continue
		}
		if badSwitch == "" {
			badSwitch = sw
		}
	}
	if p.slash && !matched {
		switches = append(switches, command.SwNoneMatched)
	}

	if !d.Allowed(cmd, ctx.Player, switches) {
		if cmd.Message != "" {
			d.notify(ctx.Player, cmd.Message)
		} else {
			d.notify(ctx.Player, MsgPermission)
		}
		return "", true
	}
	if badSwitch != "" {
		d.notify(ctx.Player, fmt.Sprintf("Unrecognized switch '%s' for command '%s'.", badSwitch, cmd.Name))
		return "", true
	}

	inv := &command.Invocation{
		Ctx:      ctx,
		Cmd:      cmd,
		Switches: switches,
		Args:     p.args,
		Text:     canonical(cmd.Name, p.typed, p.args),
	}
	d.parseArgs(ctx, inv)

	if h := cmd.Hook(command.HookIgnore); h != nil && !d.runIgnoreHook(ctx, h, inv) {
		return d.expand(ctx, line), false
	}
	if h := cmd.Hook(command.HookOverride); h != nil && d.runOverrideHook(ctx, h, inv) {
		return "", true
	}
	if h := cmd.Hook(command.HookBefore); h != nil {
		d.runHook(ctx, h, inv)
	}

	if d.OnCommand != nil {
		d.OnCommand(cmd.Name)
	}
	if cmd.Stub {
		d.runStub(ctx, cmd, inv)
	} else if cmd.Handler != nil {
		cmd.Handler.Execute(inv)
	}

	if h := cmd.Hook(command.HookAfter); h != nil {
		d.runHook(ctx, h, inv)
	}
	return "", true
}

func canonical(name string, typed []string, args string) string {
	var b strings.Builder
	b.WriteString(name)
	for _, sw := range typed {
		b.WriteByte('/')
		b.WriteString(sw)
	}
	if args != "" {
		b.WriteByte(' ')
		b.WriteString(args)
	}
	return b.String()
}

// resolve applies token rewriting and looks up the command word.
func (d *Dispatcher) resolve(ctx *eval.Context, line string) parsed {
	exact := func(name, args string, implicit ...string) parsed {
		return parsed{cmd: d.Reg.FindExact(name), args: args, implicit: implicit}
	}

	switch line[0] {
	case '"':
		return exact(CmdSay, line[1:])
	case ':':
		return exact(CmdPose, line[1:])
	case ';':
		return exact(CmdPose, line[1:], "NOSPACE")
	case '\\':
		return exact(CmdEmit, line[1:])
	case '=':
		return exact(CmdChat, line[1:])
	case '&':
		c := newCursor(line[1:])
		attr := c.word()
		if attr == "" {
			return parsed{}
		}
		return exact(CmdAttrSet, c.rest(), strings.ToUpper(attr))
	case '#':
		c := newCursor(line)
		if ref, ok := eval.ParseDBRef(c.word()); ok {
			if rest := c.rest(); rest != "" {
				return exact(CmdForce, eval.FormatDBRef(ref)+"="+rest)
			}
		}
	}

	if d.DB != nil && d.Reg.FindExact(CmdGo) != nil && d.DB.MatchExit(ctx.Player, strings.TrimSpace(line)) != gamedb.Nothing {
		return exact(CmdGo, strings.TrimSpace(line))
	}

	c := newCursor(line)
	name, typed, slash := splitWord(c.word())
	args := c.rest()

	if strings.ContainsAny(name, "[%\\") && d.Eval != nil && !ctx.Literal {
		name = strings.TrimSpace(d.Eval.Evaluate(ctx, name, argEval))
	}
	if cmd := d.Reg.FindPrefix(name); cmd != nil {
		return parsed{cmd: cmd, typed: typed, slash: slash, args: args}
	}

	// @attr obj=value on a name that is not a command sets the attribute.
	if len(name) > 1 && name[0] == '@' && strings.Contains(args, "=") {
		return exact(CmdAttrSet, args, strings.ToUpper(name[1:]))
	}
	return parsed{}
}

// expand evaluates the whole line for use as a residual.
func (d *Dispatcher) expand(ctx *eval.Context, line string) string {
	if d.Eval == nil {
		return line
	}
	return d.Eval.Evaluate(ctx, line, argEval)
}

// Allowed runs the permission gate for actor: disabled, God, owner
// restrictions, rank, accepted types, then the lock.
func (d *Dispatcher) Allowed(cmd *command.Command, actor gamedb.DBRef, switches []string) bool {
	if cmd.Disabled {
		return false
	}
	db := d.DB
	if db.IsGod(actor) {
		return true
	}
	p := cmd.Perms
	switch {
	case p&command.PermNoGagged != 0 && db.Gagged(actor):
		return false
	case p&command.PermNoFixed != 0 && db.Fixed(actor):
		return false
	case p&command.PermNoGuest != 0 && db.Guest(actor):
		return false
	case p&command.PermGod != 0:
		return false
	case p&command.PermWizard != 0 && !db.Wizard(actor):
		return false
	case p&command.PermRoyalty != 0 && !db.WizRoy(actor):
		return false
	case p&command.PermBuilder != 0 && !db.Builder(actor) && !db.Wizard(actor):
		return false
	}
	if cmd.Types&command.MaskFor(db.TypeOf(actor)) == 0 {
		return false
	}
	if cmd.Lock == "" || d.Perm == nil {
		return true
	}
	return d.Perm.EvalLock(actor, db.God, cmd.Lock, switches)
}

// parseArgs fills the argument fields of inv according to the command's
// flags. A leading no-eval token suppresses evaluation of the text; when
// the command splits on '=' and a right side exists, the left side is
// still evaluated.
func (d *Dispatcher) parseArgs(ctx *eval.Context, inv *command.Invocation) {
	flags := inv.Cmd.Flags
	args := inv.Args
	noEval := false
	if flags&(command.NoArgs|command.RawArgs) != 0 {
		inv.Left = args
		return
	}

	if tok := d.NoEvalToken; tok != "" && strings.HasPrefix(args, tok) {
		args = strings.TrimPrefix(args, tok)
		noEval = true
	}

	left, right, found := args, "", false
	if flags&command.TwoArgs != 0 {
		left, right, found = splitEquals(args)
	}
	inv.HasEquals = found

	evalLeft := flags&command.NoEvalLeft == 0 && (!noEval || found) && !ctx.Literal
	evalRight := flags&command.NoEvalRight == 0 && !noEval && !ctx.Literal
	strip := flags&command.StripBraces != 0

	if flags&command.ArgvLeft != 0 {
		inv.LeftArgv = d.argv(ctx, left, flags, evalLeft, strip)
	} else {
		inv.Left = d.side(ctx, left, evalLeft, strip)
	}
	if !found {
		return
	}
	if flags&command.ArgvRight != 0 {
		inv.RightArgv = d.argv(ctx, right, flags, evalRight, strip)
	} else {
		inv.Right = d.side(ctx, right, evalRight, strip)
	}
}

func (d *Dispatcher) side(ctx *eval.Context, s string, evaluate, strip bool) string {
	if evaluate && d.Eval != nil {
		return d.Eval.Evaluate(ctx, s, argEval)
	}
	if strip {
		return eval.StripOuterBraces(s)
	}
	return s
}

// argv splits an array-style side. Element 0 is reserved and left empty.
func (d *Dispatcher) argv(ctx *eval.Context, s string, flags command.Flags, evaluate, strip bool) []string {
	out := []string{""}
	if strings.TrimSpace(s) == "" {
		return out
	}
	var parts []string
	if flags&command.ArgvSpace != 0 {
		parts = strings.Fields(s)
	} else {
		parts = eval.SplitArgs(s, ',')
	}
	for _, part := range parts {
		out = append(out, d.side(ctx, strings.TrimSpace(part), evaluate, strip))
	}
	return out
}

// RunChain splits text on ';' and dispatches each command in order. It
// stops early on @break, on CPU overrun, and past the nesting limit.
func (d *Dispatcher) RunChain(ctx *eval.Context, text string) {
	if d.NestLimit > 0 && ctx.ChainDepth >= d.NestLimit {
		d.Log.Debug("CMD: nest limit reached", zap.Int("player", int(ctx.Player)))
		return
	}
	ctx.ChainDepth++
	defer func() { ctx.ChainDepth-- }()

	for _, part := range eval.SplitChain(text) {
		if ctx.Halted() || ctx.CheckDeadline(d.now()) {
			return
		}
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ctx.CurrCmd = part
		residual, ok := d.Dispatch(ctx, part, ctx.Direct)
		if ok {
			continue
		}
		if d.Unmatched != nil && d.Unmatched(ctx, residual) {
			continue
		}
		d.notify(ctx.Player, MsgHuh)
	}
}

func (d *Dispatcher) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}
