package eval

import (
	"strings"
	"time"

	"github.com/crystal-mush/mushcore/pkg/gamedb"
)

// EvalFlags control expression evaluation behavior
const (
	EvEval       = 0x0001 // Evaluate functions and substitutions
	EvFCheck     = 0x0002 // Check for function invocations
	EvFMand      = 0x0004 // Function evaluation is mandatory (inside [])
	EvStrip      = 0x0008 // Strip {}
	EvNoCompress = 0x0010 // Don't compress spaces
	EvNoFCheck   = 0x0200 // Don't check for functions
	EvNoLocation = 0x0800 // Don't resolve %l
)

const MaxGlobalRegs = 36
const MaxArgs = 10

// RegisterData holds the q-register state (%q0-%q9, %qa-%qz, named regs)
type RegisterData struct {
	QRegs [MaxGlobalRegs]string // %q0-%q9, %qa-%qz
	XRegs map[string]string     // Named registers %q<name>
}

// NewRegisterData creates an empty RegisterData.
func NewRegisterData() *RegisterData {
	return &RegisterData{
		XRegs: make(map[string]string),
	}
}

// Clone returns a deep copy of the RegisterData.
func (r *RegisterData) Clone() *RegisterData {
	if r == nil {
		return NewRegisterData()
	}
	nr := &RegisterData{
		XRegs: make(map[string]string, len(r.XRegs)),
	}
	copy(nr.QRegs[:], r.QRegs[:])
	for k, v := range r.XRegs {
		nr.XRegs[k] = v
	}
	return nr
}

// Get returns a register by name: a single character 0-9/a-z, or a
// longer named register.
func (r *RegisterData) Get(name string) string {
	if r == nil {
		return ""
	}
	name = strings.TrimSpace(name)
	if len(name) == 1 {
		if idx := qidxChar(name[0]); idx >= 0 {
			return r.QRegs[idx]
		}
	}
	return r.XRegs[strings.ToLower(name)]
}

// Set stores a register by name.
func (r *RegisterData) Set(name, value string) {
	name = strings.TrimSpace(name)
	if len(name) == 1 {
		if idx := qidxChar(name[0]); idx >= 0 {
			r.QRegs[idx] = value
			return
		}
	}
	if name == "" {
		return
	}
	r.XRegs[strings.ToLower(name)] = value
}

// Context is the execution context threaded through dispatch, evaluation
// and queued execution. Each queue entry owns a cloned Context; nothing
// about the current command lives in package state.
type Context struct {
	Player    gamedb.DBRef // Executor (the object running code, %!)
	Caller    gamedb.DBRef // Caller (%@)
	Cause     gamedb.DBRef // Enactor (%#)
	RealCause gamedb.DBRef // Original enactor before any @force/@trigger
	Identity  gamedb.DBRef // Permission identity override, Nothing if unset

	Args []string      // %0-%9
	Regs *RegisterData // %q registers

	// Direct is set when the command came straight from a connected player.
	Direct bool

	// CurrCmd is the command text being run (%m).
	CurrCmd string

	// Deadline bounds CPU time for the current queue entry; zero means none.
	Deadline time.Time
	// Overrun is set once Deadline has passed; evaluation stops producing
	// output and the rest of the command chain is abandoned.
	Overrun bool
	// Breaking is set by @break to stop the current chain.
	Breaking bool
	// Literal marks command text that was evaluated before it was queued;
	// its arguments are not evaluated again.
	Literal bool

	ChainDepth  int
	FuncNestLev int
	FuncInvkCtr int
}

// NewContext creates a Context for player acting on behalf of cause.
func NewContext(player, cause gamedb.DBRef) *Context {
	return &Context{
		Player:    player,
		Caller:    cause,
		Cause:     cause,
		RealCause: cause,
		Identity:  gamedb.Nothing,
		Regs:      NewRegisterData(),
	}
}

// Clone returns an independent copy of c suitable for a queue entry.
// Positional args and registers are deep-copied; per-run counters are reset.
func (c *Context) Clone() *Context {
	nc := &Context{
		Player:    c.Player,
		Caller:    c.Caller,
		Cause:     c.Cause,
		RealCause: c.RealCause,
		Identity:  c.Identity,
		Direct:    c.Direct,
		CurrCmd:   c.CurrCmd,
		Regs:      c.Regs.Clone(),
	}
	if len(c.Args) > 0 {
		nc.Args = make([]string, len(c.Args))
		copy(nc.Args, c.Args)
	}
	return nc
}

// Effective returns the identity permissions are checked against.
func (c *Context) Effective() gamedb.DBRef {
	if c.Identity != gamedb.Nothing {
		return c.Identity
	}
	return c.Player
}

// Arg returns positional argument i, or "".
func (c *Context) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// CheckDeadline marks the context overrun if now is past its deadline.
func (c *Context) CheckDeadline(now time.Time) bool {
	if c.Overrun {
		return true
	}
	if !c.Deadline.IsZero() && now.After(c.Deadline) {
		c.Overrun = true
	}
	return c.Overrun
}

// Halted reports whether the current chain should stop.
func (c *Context) Halted() bool {
	return c.Overrun || c.Breaking
}

// Evaluator expands substitutions and function calls in text.
type Evaluator interface {
	Evaluate(ctx *Context, text string, flags int) string
}

// FnHandler is the signature for built-in function handlers.
type FnHandler func(in *Interp, ctx *Context, args []string, buf *strings.Builder)

// Function is a registered built-in function.
type Function struct {
	Name    string
	Handler FnHandler
	NArgs   int // Expected args (-N means up to N), ignored with FnVarArgs
	Flags   int
}

// Function flags
const (
	FnVarArgs = 0x0001 // Variable number of args
	FnNoEval  = 0x0002 // Don't evaluate args before calling
)
