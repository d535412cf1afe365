// Package command holds the command registry: names, switches, access
// rules, locks and softcode hooks for every command the dispatcher can run.
package command

import (
	"strings"

	"github.com/crystal-mush/mushcore/pkg/eval"
	"github.com/crystal-mush/mushcore/pkg/gamedb"
)

// InternalPrefix marks commands that user input can never name directly.
const InternalPrefix = "__"

// TypeMask is the set of object types allowed to run a command.
type TypeMask int

const (
	TypeRoom TypeMask = 1 << iota
	TypeThing
	TypeExit
	TypePlayer

	TypeAny = TypeRoom | TypeThing | TypeExit | TypePlayer
)

// MaskFor returns the TypeMask bit for an object type.
func MaskFor(t gamedb.ObjectType) TypeMask {
	switch t {
	case gamedb.TypeRoom:
		return TypeRoom
	case gamedb.TypeThing:
		return TypeThing
	case gamedb.TypeExit:
		return TypeExit
	case gamedb.TypePlayer:
		return TypePlayer
	}
	return 0
}

// Perm is a set of access requirements checked before the lock.
type Perm int

const (
	PermWizard   Perm = 1 << iota // effective wizards only
	PermRoyalty                   // wizards or royalty
	PermGod                       // God only
	PermBuilder                   // builders
	PermNoGagged                  // refused to GAGGED owners
	PermNoFixed                   // refused to FIXED owners
	PermNoGuest                   // refused to guests
)

// Flags controls how the dispatcher parses a command's arguments.
type Flags int

const (
	NoArgs       Flags = 1 << iota // takes no arguments
	TwoArgs                        // split at the first unescaped '='
	ArgvLeft                       // left side is an argument array
	ArgvRight                      // right side is an argument array
	ArgvSpace                      // argument arrays split on spaces instead of commas
	NoEvalLeft                     // left side is not evaluated
	NoEvalRight                    // right side is not evaluated
	RawArgs                        // the handler gets the unparsed argument text
	FreeSwitches                   // undeclared switches are passed through
	StripBraces                    // strip one level of braces around each side
)

// HookKind names one of the four hook slots on a command.
type HookKind int

const (
	HookBefore HookKind = iota
	HookAfter
	HookIgnore
	HookOverride
	numHooks
)

func (k HookKind) String() string {
	switch k {
	case HookBefore:
		return "before"
	case HookAfter:
		return "after"
	case HookIgnore:
		return "ignore"
	case HookOverride:
		return "override"
	}
	return "unknown"
}

// ParseHookKind maps a hook name to its HookKind.
func ParseHookKind(s string) (HookKind, bool) {
	for k := HookBefore; k < numHooks; k++ {
		if strings.EqualFold(s, k.String()) {
			return k, true
		}
	}
	return 0, false
}

// Hook binds softcode (an attribute on an object) to a command.
type Hook struct {
	Obj  gamedb.DBRef
	Attr string
}

// Invocation is one fully parsed command ready to run.
type Invocation struct {
	Ctx *eval.Context
	Cmd *Command

	// Text is the canonical command line after token rewriting.
	Text string
	// Switches holds the matched switch names in upper case. Free-form
	// switches appear as typed. SwNoneMatched is present when a '/' was
	// given and nothing matched.
	Switches []string
	// Args is the raw argument text after the command word and switches.
	Args string

	Left      string
	Right     string
	HasEquals bool
	// LeftArgv and RightArgv hold array-style sides; element 0 is reserved.
	LeftArgv  []string
	RightArgv []string
}

// SwNoneMatched is the sentinel switch set when '/' was present but no
// switch matched.
const SwNoneMatched = "-"

// Has reports whether switch sw (upper case) was given.
func (inv *Invocation) Has(sw string) bool {
	for _, s := range inv.Switches {
		if s == sw {
			return true
		}
	}
	return false
}

// Handler runs a command.
type Handler interface {
	Execute(inv *Invocation)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(inv *Invocation)

func (f HandlerFunc) Execute(inv *Invocation) { f(inv) }

// Command is a registry entry.
type Command struct {
	Name     string
	Types    TypeMask
	Perms    Perm
	Switches []string // canonical switch names, upper case
	Flags    Flags
	Lock     string // lock expression; empty always passes
	Hooks    [numHooks]*Hook
	Disabled bool
	Message  string // custom refusal message
	Handler  Handler

	// Stub commands are added at runtime and run softcode from StubObj/StubAttr.
	Stub     bool
	StubObj  gamedb.DBRef
	StubAttr string
}

// Internal reports whether the command is hidden from user lookup.
func (c *Command) Internal() bool {
	return strings.HasPrefix(c.Name, InternalPrefix)
}

// Hook returns the hook in slot k, or nil.
func (c *Command) Hook(k HookKind) *Hook {
	if k < 0 || k >= numHooks {
		return nil
	}
	return c.Hooks[k]
}

// MatchSwitch resolves a typed switch to a declared one by unambiguous,
// case-insensitive prefix. Exact matches win.
func (c *Command) MatchSwitch(typed string) (string, bool) {
	typed = strings.ToUpper(typed)
	if typed == "" {
		return "", false
	}
	match := ""
	for _, sw := range c.Switches {
		if sw == typed {
			return sw, true
		}
		if strings.HasPrefix(sw, typed) {
			if match != "" {
				return "", false
			}
			match = sw
		}
	}
	return match, match != ""
}
