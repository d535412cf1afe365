package command

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

var (
	ErrExists   = errors.New("command already exists")
	ErrNotFound = errors.New("no such command")
	ErrBadRule  = errors.New("unknown access rule")
)

// Registry maps case-folded names to commands. Aliases share the same
// *Command. A Registry is not safe for concurrent use; the game lock
// serializes access.
type Registry struct {
	cmds map[string]*Command
	fold cases.Caser
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		cmds: make(map[string]*Command),
		fold: cases.Fold(),
	}
}

func (r *Registry) key(name string) string {
	return r.fold.String(strings.TrimSpace(name))
}

// Register adds cmd under its name. Registering a name already bound to a
// different command fails with ErrExists.
func (r *Registry) Register(cmd *Command) error {
	k := r.key(cmd.Name)
	if k == "" {
		return fmt.Errorf("register: empty name: %w", ErrBadRule)
	}
	if old, ok := r.cmds[k]; ok && old != cmd {
		return fmt.Errorf("register %s: %w", cmd.Name, ErrExists)
	}
	if cmd.Types == 0 {
		cmd.Types = TypeAny
	}
	for i, sw := range cmd.Switches {
		cmd.Switches[i] = strings.ToUpper(sw)
	}
	r.cmds[k] = cmd
	return nil
}

// MustRegister is Register for the static startup table.
func (r *Registry) MustRegister(cmd *Command) {
	if err := r.Register(cmd); err != nil {
		panic(err)
	}
}

// FindExact looks a name up without prefix matching. Internal commands
// are found.
func (r *Registry) FindExact(name string) *Command {
	return r.cmds[r.key(name)]
}

// FindPrefix resolves user-typed text to a command. An exact name wins;
// otherwise the text must be a prefix of exactly one command. Internal
// commands are never returned.
func (r *Registry) FindPrefix(text string) *Command {
	k := r.key(text)
	if k == "" || strings.HasPrefix(k, InternalPrefix) {
		return nil
	}
	if cmd, ok := r.cmds[k]; ok {
		return cmd
	}
	var match *Command
	for name, cmd := range r.cmds {
		if cmd.Internal() || !strings.HasPrefix(name, k) {
			continue
		}
		if match != nil && match != cmd {
			return nil
		}
		match = cmd
	}
	return match
}

// Alias binds newName to the command named existing. It fails if newName
// already resolves to anything.
func (r *Registry) Alias(existing, newName string) error {
	cmd := r.FindExact(existing)
	if cmd == nil {
		return fmt.Errorf("alias %s: %s: %w", newName, existing, ErrNotFound)
	}
	k := r.key(newName)
	if k == "" {
		return fmt.Errorf("alias: empty name: %w", ErrBadRule)
	}
	if _, ok := r.cmds[k]; ok {
		return fmt.Errorf("alias %s: %w", newName, ErrExists)
	}
	r.cmds[k] = cmd
	return nil
}

var typeRules = map[string]TypeMask{
	"room":   TypeRoom,
	"thing":  TypeThing,
	"exit":   TypeExit,
	"player": TypePlayer,
	"any":    TypeAny,
}

var permRules = map[string]Perm{
	"wizard":    PermWizard,
	"royalty":   PermRoyalty,
	"god":       PermGod,
	"builder":   PermBuilder,
	"no_gagged": PermNoGagged,
	"no_fixed":  PermNoFixed,
	"no_guest":  PermNoGuest,
}

// Restrict changes who may run a command. Each rule is a type name
// (room, thing, exit, player, any) or a permission (wizard, royalty, god,
// builder, no_gagged, no_fixed, no_guest); a leading '!' removes it. Type
// rules without '!' replace the accepted type set on first use and OR into
// it afterwards. "none" clears every permission requirement. A non-empty
// msg replaces the generic refusal text.
func (r *Registry) Restrict(name string, rules []string, msg string) error {
	cmd := r.FindExact(name)
	if cmd == nil {
		return fmt.Errorf("restrict %s: %w", name, ErrNotFound)
	}

	types, perms := cmd.Types, cmd.Perms
	typesSet := false
	for _, rule := range rules {
		rule = strings.ToLower(strings.TrimSpace(rule))
		if rule == "" {
			continue
		}
		neg := strings.HasPrefix(rule, "!")
		rule = strings.TrimPrefix(rule, "!")

		if rule == "none" {
			perms = 0
			continue
		}
		if t, ok := typeRules[rule]; ok {
			switch {
			case neg:
				types &^= t
			case !typesSet:
				types = t
			default:
				types |= t
			}
			typesSet = typesSet || !neg
			continue
		}
		if p, ok := permRules[rule]; ok {
			if neg {
				perms &^= p
			} else {
				perms |= p
			}
			continue
		}
		return fmt.Errorf("restrict %s: %q: %w", name, rule, ErrBadRule)
	}

	cmd.Types, cmd.Perms = types, perms
	if msg != "" {
		cmd.Message = msg
	}
	return nil
}

// SetLock sets the lock expression. An empty expression always passes.
func (r *Registry) SetLock(name, expr string) error {
	cmd := r.FindExact(name)
	if cmd == nil {
		return fmt.Errorf("lock %s: %w", name, ErrNotFound)
	}
	cmd.Lock = strings.TrimSpace(expr)
	return nil
}

// SetMessage sets the refusal message shown when permission fails.
func (r *Registry) SetMessage(name, msg string) error {
	cmd := r.FindExact(name)
	if cmd == nil {
		return fmt.Errorf("message %s: %w", name, ErrNotFound)
	}
	cmd.Message = msg
	return nil
}

// Enable turns a command on or off.
func (r *Registry) Enable(name string, on bool) error {
	cmd := r.FindExact(name)
	if cmd == nil {
		return fmt.Errorf("enable %s: %w", name, ErrNotFound)
	}
	cmd.Disabled = !on
	return nil
}

// SetHook installs h in slot k. A nil hook clears the slot.
func (r *Registry) SetHook(name string, k HookKind, h *Hook) error {
	cmd := r.FindExact(name)
	if cmd == nil {
		return fmt.Errorf("hook %s: %w", name, ErrNotFound)
	}
	if k < 0 || k >= numHooks {
		return fmt.Errorf("hook %s: kind %d: %w", name, k, ErrBadRule)
	}
	cmd.Hooks[k] = h
	return nil
}

// ClearHooks removes every hook from a command.
func (r *Registry) ClearHooks(name string) error {
	cmd := r.FindExact(name)
	if cmd == nil {
		return fmt.Errorf("hook %s: %w", name, ErrNotFound)
	}
	cmd.Hooks = [numHooks]*Hook{}
	return nil
}

// AddStub registers a runtime command whose body is softcode. The
// returned command has no Handler; the dispatcher runs StubObj/StubAttr.
func (r *Registry) AddStub(name string, obj Hook) (*Command, error) {
	if strings.HasPrefix(r.key(name), InternalPrefix) {
		return nil, fmt.Errorf("addcommand %s: %w", name, ErrBadRule)
	}
	cmd := &Command{
		Name:     strings.ToLower(strings.TrimSpace(name)),
		Types:    TypeAny,
		Flags:    FreeSwitches | RawArgs,
		Stub:     true,
		StubObj:  obj.Obj,
		StubAttr: strings.ToUpper(obj.Attr),
	}
	if err := r.Register(cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

// RemoveStub deletes a runtime-added command and every alias bound to it.
// Built-in commands cannot be removed.
func (r *Registry) RemoveStub(name string) error {
	cmd := r.FindExact(name)
	if cmd == nil {
		return fmt.Errorf("delcommand %s: %w", name, ErrNotFound)
	}
	if !cmd.Stub {
		return fmt.Errorf("delcommand %s: built-in: %w", name, ErrBadRule)
	}
	for k, c := range r.cmds {
		if c == cmd {
			delete(r.cmds, k)
		}
	}
	return nil
}

// Names returns every registered name, aliases included, sorted. Internal
// names are left out.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.cmds))
	for k, cmd := range r.cmds {
		if !cmd.Internal() {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// Len returns the number of bound names.
func (r *Registry) Len() int { return len(r.cmds) }
