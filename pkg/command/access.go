package command

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/crystal-mush/mushcore/pkg/eval"
)

// Apply runs one access directive against the registry. The directives
// are the lines of an access file:
//
//	alias   <new> <existing>
//	access  <cmd> <rule> [<rule>...]
//	cmdlock <cmd> <lock expression>
//	message <cmd> <refusal text>
//	disable <cmd>
//	enable  <cmd>
//	hook    <cmd> <before|after|ignore|override|clear> [<#obj>/<attr>]
func (r *Registry) Apply(directive, args string) error {
	fields := strings.Fields(args)
	need := func(n int) error {
		if len(fields) < n {
			return fmt.Errorf("%s requires %d arguments: %w", directive, n, ErrBadRule)
		}
		return nil
	}
	rest := func() string {
		// everything after the command name, spacing preserved
		s := strings.TrimSpace(args)
		if i := strings.IndexAny(s, " \t"); i >= 0 {
			return strings.TrimSpace(s[i+1:])
		}
		return ""
	}

	switch strings.ToLower(directive) {
	case "alias":
		if err := need(2); err != nil {
			return err
		}
		return r.Alias(fields[1], fields[0])

	case "access":
		if err := need(2); err != nil {
			return err
		}
		return r.Restrict(fields[0], fields[1:], "")

	case "cmdlock":
		if err := need(1); err != nil {
			return err
		}
		return r.SetLock(fields[0], rest())

	case "message":
		if err := need(2); err != nil {
			return err
		}
		return r.SetMessage(fields[0], rest())

	case "disable", "enable":
		if err := need(1); err != nil {
			return err
		}
		return r.Enable(fields[0], strings.EqualFold(directive, "enable"))

	case "hook":
		if err := need(2); err != nil {
			return err
		}
		if strings.EqualFold(fields[1], "clear") {
			return r.ClearHooks(fields[0])
		}
		kind, ok := ParseHookKind(fields[1])
		if !ok {
			return fmt.Errorf("hook %s: kind %q: %w", fields[0], fields[1], ErrBadRule)
		}
		if len(fields) < 3 {
			return r.SetHook(fields[0], kind, nil)
		}
		h, err := ParseHook(fields[2])
		if err != nil {
			return err
		}
		return r.SetHook(fields[0], kind, h)
	}
	return fmt.Errorf("directive %q: %w", directive, ErrBadRule)
}

// ParseHook parses "<#obj>/<attr>".
func ParseHook(s string) (*Hook, error) {
	obj, attr, ok := strings.Cut(s, "/")
	if !ok || attr == "" {
		return nil, fmt.Errorf("hook %q: want #obj/attr: %w", s, ErrBadRule)
	}
	ref, ok := eval.ParseDBRef(strings.TrimSpace(obj))
	if !ok {
		return nil, fmt.Errorf("hook %q: bad object: %w", s, ErrBadRule)
	}
	return &Hook{Obj: ref, Attr: strings.ToUpper(strings.TrimSpace(attr))}, nil
}

// LoadAccess reads access directives, one per line. Blank lines and lines
// starting with '#' are skipped. Bad lines are logged and skipped; the
// count of applied directives is returned.
func (r *Registry) LoadAccess(rd io.Reader, name string, log *zap.Logger) (int, error) {
	if log == nil {
		log = zap.NewNop()
	}
	scanner := bufio.NewScanner(rd)
	lineNo, applied := 0, 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		directive, args, _ := strings.Cut(line, " ")
		if err := r.Apply(directive, args); err != nil {
			log.Warn("access: bad directive",
				zap.String("file", name),
				zap.Int("line", lineNo),
				zap.Error(err))
			continue
		}
		applied++
	}
	return applied, scanner.Err()
}

// LoadAccessFile opens path and runs LoadAccess on it.
func (r *Registry) LoadAccessFile(path string, log *zap.Logger) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("loading %s: %w", path, err)
	}
	defer f.Close()
	return r.LoadAccess(f, path, log)
}
