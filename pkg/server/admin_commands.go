package server

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/crystal-mush/mushcore/pkg/command"
)

func (g *Game) registerAdminCommands(reg func(*command.Command), h func(func(*command.Invocation)) command.Handler) {
	raw := command.TwoArgs | command.NoEvalLeft | command.NoEvalRight
	reg(&command.Command{Name: "@admin", Perms: command.PermGod, Flags: raw, Handler: h(g.cmdAdmin)})
	reg(&command.Command{Name: "@addcommand", Perms: command.PermGod, Flags: command.TwoArgs, Handler: h(g.cmdAddCommand)})
	reg(&command.Command{Name: "@delcommand", Perms: command.PermGod, Handler: h(g.cmdDelCommand)})
	reg(&command.Command{
		Name:     "@hook",
		Perms:    command.PermGod,
		Flags:    command.TwoArgs,
		Switches: []string{"BEFORE", "AFTER", "IGNORE", "OVERRIDE", "CLEAR"},
		Handler:  h(g.cmdHook),
	})
}

// adminError reports a registry failure in player terms.
func (g *Game) adminError(inv *command.Invocation, err error) {
	switch {
	case errors.Is(err, command.ErrNotFound):
		g.Notify(inv.Ctx.Player, "No such command.")
	case errors.Is(err, command.ErrExists):
		g.Notify(inv.Ctx.Player, "That command already exists.")
	default:
		g.Notify(inv.Ctx.Player, fmt.Sprintf("%s: %v", inv.Cmd.Name, err))
	}
}

// cmdAdmin applies one access directive at runtime:
// "@admin access=@ps wizard", "@admin disable=@chat".
func (g *Game) cmdAdmin(inv *command.Invocation) {
	directive := strings.TrimSpace(inv.Left)
	if directive == "" {
		g.Notify(inv.Ctx.Player, "Usage: @admin <directive>=<arguments>")
		return
	}
	if err := g.Commands.Apply(directive, inv.Right); err != nil {
		g.adminError(inv, err)
		return
	}
	g.Log.Info("access: runtime directive", zap.String("directive", directive),
		zap.String("args", inv.Right), zap.Int("by", int(inv.Ctx.Player)))
	g.ack(inv.Ctx.Player, "Config parameter set.")
}

// cmdAddCommand binds a new command name to softcode: "@addcommand
// +who=#10/DO_WHO".
func (g *Game) cmdAddCommand(inv *command.Invocation) {
	name := strings.TrimSpace(inv.Left)
	if name == "" || !inv.HasEquals {
		g.Notify(inv.Ctx.Player, "Usage: @addcommand <name>=<object>/<attribute>")
		return
	}
	hook, err := command.ParseHook(inv.Right)
	if err != nil {
		g.adminError(inv, err)
		return
	}
	if !g.DB.Valid(hook.Obj) {
		g.Notify(inv.Ctx.Player, msgNoMatch)
		return
	}
	if _, err := g.Commands.AddStub(name, *hook); err != nil {
		g.adminError(inv, err)
		return
	}
	g.Log.Info("command added", zap.String("name", name), zap.Int("obj", int(hook.Obj)), zap.String("attr", hook.Attr))
	g.ack(inv.Ctx.Player, fmt.Sprintf("Command %s added.", strings.ToLower(name)))
}

func (g *Game) cmdDelCommand(inv *command.Invocation) {
	name := strings.TrimSpace(inv.Left)
	if err := g.Commands.RemoveStub(name); err != nil {
		g.adminError(inv, err)
		return
	}
	g.Log.Info("command removed", zap.String("name", name))
	g.ack(inv.Ctx.Player, fmt.Sprintf("Command %s removed.", strings.ToLower(name)))
}

// cmdHook attaches or clears hooks: "@hook/before @ps=#10/PRE_PS".
func (g *Game) cmdHook(inv *command.Invocation) {
	name := strings.TrimSpace(inv.Left)
	kind := ""
	for _, sw := range []string{"BEFORE", "AFTER", "IGNORE", "OVERRIDE", "CLEAR"} {
		if inv.Has(sw) {
			kind = strings.ToLower(sw)
			break
		}
	}
	if name == "" || kind == "" {
		g.Notify(inv.Ctx.Player, "Usage: @hook/<before|after|ignore|override|clear> <command>[=<object>/<attribute>]")
		return
	}
	args := name + " " + kind
	if kind != "clear" {
		args += " " + strings.TrimSpace(inv.Right)
	}
	if err := g.Commands.Apply("hook", args); err != nil {
		g.adminError(inv, err)
		return
	}
	g.ack(inv.Ctx.Player, "Hooks updated.")
}
