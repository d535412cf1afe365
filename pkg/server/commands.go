package server

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/crystal-mush/mushcore/pkg/command"
	"github.com/crystal-mush/mushcore/pkg/dispatch"
	"github.com/crystal-mush/mushcore/pkg/eval"
	"github.com/crystal-mush/mushcore/pkg/events"
	"github.com/crystal-mush/mushcore/pkg/gamedb"
)

const (
	msgNoMatch = "I don't see that here."
	msgSet     = "Set."
)

const evalFull = eval.EvEval | eval.EvFCheck | eval.EvStrip

// restrictedFlags maps flags to the rank needed to change them.
var restrictedFlags = map[string]func(db *gamedb.Database, actor gamedb.DBRef) bool{
	"WIZARD":    (*gamedb.Database).IsGod,
	"ROYALTY":   (*gamedb.Database).Wizard,
	"STAFF":     (*gamedb.Database).Wizard,
	"INHERIT":   (*gamedb.Database).Wizard,
	"GAGGED":    (*gamedb.Database).WizRoy,
	"FIXED":     (*gamedb.Database).WizRoy,
	"CONNECTED": (*gamedb.Database).IsGod,
	"GOING":     (*gamedb.Database).IsGod,
}

// registerBuiltins installs the built-in command table.
func (g *Game) registerBuiltins() {
	reg := func(c *command.Command) { g.Commands.MustRegister(c) }
	h := func(fn func(*command.Invocation)) command.Handler { return command.HandlerFunc(fn) }

	// Communication
	reg(&command.Command{Name: dispatch.CmdSay, Handler: h(g.cmdSay)})
	reg(&command.Command{Name: dispatch.CmdPose, Switches: []string{"NOSPACE"}, Handler: h(g.cmdPose)})
	reg(&command.Command{Name: dispatch.CmdEmit, Handler: h(g.cmdEmit)})
	reg(&command.Command{Name: "@pemit", Flags: command.TwoArgs, Switches: []string{"CONTENTS"}, Handler: h(g.cmdPemit)})
	reg(&command.Command{Name: "think", Handler: h(g.cmdThink)})
	reg(&command.Command{Name: dispatch.CmdChat, Perms: command.PermNoGagged, Handler: h(g.cmdChat)})

	// Movement and attributes
	reg(&command.Command{Name: dispatch.CmdGo, Types: command.TypePlayer | command.TypeThing, Handler: h(g.cmdGo)})
	reg(&command.Command{Name: dispatch.CmdAttrSet, Flags: command.TwoArgs | command.FreeSwitches, Handler: h(g.cmdAttrSet)})
	reg(&command.Command{Name: "@set", Perms: command.PermNoGuest, Flags: command.TwoArgs, Handler: h(g.cmdSet)})

	g.registerQueueCommands(reg, h)
	g.registerAdminCommands(reg, h)
}

// locate resolves name for the invoking actor, telling them when nothing
// matches.
func (g *Game) locate(ctx *eval.Context, name string) (gamedb.DBRef, bool) {
	ref := eval.Resolve(g.DB, ctx.Player, name)
	if !g.DB.Valid(ref) {
		g.Notify(ctx.Player, msgNoMatch)
		return gamedb.Nothing, false
	}
	return ref, true
}

// controlled is locate plus a control check.
func (g *Game) controlled(ctx *eval.Context, name string) (gamedb.DBRef, bool) {
	ref, ok := g.locate(ctx, name)
	if !ok {
		return gamedb.Nothing, false
	}
	if !g.DB.Controls(ctx.Player, ref) {
		g.Notify(ctx.Player, dispatch.MsgPermission)
		return gamedb.Nothing, false
	}
	return ref, true
}

// ack sends a confirmation unless the actor is QUIET.
func (g *Game) ack(actor gamedb.DBRef, msg string) {
	if !g.DB.HasFlagName(actor, "QUIET") {
		g.Notify(actor, msg)
	}
}

// --- Communication ---

func (g *Game) cmdSay(inv *command.Invocation) {
	actor := inv.Ctx.Player
	msg := strings.TrimSpace(inv.Left)
	if msg == "" {
		g.Notify(actor, "Say what?")
		return
	}
	name := g.DB.Name(actor)
	loc := g.DB.Location(actor)
	g.Bus.EmitToPlayer(actor, events.Event{
		Type:   events.EvSay,
		Source: actor,
		Room:   loc,
		Text:   fmt.Sprintf("You say, \"%s\"", msg),
		Data:   map[string]any{"message": msg, "speaker": name},
	})
	g.Bus.EmitToRoomExcept(g.DB, loc, actor, events.Event{
		Type:   events.EvSay,
		Source: actor,
		Room:   loc,
		Text:   fmt.Sprintf("%s says, \"%s\"", name, msg),
		Data:   map[string]any{"message": msg, "speaker": name},
	})
}

func (g *Game) cmdPose(inv *command.Invocation) {
	actor := inv.Ctx.Player
	sep := " "
	if inv.Has("NOSPACE") {
		sep = ""
	}
	name := g.DB.Name(actor)
	g.emitRoom(g.DB.Location(actor), gamedb.Nothing, actor, events.EvPose, name+sep+inv.Left)
}

func (g *Game) cmdEmit(inv *command.Invocation) {
	actor := inv.Ctx.Player
	if inv.Left == "" {
		return
	}
	g.emitRoom(g.DB.Location(actor), gamedb.Nothing, actor, events.EvEmit, inv.Left)
}

func (g *Game) cmdPemit(inv *command.Invocation) {
	ctx := inv.Ctx
	if !inv.HasEquals {
		g.Notify(ctx.Player, "@pemit: I need a target and message separated by =.")
		return
	}
	target, ok := g.locate(ctx, inv.Left)
	if !ok {
		return
	}
	ev := events.Event{Type: events.EvEmit, Source: ctx.Player, Text: inv.Right}
	if inv.Has("CONTENTS") {
		ev.Room = target
		g.Bus.EmitToRoom(g.DB, target, ev)
		return
	}
	g.Bus.EmitToPlayer(target, ev)
}

func (g *Game) cmdThink(inv *command.Invocation) {
	g.Notify(inv.Ctx.Player, inv.Left)
}

// cmdChat sends "<channel> <message>" to every connected player.
func (g *Game) cmdChat(inv *command.Invocation) {
	actor := inv.Ctx.Player
	channel, msg, _ := strings.Cut(strings.TrimSpace(inv.Left), " ")
	msg = strings.TrimSpace(msg)
	if channel == "" || msg == "" {
		g.Notify(actor, "Usage: @chat <channel> <message>")
		return
	}
	text := fmt.Sprintf("[%s] %s: %s", channel, g.DB.Name(actor), msg)
	for _, p := range g.Conns.ConnectedPlayers() {
		g.Bus.EmitToPlayer(p, events.Event{
			Type:    events.EvChannel,
			Source:  actor,
			Channel: channel,
			Text:    text,
		})
	}
}

// --- Movement ---

func (g *Game) cmdGo(inv *command.Invocation) {
	actor := inv.Ctx.Player
	name := strings.TrimSpace(inv.Left)
	if name == "" {
		g.Notify(actor, "Go where?")
		return
	}
	exit := g.DB.MatchExit(actor, name)
	if exit == gamedb.Nothing {
		g.Notify(actor, "You can't go that way.")
		return
	}
	ex, _ := g.DB.Get(exit)
	if !g.DB.Valid(ex.Link) {
		g.Notify(actor, "You can't go that way.")
		return
	}
	g.move(actor, ex.Link)
}

// move relocates obj and announces the departure and arrival.
func (g *Game) move(obj, dest gamedb.DBRef) {
	o, ok := g.DB.Get(obj)
	if !ok {
		return
	}
	from := o.Location
	name := g.DB.Name(obj)
	if from != gamedb.Nothing {
		g.emitRoom(from, obj, obj, events.EvMove, name+" has left.")
	}
	o.Location = dest
	g.emitRoom(dest, obj, obj, events.EvMove, name+" has arrived.")
	g.Log.Debug("moved", zap.Int("obj", int(obj)), zap.Int("from", int(from)), zap.Int("to", int(dest)))
}

// --- Attributes and flags ---

// cmdAttrSet handles "&ATTR obj=value" and "@attr obj=value". The
// attribute name arrives as the first switch.
func (g *Game) cmdAttrSet(inv *command.Invocation) {
	ctx := inv.Ctx
	if len(inv.Switches) == 0 {
		return
	}
	g.setAttr(ctx, inv.Left, inv.Switches[0], inv.Right)
}

func (g *Game) setAttr(ctx *eval.Context, target, attr, value string) {
	obj, ok := g.locate(ctx, target)
	if !ok {
		return
	}
	attr = strings.ToUpper(strings.TrimSpace(attr))
	if !g.DB.CanSetAttr(ctx.Player, obj, attr) {
		g.Notify(ctx.Player, dispatch.MsgPermission)
		return
	}
	g.DB.SetAttr(obj, attr, value)
	g.ack(ctx.Player, msgSet)
}

// cmdSet handles "@set obj=[!]FLAG" and "@set obj=attr:value".
func (g *Game) cmdSet(inv *command.Invocation) {
	ctx := inv.Ctx
	if !inv.HasEquals {
		g.Notify(ctx.Player, "Set what?")
		return
	}
	what := strings.TrimSpace(inv.Right)
	if attr, value, ok := strings.Cut(what, ":"); ok && attr != "" && !strings.HasPrefix(attr, "!") {
		g.setAttr(ctx, inv.Left, attr, strings.TrimLeft(value, " "))
		return
	}

	obj, ok := g.controlled(ctx, inv.Left)
	if !ok {
		return
	}
	set := true
	if strings.HasPrefix(what, "!") {
		set = false
		what = strings.TrimSpace(what[1:])
	}
	flag := strings.ToUpper(what)
	if _, _, known := gamedb.LookupFlag(flag); !known {
		g.Notify(ctx.Player, "I don't understand that flag.")
		return
	}
	if allowed, ok := restrictedFlags[flag]; ok && !allowed(g.DB, ctx.Player) {
		g.Notify(ctx.Player, dispatch.MsgPermission)
		return
	}
	g.DB.SetFlag(obj, flag, set)
	if flag == "HALT" || flag == "HALTED" {
		if set {
			g.Queue.Halt(obj)
		}
		g.Log.Info("halt flag changed", zap.Int("obj", int(obj)), zap.Bool("set", set),
			zap.Int("by", int(ctx.Player)))
	}
	if set {
		g.ack(ctx.Player, flag+" set.")
	} else {
		g.ack(ctx.Player, flag+" cleared.")
	}
}
