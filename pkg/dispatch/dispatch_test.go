package dispatch

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystal-mush/mushcore/pkg/boolexp"
	"github.com/crystal-mush/mushcore/pkg/command"
	"github.com/crystal-mush/mushcore/pkg/eval"
	"github.com/crystal-mush/mushcore/pkg/eval/functions"
	"github.com/crystal-mush/mushcore/pkg/gamedb"
)

type harness struct {
	d      *Dispatcher
	db     *gamedb.Database
	calls  []*command.Invocation
	thinks []string
	notes  []string
	marks  []string
}

func (h *harness) last() *command.Invocation {
	if len(h.calls) == 0 {
		return nil
	}
	return h.calls[len(h.calls)-1]
}

// #0 Limbo, #1 God, #2 Wiz, #3 Bob, #4 Guest, #5 gadget (Bob's), #6 North;n
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{}

	db := gamedb.NewDatabase()
	db.Create("Limbo", gamedb.TypeRoom, 1, gamedb.Nothing)
	db.Create("God", gamedb.TypePlayer, gamedb.Nothing, 0)
	wiz := db.Create("Wiz", gamedb.TypePlayer, gamedb.Nothing, 0)
	wiz.Flags[0] |= gamedb.FlagWizard
	db.Create("Bob", gamedb.TypePlayer, gamedb.Nothing, 0)
	guest := db.Create("Guest", gamedb.TypePlayer, gamedb.Nothing, 0)
	guest.Powers[0] |= gamedb.PowGuest
	db.Create("gadget", gamedb.TypeThing, 3, 0)
	exit := db.Create("North;n", gamedb.TypeExit, 1, 0)
	exit.Link = 0
	h.db = db

	in := eval.NewInterp(db)
	functions.RegisterAll(in)
	in.Register("mark", func(_ *eval.Interp, _ *eval.Context, args []string, _ *strings.Builder) {
		h.marks = append(h.marks, args[0])
	}, 1, 0)

	record := command.HandlerFunc(func(inv *command.Invocation) {
		h.calls = append(h.calls, inv)
	})
	think := command.HandlerFunc(func(inv *command.Invocation) {
		h.calls = append(h.calls, inv)
		h.thinks = append(h.thinks, fmt.Sprintf("#%d %s", inv.Ctx.Player, inv.Left))
	})
	brk := command.HandlerFunc(func(inv *command.Invocation) {
		inv.Ctx.Breaking = true
	})

	reg := command.NewRegistry()
	for _, c := range []*command.Command{
		{Name: "say", Handler: record},
		{Name: "pose", Switches: []string{"nospace"}, Handler: record},
		{Name: "@emit", Handler: record},
		{Name: "@chat", Handler: record},
		{Name: "@force", Flags: command.TwoArgs | command.NoEvalRight, Handler: record},
		{Name: "go", Handler: record},
		{Name: "__attrset", Flags: command.TwoArgs, Handler: record},
		{Name: "think", Handler: think},
		{Name: "@break", Flags: command.NoArgs, Handler: brk},
		{Name: "@halt", Switches: []string{"all", "pid"}, Handler: record},
		{Name: "@pemit", Flags: command.TwoArgs, Handler: record},
		{Name: "@trigger", Flags: command.TwoArgs | command.ArgvRight, Handler: record},
		{Name: "@wait", Flags: command.TwoArgs | command.NoEvalRight, Handler: record},
		{Name: "@shutdown", Perms: command.PermWizard, Handler: record},
		{Name: "@any", Flags: command.FreeSwitches, Handler: record},
		{Name: "@dig", Types: command.TypeThing, Handler: record},
	} {
		reg.MustRegister(c)
	}

	notify := NotifyFunc(func(target gamedb.DBRef, msg string) {
		h.notes = append(h.notes, fmt.Sprintf("#%d %s", target, msg))
	})
	h.d = New(reg, db, in, boolexp.NewChecker(db, in, nil), notify, nil)
	return h
}

func (h *harness) run(t *testing.T, actor gamedb.DBRef, line string) (string, bool) {
	t.Helper()
	return h.d.Dispatch(eval.NewContext(actor, actor), line, true)
}

func TestTokenRewrites(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		line     string
		cmd      string
		switches []string
		left     string
		right    string
	}{
		{`"hello [add(1,1)]`, "say", nil, "hello 2", ""},
		{":waves", "pose", nil, "waves", ""},
		{";'s happy", "pose", []string{"NOSPACE"}, "'s happy", ""},
		{`\The wind howls.`, "@emit", nil, "The wind howls.", ""},
		{"=pub hi", "@chat", nil, "pub hi", ""},
		{"#5 say hi [add(1,2)]", "@force", nil, "#5", "say hi [add(1,2)]"},
		{"&color me=red", "__attrset", []string{"COLOR"}, "me", "red"},
		{"@color me=blue", "__attrset", []string{"COLOR"}, "me", "blue"},
		{"n", "go", nil, "n", ""},
		{"NORTH", "go", nil, "NORTH", ""},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			_, ok := h.run(t, 3, tt.line)
			require.True(t, ok)
			inv := h.last()
			require.NotNil(t, inv)
			assert.Equal(t, tt.cmd, inv.Cmd.Name)
			assert.Equal(t, tt.switches, inv.Switches)
			assert.Equal(t, tt.left, inv.Left)
			assert.Equal(t, tt.right, inv.Right)
		})
	}
}

func TestResidual(t *testing.T) {
	h := newHarness(t)

	res, ok := h.run(t, 3, "xyzzy [add(1,2)]")
	assert.False(t, ok)
	assert.Equal(t, "xyzzy 3", res)

	res, ok = h.run(t, 3, "__attrset me=x")
	assert.False(t, ok, "internal commands cannot be typed")
	assert.Equal(t, "__attrset me=x", res)

	require.NoError(t, h.d.Reg.Enable("say", false))
	_, ok = h.run(t, 3, `"hi`)
	assert.False(t, ok, "disabled commands fall through")
	assert.Empty(t, h.calls)
}

func TestSwitches(t *testing.T) {
	h := newHarness(t)

	h.run(t, 3, "@ha/a me")
	assert.Equal(t, []string{"ALL"}, h.last().Switches)

	h.run(t, 3, "@halt/")
	assert.Equal(t, []string{command.SwNoneMatched}, h.last().Switches)

	h.run(t, 3, "@any/Whatever/x")
	assert.Equal(t, []string{"WHATEVER", "X"}, h.last().Switches)

	n := len(h.calls)
	_, ok := h.run(t, 3, "@halt/zz me")
	assert.True(t, ok)
	assert.Len(t, h.calls, n)
	assert.Equal(t, []string{"#3 Unrecognized switch 'zz' for command '@halt'."}, h.notes)

	// A bad switch on a command the actor may not run reports the denial only.
	h.notes = nil
	h.run(t, 3, "@shutdown/zz")
	assert.Equal(t, []string{"#3 Permission denied."}, h.notes)
}

func TestPermissionGate(t *testing.T) {
	h := newHarness(t)
	reg := h.d.Reg

	h.run(t, 3, "@shutdown")
	assert.Empty(t, h.calls)
	h.run(t, 2, "@shutdown")
	assert.Len(t, h.calls, 1)

	h.run(t, 3, "@dig here")
	assert.Len(t, h.calls, 1, "players are not an accepted type")
	h.run(t, 1, "@dig here")
	assert.Len(t, h.calls, 2, "God passes every restriction")

	require.NoError(t, reg.Restrict("say", []string{"no_guest"}, "Guests may not speak."))
	h.notes = nil
	h.run(t, 4, `"hello`)
	assert.Equal(t, []string{"#4 Guests may not speak."}, h.notes)

	require.NoError(t, reg.SetLock("@halt", "FLAG:wizard|!SWITCH:ALL"))
	n := len(h.calls)
	h.run(t, 3, "@halt me")
	h.run(t, 3, "@halt/all")
	h.run(t, 2, "@halt/all")
	assert.Len(t, h.calls, n+2)
	assert.Equal(t, gamedb.DBRef(2), h.last().Ctx.Player)
}

func TestArgumentParsing(t *testing.T) {
	h := newHarness(t)

	h.run(t, 3, "@pemit me=[add(1,2)]")
	inv := h.last()
	assert.True(t, inv.HasEquals)
	assert.Equal(t, "me", inv.Left)
	assert.Equal(t, "3", inv.Right)

	h.run(t, 3, "@pemit ~[add(1,1)]=[add(1,2)]")
	inv = h.last()
	assert.Equal(t, "2", inv.Left, "left side is evaluated when a right side exists")
	assert.Equal(t, "[add(1,2)]", inv.Right)

	h.run(t, 3, "think ~[add(1,2)]")
	assert.Equal(t, "[add(1,2)]", h.last().Left)

	h.run(t, 3, "@trigger me/go=a, [add(1,1)] ,{c,d}")
	assert.Equal(t, []string{"", "a", "2", "c,d"}, h.last().RightArgv)

	h.run(t, 3, "@wait 5=say [add(1,1)]")
	inv = h.last()
	assert.Equal(t, "5", inv.Left)
	assert.Equal(t, "say [add(1,1)]", inv.Right)

	h.run(t, 3, "@pemit me")
	assert.False(t, h.last().HasEquals)
}

func TestHooks(t *testing.T) {
	h := newHarness(t)
	reg := h.d.Reg
	h.db.SetAttr(0, "BEFORE", "[mark(before)][setq(0,clobbered)]")
	h.db.SetAttr(0, "AFTER", "[mark(after %0)]")
	require.NoError(t, reg.SetHook("say", command.HookBefore, &command.Hook{Obj: 0, Attr: "BEFORE"}))
	require.NoError(t, reg.SetHook("say", command.HookAfter, &command.Hook{Obj: 0, Attr: "AFTER"}))

	ctx := eval.NewContext(3, 3)
	ctx.Regs.Set("0", "mine")
	_, ok := h.d.Dispatch(ctx, "say hi", true)
	require.True(t, ok)
	assert.Equal(t, []string{"before", "after hi"}, h.marks)
	assert.Len(t, h.calls, 1)
	assert.Equal(t, "mine", ctx.Regs.Get("0"), "registers survive hooks")
}

func TestIgnoreHook(t *testing.T) {
	h := newHarness(t)
	h.db.SetAttr(0, "GATE", "[strmatch(%#,#2)]")
	require.NoError(t, h.d.Reg.SetHook("say", command.HookIgnore, &command.Hook{Obj: 0, Attr: "GATE"}))

	res, ok := h.run(t, 3, "say hi")
	assert.False(t, ok)
	assert.Equal(t, "say hi", res)
	assert.Empty(t, h.calls)

	_, ok = h.run(t, 2, "say hi")
	assert.True(t, ok)
	assert.Len(t, h.calls, 1)
}

func TestOverrideHook(t *testing.T) {
	h := newHarness(t)
	h.db.SetAttr(0, "OVR", "$@pemit *=*:think to %0: %1")
	require.NoError(t, h.d.Reg.SetHook("@pemit", command.HookOverride, &command.Hook{Obj: 0, Attr: "OVR"}))

	h.run(t, 3, "@pemit me=hello")
	assert.Equal(t, []string{"#0 to me: hello"}, h.thinks)
	require.Len(t, h.calls, 1, "only the overriding think ran")
	assert.Equal(t, "think", h.calls[0].Cmd.Name)

	h.run(t, 3, "@pemit me")
	assert.Len(t, h.calls, 2, "non-matching text runs the command itself")
	assert.Equal(t, "@pemit", h.last().Cmd.Name)
}

func TestRunChain(t *testing.T) {
	h := newHarness(t)

	ctx := eval.NewContext(3, 3)
	h.d.RunChain(ctx, "think a;think [add(1,1)];@break;think c")
	assert.Equal(t, []string{"#3 a", "#3 2"}, h.thinks)
	assert.Zero(t, ctx.ChainDepth)

	h.notes = nil
	h.d.RunChain(eval.NewContext(3, 3), "frobnicate")
	assert.Equal(t, []string{"#3 " + MsgHuh}, h.notes)

	h.d.Unmatched = func(_ *eval.Context, residual string) bool { return residual == "frobnicate" }
	h.notes = nil
	h.d.RunChain(eval.NewContext(3, 3), "frobnicate")
	assert.Empty(t, h.notes)
}

func TestRunChainLimits(t *testing.T) {
	h := newHarness(t)

	ctx := eval.NewContext(3, 3)
	ctx.ChainDepth = h.d.NestLimit
	h.d.RunChain(ctx, "think nested")
	assert.Empty(t, h.thinks)

	base := time.Unix(1000, 0)
	h.d.Now = func() time.Time { return base }
	ctx = eval.NewContext(3, 3)
	ctx.Deadline = base.Add(-time.Millisecond)
	h.d.RunChain(ctx, "think late")
	assert.Empty(t, h.thinks)
	assert.True(t, ctx.Overrun)
}

func TestStubCommands(t *testing.T) {
	h := newHarness(t)
	reg := h.d.Reg

	h.db.SetAttr(5, "CMD_HI", "think hi %0")
	_, err := reg.AddStub("+hi", command.Hook{Obj: 5, Attr: "CMD_HI"})
	require.NoError(t, err)
	h.run(t, 3, "+hi there")
	assert.Equal(t, []string{"#5 hi there"}, h.thinks)

	h.db.SetAttr(5, "CMD_WAVE", "$+wave *:think waves at %0")
	_, err = reg.AddStub("+wave", command.Hook{Obj: 5, Attr: "CMD_WAVE"})
	require.NoError(t, err)
	h.run(t, 3, "+wa Bob")
	assert.Equal(t, "#5 waves at Bob", h.thinks[len(h.thinks)-1])

	require.NoError(t, reg.RemoveStub("+wave"))
	_, ok := h.run(t, 3, "+wave Bob")
	assert.False(t, ok)
}

func TestCursorSplits(t *testing.T) {
	l, r, ok := splitEquals("a{=}b[x=y]\\=c=d=e")
	assert.True(t, ok)
	assert.Equal(t, "a{=}b[x=y]\\=c", l)
	assert.Equal(t, "d=e", r)

	name, sws, slash := splitWord("@halt/all/pid")
	assert.Equal(t, "@halt", name)
	assert.Equal(t, []string{"all", "pid"}, sws)
	assert.True(t, slash)
}
