package eval_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystal-mush/mushcore/pkg/eval"
	"github.com/crystal-mush/mushcore/pkg/eval/functions"
	"github.com/crystal-mush/mushcore/pkg/gamedb"
)

// newTestInterp builds:
//
//	#0 Limbo (ROOM)
//	#1 Wizard (PLAYER, WIZARD) in #0
//	#2 Widget (THING) in #0, owner=#1
//	#3 Bob (PLAYER) in #0, SEX=male
func newTestInterp(t *testing.T) (*eval.Interp, *gamedb.Database) {
	t.Helper()
	db := gamedb.NewDatabase()
	db.Create("Limbo", gamedb.TypeRoom, 1, gamedb.Nothing)
	wiz := db.Create("Wizard", gamedb.TypePlayer, gamedb.Nothing, 0)
	wiz.Flags[0] |= gamedb.FlagWizard
	db.Create("Widget", gamedb.TypeThing, 1, 0)
	db.Create("Bob", gamedb.TypePlayer, gamedb.Nothing, 0)
	db.SetAttr(3, "SEX", "male")
	db.SetAttr(2, "COLOR", "blue")

	in := eval.NewInterp(db)
	functions.RegisterAll(in)
	return in, db
}

func TestEvaluateSubstitutions(t *testing.T) {
	in, _ := newTestInterp(t)
	ctx := eval.NewContext(1, 3)
	ctx.Args = []string{"alpha", "beta"}

	tests := []struct {
		input string
		want  string
	}{
		{"%0-%1", "alpha-beta"},
		{"%#", "#3"},
		{"%!", "#1"},
		{"%n says", "Bob says"},
		{"%s waves", "he waves"},
		{"%S waves", "He waves"},
		{"%l", "#0"},
		{"100%%", "100%"},
		{"a%bb", "a b"},
		{"%+", "2"},
		{`\[add(1,2)]`, "[add(1,2)]"},
	}
	for _, tt := range tests {
		got := in.Evaluate(ctx, tt.input, eval.EvEval|eval.EvFCheck)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
	}
}

func TestEvaluateFunctions(t *testing.T) {
	in, _ := newTestInterp(t)
	ctx := eval.NewContext(1, 1)

	assert.Equal(t, "3", in.Evaluate(ctx, "add(1,2)", eval.EvEval|eval.EvFCheck))
	assert.Equal(t, "3 apples", in.Evaluate(ctx, "[add(1,2)] apples", eval.EvEval|eval.EvFCheck))
	assert.Equal(t, "say add(1,2)", in.Evaluate(ctx, "say add(1,2)", eval.EvEval|eval.EvFCheck))
	assert.Equal(t, "#-1 FUNCTION (NOPE) NOT FOUND", in.Evaluate(ctx, "[nope(1)]", eval.EvEval|eval.EvFCheck))
	assert.Equal(t, "blue", in.Evaluate(ctx, "[get(#2/color)]", eval.EvEval|eval.EvFCheck))
	assert.Equal(t, "yes", in.Evaluate(ctx, "[if(eq(1,1),yes,no)]", eval.EvEval|eval.EvFCheck))
	assert.Equal(t, "%0", in.Evaluate(ctx, "[lit(%0)]", eval.EvEval|eval.EvFCheck))
}

func TestEvaluateRegisters(t *testing.T) {
	in, _ := newTestInterp(t)
	ctx := eval.NewContext(1, 1)

	got := in.Evaluate(ctx, "[setq(0,hello)][setq(tag,world)]%q0 %q<tag> [r(0)]", eval.EvEval|eval.EvFCheck)
	assert.Equal(t, "hello world hello", got)
	assert.Equal(t, "hello", ctx.Regs.Get("0"))
	assert.Equal(t, "world", ctx.Regs.Get("TAG"))
}

func TestEvaluateBraces(t *testing.T) {
	in, _ := newTestInterp(t)
	ctx := eval.NewContext(1, 1)

	assert.Equal(t, "a b", in.Evaluate(ctx, "{a b}", eval.EvEval|eval.EvStrip))
	assert.Equal(t, "{a b}", in.Evaluate(ctx, "{a b}", eval.EvEval))
	assert.Equal(t, "x;y", in.Evaluate(ctx, "{x;y}", eval.EvStrip))
	assert.Equal(t, "%0", in.Evaluate(ctx, "%0", 0))
}

func TestEvaluateDeadline(t *testing.T) {
	in, _ := newTestInterp(t)
	now := time.Unix(1000, 0)
	in.Now = func() time.Time { return now }

	ctx := eval.NewContext(1, 1)
	ctx.Deadline = now.Add(-time.Millisecond)

	got := in.Evaluate(ctx, "[add(1,2)]", eval.EvEval|eval.EvFCheck)
	assert.Equal(t, "", got)
	assert.True(t, ctx.Overrun)
	assert.True(t, ctx.Halted())
}

func TestEvaluateInvocationLimit(t *testing.T) {
	in, _ := newTestInterp(t)
	in.FuncInvkLim = 3
	ctx := eval.NewContext(1, 1)

	got := in.Evaluate(ctx, "[add(1,1)] [add(1,1)] [add(1,1)]", eval.EvEval|eval.EvFCheck)
	assert.Equal(t, "2 2 #-1 FUNCTION INVOCATION LIMIT EXCEEDED", got)
}

func TestContextClone(t *testing.T) {
	ctx := eval.NewContext(1, 3)
	ctx.Args = []string{"a"}
	ctx.Regs.Set("0", "x")
	ctx.FuncInvkCtr = 10
	ctx.Breaking = true

	cp := ctx.Clone()
	cp.Args[0] = "changed"
	cp.Regs.Set("0", "y")

	assert.Equal(t, "a", ctx.Args[0])
	assert.Equal(t, "x", ctx.Regs.Get("0"))
	assert.Equal(t, 0, cp.FuncInvkCtr)
	assert.False(t, cp.Breaking)
	assert.Equal(t, gamedb.DBRef(3), cp.Cause)
}

func TestSplitChain(t *testing.T) {
	parts := eval.SplitChain(`say a;@wait 5={say b;say c};say [add(1,2)];x\;y`)
	require.Len(t, parts, 4)
	assert.Equal(t, "say a", parts[0])
	assert.Equal(t, "@wait 5={say b;say c}", parts[1])
	assert.Equal(t, "say [add(1,2)]", parts[2])
	assert.Equal(t, `x\;y`, parts[3])
}

func TestWildMatchCapture(t *testing.T) {
	caps := eval.WildMatchCapture("@pemit *=*", "@pemit Bob=Hello There")
	require.NotNil(t, caps)
	assert.Equal(t, []string{"Bob", "Hello There"}, caps)

	assert.True(t, eval.WildMatch("HEL?O", "hello"))
	assert.False(t, eval.WildMatch("abc", "abcd"))
	assert.Nil(t, eval.WildMatchCapture("x*", "yes"))
}

func TestResolve(t *testing.T) {
	_, db := newTestInterp(t)

	assert.Equal(t, gamedb.DBRef(3), eval.Resolve(db, 3, "me"))
	assert.Equal(t, gamedb.DBRef(0), eval.Resolve(db, 3, "here"))
	assert.Equal(t, gamedb.DBRef(2), eval.Resolve(db, 3, "#2"))
	assert.Equal(t, gamedb.DBRef(2), eval.Resolve(db, 3, "widget"))
	assert.Equal(t, gamedb.DBRef(1), eval.Resolve(db, 3, "*wizard"))
	assert.Equal(t, gamedb.Nothing, eval.Resolve(db, 3, "#99"))
}
