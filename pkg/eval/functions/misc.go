package functions

import (
	"strings"

	"github.com/crystal-mush/mushcore/pkg/eval"
)

// Register functions: setq, setr, r

func fnSetq(_ *eval.Interp, ctx *eval.Context, args []string, _ *strings.Builder) {
	// setq(register, value[, register, value, ...])
	for i := 0; i+1 < len(args); i += 2 {
		ctx.Regs.Set(args[i], args[i+1])
	}
}

func fnSetr(_ *eval.Interp, ctx *eval.Context, args []string, buf *strings.Builder) {
	ctx.Regs.Set(args[0], args[1])
	buf.WriteString(args[1])
}

func fnR(_ *eval.Interp, ctx *eval.Context, args []string, buf *strings.Builder) {
	buf.WriteString(ctx.Regs.Get(args[0]))
}

// Utility functions

func fnNull(_ *eval.Interp, _ *eval.Context, _ []string, _ *strings.Builder) {
	// Evaluates args (already done) but returns nothing
}

func fnLit(_ *eval.Interp, _ *eval.Context, args []string, buf *strings.Builder) {
	buf.WriteString(args[0])
}

// if(cond, then[, else]); the branches are evaluated lazily.
func fnIf(in *eval.Interp, ctx *eval.Context, args []string, buf *strings.Builder) {
	if len(args) < 2 {
		return
	}
	cond := in.Exec(ctx, args[0], eval.EvFCheck)
	if isTrue(cond) {
		buf.WriteString(in.Exec(ctx, args[1], eval.EvFCheck|eval.EvStrip))
	} else if len(args) > 2 {
		buf.WriteString(in.Exec(ctx, args[2], eval.EvFCheck|eval.EvStrip))
	}
}
