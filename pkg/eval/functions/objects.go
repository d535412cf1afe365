package functions

import (
	"strings"

	"github.com/crystal-mush/mushcore/pkg/eval"
	"github.com/crystal-mush/mushcore/pkg/gamedb"
)

func fnName(in *eval.Interp, ctx *eval.Context, args []string, buf *strings.Builder) {
	ref := eval.Resolve(in.DB, ctx.Player, args[0])
	if !in.DB.Valid(ref) {
		buf.WriteString("#-1 NOT FOUND")
		return
	}
	if in.DB.TypeOf(ref) == gamedb.TypeExit {
		buf.WriteString(in.DB.ExitName(ref))
		return
	}
	buf.WriteString(in.DB.Name(ref))
}

func fnNum(in *eval.Interp, ctx *eval.Context, args []string, buf *strings.Builder) {
	buf.WriteString(eval.FormatDBRef(eval.Resolve(in.DB, ctx.Player, args[0])))
}

func fnLoc(in *eval.Interp, ctx *eval.Context, args []string, buf *strings.Builder) {
	ref := eval.Resolve(in.DB, ctx.Player, args[0])
	if !in.DB.Valid(ref) {
		buf.WriteString("#-1 NOT FOUND")
		return
	}
	buf.WriteString(eval.FormatDBRef(in.DB.Location(ref)))
}

func fnOwner(in *eval.Interp, ctx *eval.Context, args []string, buf *strings.Builder) {
	ref := eval.Resolve(in.DB, ctx.Player, args[0])
	if !in.DB.Valid(ref) {
		buf.WriteString("#-1 NOT FOUND")
		return
	}
	buf.WriteString(eval.FormatDBRef(in.DB.Owner(ref)))
}

// get(obj/attr) returns an attribute the executor controls the object of.
func fnGet(in *eval.Interp, ctx *eval.Context, args []string, buf *strings.Builder) {
	objName, attr, ok := strings.Cut(args[0], "/")
	if !ok {
		buf.WriteString("#-1 BAD ARGUMENT FORMAT TO GET")
		return
	}
	ref := eval.Resolve(in.DB, ctx.Player, objName)
	if !in.DB.Valid(ref) {
		buf.WriteString("#-1 NO MATCH")
		return
	}
	if gamedb.AttrFlags(attr)&gamedb.AFDark != 0 && !in.DB.IsGod(ctx.Player) {
		buf.WriteString("#-1 PERMISSION DENIED")
		return
	}
	if !in.DB.Controls(ctx.Player, ref) && in.DB.Owner(ctx.Player) != in.DB.Owner(ref) {
		buf.WriteString("#-1 PERMISSION DENIED")
		return
	}
	buf.WriteString(in.DB.GetAttr(ref, attr))
}

func fnHasflag(in *eval.Interp, ctx *eval.Context, args []string, buf *strings.Builder) {
	ref := eval.Resolve(in.DB, ctx.Player, args[0])
	if !in.DB.Valid(ref) {
		buf.WriteString("#-1 NOT FOUND")
		return
	}
	buf.WriteString(boolToStr(in.DB.HasFlagName(ref, args[1])))
}
