package boolexp

import (
	"strings"

	"go.uber.org/zap"

	"github.com/crystal-mush/mushcore/pkg/eval"
	"github.com/crystal-mush/mushcore/pkg/gamedb"
)

// Checker evaluates lock expressions against the world. It is the
// permission gate the dispatcher consults for command locks.
type Checker struct {
	DB   *gamedb.Database
	Eval eval.Evaluator // used by ATTR/value locks; may be nil
	Log  *zap.Logger
}

// NewChecker creates a Checker.
func NewChecker(db *gamedb.Database, ev eval.Evaluator, log *zap.Logger) *Checker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Checker{DB: db, Eval: ev, Log: log}
}

// EvalLock parses expr from actor's point of view and evaluates it with
// target as the lock's owner. An empty expression always passes.
func (c *Checker) EvalLock(actor, target gamedb.DBRef, expr string, switches []string) bool {
	b := Parse(c.DB, actor, expr, c.Log)
	if b == nil {
		return strings.TrimSpace(expr) == ""
	}
	return c.Check(actor, target, target, b, switches, 0)
}

// Check evaluates a parsed lock.
// player = the object being tested against the lock
// thing  = the object that owns the lock
// from   = the object whose attributes eval locks run
// depth  = current indirection depth
func (c *Checker) Check(player, thing, from gamedb.DBRef, b *Expr, switches []string, depth int) bool {
	if b == nil {
		return true
	}
	if depth > maxIndirDepth {
		return false
	}

	switch b.Kind {
	case And:
		return c.Check(player, thing, from, b.Sub1, switches, depth) &&
			c.Check(player, thing, from, b.Sub2, switches, depth)

	case Or:
		return c.Check(player, thing, from, b.Sub1, switches, depth) ||
			c.Check(player, thing, from, b.Sub2, switches, depth)

	case Not:
		return !c.Check(player, thing, from, b.Sub1, switches, depth)

	case Const:
		if b.Thing == gamedb.Nothing {
			return false
		}
		return player == b.Thing || c.carries(player, b.Thing)

	case Attr:
		if eval.WildMatch(b.Pattern, c.DB.GetAttr(player, b.Attr)) {
			return true
		}
		for _, item := range c.DB.Contents(player) {
			if eval.WildMatch(b.Pattern, c.DB.GetAttr(item, b.Attr)) {
				return true
			}
		}
		return false

	case Eval:
		text := c.DB.GetAttr(from, b.Attr)
		if text == "" || c.Eval == nil {
			return false
		}
		ctx := eval.NewContext(from, player)
		result := c.Eval.Evaluate(ctx, text, eval.EvEval|eval.EvFCheck)
		return eval.WildMatch(b.Pattern, result)

	case Switch:
		for _, sw := range switches {
			if eval.WildMatch(b.Pattern, sw) {
				return true
			}
		}
		return false

	case Flag:
		return c.DB.HasFlagName(player, b.Pattern)

	case Indir:
		target := b.Sub1.Thing
		text := c.DB.GetAttr(target, lockAttr)
		if text == "" {
			return true
		}
		return c.Check(player, target, from, Parse(c.DB, player, text, c.Log), switches, depth+1)

	case Carry:
		if b.Sub1.Kind == Const {
			return c.carries(player, b.Sub1.Thing)
		}
		for _, item := range c.DB.Contents(player) {
			if eval.WildMatch(b.Sub1.Pattern, c.DB.GetAttr(item, b.Sub1.Attr)) {
				return true
			}
		}
		return false

	case Is:
		if b.Sub1.Kind == Const {
			return player == b.Sub1.Thing
		}
		return eval.WildMatch(b.Sub1.Pattern, c.DB.GetAttr(player, b.Sub1.Attr))

	case Owner:
		if !c.DB.Valid(player) || !c.DB.Valid(b.Sub1.Thing) {
			return false
		}
		return c.DB.Owner(player) == c.DB.Owner(b.Sub1.Thing)
	}

	return false
}

// carries returns true if player has target in its contents.
func (c *Checker) carries(player, target gamedb.DBRef) bool {
	for _, item := range c.DB.Contents(player) {
		if item == target {
			return true
		}
	}
	return false
}
