// Package boolexp parses and evaluates lock expressions.
package boolexp

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/crystal-mush/mushcore/pkg/eval"
	"github.com/crystal-mush/mushcore/pkg/gamedb"
)

// Kind is the node type of a lock expression.
type Kind int

const (
	And    Kind = iota // Sub1 & Sub2
	Or                 // Sub1 | Sub2
	Not                // !Sub1
	Const              // #dbref: is or carries
	Attr               // ATTR:pattern on the player or its inventory
	Eval               // ATTR/value: evaluated attribute on the lock owner
	Indir              // @#dbref: the LOCK attribute of another object
	Carry              // +#dbref: carries
	Is                 // =#dbref: is exactly
	Owner              // $#dbref: same owner
	Switch             // SWITCH:pattern against the parsed command switches
	Flag               // FLAG:name on the player
)

// Reserved attribute names that make Attr nodes test something else.
const (
	switchAttr = "SWITCH"
	flagAttr   = "FLAG"
	lockAttr   = "LOCK"
)

// Maximum indirection depth for @-locks to prevent infinite loops.
const maxIndirDepth = 20

// Expr is a parsed lock expression tree.
type Expr struct {
	Kind    Kind
	Sub1    *Expr
	Sub2    *Expr
	Thing   gamedb.DBRef
	Attr    string
	Pattern string
}

// ---------- Parser ----------

// parser holds the state for parsing a lock string.
type parser struct {
	db     *gamedb.Database
	player gamedb.DBRef
	log    *zap.Logger
	src    string
	pos    int
}

func (p *parser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) skipSpaces() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

// Parse parses a lock string into an Expr tree. Names are resolved from
// player's point of view. An empty string parses to nil, which always passes.
// Grammar:
//
//	E → T ('|' E)?
//	T → F ('&' T)?
//	F → '!' F | '@' L | '+' L | '=' L | '$' L | L
//	L → '(' E ')' | '#' number | name ':' pattern | name '/' pattern | name
func Parse(db *gamedb.Database, player gamedb.DBRef, lockStr string, log *zap.Logger) *Expr {
	lockStr = strings.TrimSpace(lockStr)
	if lockStr == "" {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &parser{db: db, player: player, log: log, src: lockStr}
	return p.parseE()
}

func (p *parser) parseE() *Expr {
	left := p.parseT()
	p.skipSpaces()
	if p.peek() == '|' {
		p.pos++
		return &Expr{Kind: Or, Sub1: left, Sub2: p.parseE()}
	}
	return left
}

func (p *parser) parseT() *Expr {
	left := p.parseF()
	p.skipSpaces()
	if p.peek() == '&' {
		p.pos++
		return &Expr{Kind: And, Sub1: left, Sub2: p.parseT()}
	}
	return left
}

func (p *parser) parseF() *Expr {
	p.skipSpaces()
	var kind Kind
	switch p.peek() {
	case '!':
		p.pos++
		return &Expr{Kind: Not, Sub1: p.parseF()}
	case '@':
		kind = Indir
	case '+':
		kind = Carry
	case '=':
		kind = Is
	case '$':
		kind = Owner
	default:
		return p.parseLiteral()
	}
	p.pos++
	sub := p.parseLiteral()
	if sub == nil {
		return nil
	}
	switch {
	case sub.Kind == Const:
	case sub.Kind == Attr && (kind == Carry || kind == Is):
	default:
		return nil
	}
	return &Expr{Kind: kind, Sub1: sub}
}

func (p *parser) parseLiteral() *Expr {
	p.skipSpaces()
	if p.peek() == '(' {
		p.pos++
		sub := p.parseE()
		p.skipSpaces()
		if p.peek() == ')' {
			p.pos++
		}
		return sub
	}

	// Collect a name token up to an operator, or a name:pattern / name/pattern pair
	start := p.pos
	for p.pos < len(p.src) {
		ch := p.src[p.pos]
		if ch == '&' || ch == '|' || ch == '!' || ch == '(' || ch == ')' {
			break
		}
		if ch == ':' || ch == '/' {
			name := strings.ToUpper(strings.TrimSpace(p.src[start:p.pos]))
			p.pos++
			patStart := p.pos
			for p.pos < len(p.src) {
				pc := p.src[p.pos]
				if pc == '&' || pc == '|' || pc == ')' {
					break
				}
				p.pos++
			}
			pattern := strings.TrimSpace(p.src[patStart:p.pos])
			if ch == '/' {
				return &Expr{Kind: Eval, Attr: name, Pattern: pattern}
			}
			switch name {
			case switchAttr:
				return &Expr{Kind: Switch, Pattern: pattern}
			case flagAttr:
				return &Expr{Kind: Flag, Pattern: pattern}
			}
			return &Expr{Kind: Attr, Attr: name, Pattern: pattern}
		}
		p.pos++
	}

	token := strings.TrimSpace(p.src[start:p.pos])
	if token == "" {
		return nil
	}

	if ref, ok := eval.ParseDBRef(token); ok {
		return &Expr{Kind: Const, Thing: ref}
	}

	if ref := eval.Resolve(p.db, p.player, token); ref != gamedb.Nothing {
		return &Expr{Kind: Const, Thing: ref}
	}

	// Unresolved names make an impossible lock
	p.log.Debug("BOOLEXP: unresolved name in lock", zap.String("name", token))
	return &Expr{Kind: Const, Thing: gamedb.Nothing}
}

// ---------- Unparse ----------

// Unparse converts an Expr back to a re-parseable lock string.
func Unparse(b *Expr) string {
	if b == nil {
		return ""
	}
	switch b.Kind {
	case And:
		left := Unparse(b.Sub1)
		if b.Sub1 != nil && b.Sub1.Kind == Or {
			left = "(" + left + ")"
		}
		return left + "&" + Unparse(b.Sub2)
	case Or:
		return Unparse(b.Sub1) + "|" + Unparse(b.Sub2)
	case Not:
		return "!" + Unparse(b.Sub1)
	case Const:
		return "#" + strconv.Itoa(int(b.Thing))
	case Attr:
		return b.Attr + ":" + b.Pattern
	case Eval:
		return b.Attr + "/" + b.Pattern
	case Switch:
		return switchAttr + ":" + b.Pattern
	case Flag:
		return flagAttr + ":" + b.Pattern
	case Indir:
		return "@" + Unparse(b.Sub1)
	case Carry:
		return "+" + Unparse(b.Sub1)
	case Is:
		return "=" + Unparse(b.Sub1)
	case Owner:
		return "$" + Unparse(b.Sub1)
	}
	return "?"
}
