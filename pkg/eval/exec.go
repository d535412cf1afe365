package eval

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/crystal-mush/mushcore/pkg/gamedb"
)

// Interp is the default Evaluator: %-substitutions, [function] calls,
// {} grouping and \ escapes over a gamedb.Database.
type Interp struct {
	DB            *gamedb.Database
	Functions     map[string]*Function
	FuncNestLim   int // default 50
	FuncInvkLim   int // default 2500
	SpaceCompress bool
	Now           func() time.Time
}

// NewInterp creates an Interp with reasonable defaults and no functions.
func NewInterp(db *gamedb.Database) *Interp {
	return &Interp{
		DB:            db,
		Functions:     make(map[string]*Function),
		FuncNestLim:   50,
		FuncInvkLim:   2500,
		SpaceCompress: true,
		Now:           time.Now,
	}
}

// Register adds a built-in function to the registry.
func (in *Interp) Register(name string, handler FnHandler, nargs int, flags int) {
	name = strings.ToUpper(name)
	in.Functions[name] = &Function{
		Name:    name,
		Handler: handler,
		NArgs:   nargs,
		Flags:   flags,
	}
}

// Alias creates an alias for an existing function.
func (in *Interp) Alias(alias, target string) {
	if fn, ok := in.Functions[strings.ToUpper(target)]; ok {
		in.Functions[strings.ToUpper(alias)] = fn
	}
}

// Evaluate implements Evaluator. Without EvEval the text is returned as is,
// minus one level of enclosing braces when EvStrip is set.
func (in *Interp) Evaluate(ctx *Context, text string, flags int) string {
	if flags&EvEval == 0 {
		if flags&EvStrip != 0 {
			return StripOuterBraces(text)
		}
		return text
	}
	var buf strings.Builder
	buf.Grow(len(text) * 2)
	in.exec(ctx, &buf, text, flags)
	return buf.String()
}

// Exec evaluates a nested expression with the given flags, as a
// function handler would for its FnNoEval arguments.
func (in *Interp) Exec(ctx *Context, input string, flags int) string {
	var buf strings.Builder
	in.exec(ctx, &buf, input, flags|EvEval)
	return buf.String()
}

func (in *Interp) now() time.Time {
	if in.Now == nil {
		return time.Now()
	}
	return in.Now()
}

// exec is the internal recursive evaluator.
func (in *Interp) exec(ctx *Context, buf *strings.Builder, input string, evalFlags int) {
	if input == "" || ctx.CheckDeadline(in.now()) {
		return
	}

	pos := 0
	atSpace := true
	oldLen := buf.Len() // Track where function name starts for ( handling

	for pos < len(input) {
		if ctx.Overrun {
			return
		}
		ch := input[pos]

		switch ch {
		case ' ':
			// Only a leading word can name a function outside []
			if !atSpace && evalFlags&EvFMand == 0 {
				evalFlags &^= EvFCheck
			}
			if !(in.SpaceCompress && atSpace) || (evalFlags&EvNoCompress != 0) {
				buf.WriteByte(' ')
				atSpace = true
			}
			pos++

		case '\\':
			atSpace = false
			pos++
			if pos < len(input) {
				buf.WriteByte(input[pos])
				pos++
			}

		case '[':
			atSpace = false
			if evalFlags&EvNoFCheck != 0 {
				buf.WriteByte('[')
				pos++
				break
			}
			pos++
			inner, newPos, found := parseTo(input, pos, ']')
			if !found {
				buf.WriteByte('[')
				break
			}
			in.exec(ctx, buf, inner, evalFlags|EvFCheck|EvFMand)
			pos = newPos + 1

		case '{':
			atSpace = false
			pos++
			inner, newPos, found := parseTo(input, pos, '}')
			if !found {
				buf.WriteByte('{')
				break
			}
			if evalFlags&EvStrip == 0 {
				buf.WriteByte('{')
			}
			// Preserve leading space
			if len(inner) > 0 && inner[0] == ' ' {
				buf.WriteByte(' ')
				inner = inner[1:]
			}
			in.exec(ctx, buf, inner, evalFlags&^(EvStrip|EvFCheck))
			if evalFlags&EvStrip == 0 {
				buf.WriteByte('}')
			}
			pos = newPos + 1

		case '%':
			atSpace = false
			pos++
			if pos >= len(input) {
				break
			}
			pos = in.handlePercent(ctx, buf, input, pos, evalFlags)

		case '(':
			atSpace = false
			if evalFlags&EvFCheck == 0 {
				buf.WriteByte('(')
				pos++
				break
			}
			fullBuf := buf.String()
			funcName := strings.ToUpper(strings.TrimSpace(fullBuf[oldLen:]))
			fn, ok := in.Functions[funcName]
			if !ok {
				if evalFlags&EvFMand != 0 {
					buf.Reset()
					buf.WriteString(fullBuf[:oldLen])
					fmt.Fprintf(buf, "#-1 FUNCTION (%s) NOT FOUND", funcName)
					return
				}
				buf.WriteByte('(')
				pos++
				evalFlags &^= EvFCheck
				break
			}

			pos++ // skip '('
			args, newPos, found := parseArgList(input, pos, ')')
			if !found {
				buf.WriteByte('(')
				evalFlags &^= EvFCheck
				break
			}
			pos = newPos + 1

			var evaledArgs []string
			if fn.Flags&FnNoEval != 0 {
				evaledArgs = args
			} else {
				evaledArgs = make([]string, len(args))
				for i, arg := range args {
					evaledArgs[i] = in.Exec(ctx, arg, EvFCheck)
				}
			}

			// Back up over the function name in the output buffer
			buf.Reset()
			buf.WriteString(fullBuf[:oldLen])

			nfargs := len(evaledArgs)
			// Empty () yields one null arg
			if nfargs == 1 && evaledArgs[0] == "" && fn.NArgs <= 0 {
				evaledArgs = nil
				nfargs = 0
			}

			ctx.FuncNestLev++
			ctx.FuncInvkCtr++
			switch {
			case ctx.CheckDeadline(in.now()):
			case ctx.FuncNestLev >= in.FuncNestLim:
				buf.WriteString("#-1 FUNCTION RECURSION LIMIT EXCEEDED")
			case ctx.FuncInvkCtr >= in.FuncInvkLim:
				buf.WriteString("#-1 FUNCTION INVOCATION LIMIT EXCEEDED")
			case fn.Flags&FnVarArgs != 0 || nfargs == fn.NArgs || (fn.NArgs < 0 && nfargs <= -fn.NArgs):
				fn.Handler(in, ctx, evaledArgs, buf)
			default:
				fmt.Fprintf(buf, "#-1 FUNCTION (%s) EXPECTS %d ARGUMENTS BUT GOT %d",
					fn.Name, fn.NArgs, nfargs)
			}
			ctx.FuncNestLev--
			evalFlags &^= EvFCheck

		default:
			atSpace = false
			start := pos
			for pos < len(input) && !isSpecial(input[pos]) {
				pos++
			}
			if pos == start {
				buf.WriteByte(ch)
				pos++
			} else {
				buf.WriteString(input[start:pos])
			}
		}

		// Track where the next potential function name starts
		if ch == ')' || ch == ']' || ch == ' ' || ch == ',' {
			oldLen = buf.Len()
		}
	}
}

// handlePercent processes a %-substitution starting at input[pos] (the char after %).
// Returns the new position.
func (in *Interp) handlePercent(ctx *Context, buf *strings.Builder, input string, pos int, evalFlags int) int {
	ch := input[pos]
	switch ch {
	case '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		buf.WriteString(ctx.Arg(int(ch - '0')))
		return pos + 1

	case 'r', 'R':
		buf.WriteString("\r\n")
		return pos + 1

	case 't', 'T':
		buf.WriteByte('\t')
		return pos + 1

	case 'b', 'B':
		buf.WriteByte(' ')
		return pos + 1

	case '%':
		buf.WriteByte('%')
		return pos + 1

	case '#':
		buf.WriteString(FormatDBRef(ctx.Cause))
		return pos + 1

	case '!':
		buf.WriteString(FormatDBRef(ctx.Player))
		return pos + 1

	case '@':
		buf.WriteString(FormatDBRef(ctx.Caller))
		return pos + 1

	case 'n', 'N':
		if obj, ok := in.DB.Get(ctx.Cause); ok {
			name := obj.Name
			if ch == 'N' && len(name) > 0 {
				name = strings.ToUpper(name[:1]) + name[1:]
			}
			buf.WriteString(name)
		}
		return pos + 1

	case 'l', 'L':
		if evalFlags&EvNoLocation == 0 {
			buf.WriteString(FormatDBRef(in.DB.Location(ctx.Cause)))
		}
		return pos + 1

	case 's', 'S', 'o', 'O', 'p', 'P', 'a', 'A':
		pronoun := in.pronoun(ctx.Cause, unicode.ToLower(rune(ch)))
		if unicode.IsUpper(rune(ch)) && len(pronoun) > 0 {
			pronoun = strings.ToUpper(pronoun[:1]) + pronoun[1:]
		}
		buf.WriteString(pronoun)
		return pos + 1

	case 'q', 'Q':
		pos++
		if pos >= len(input) {
			return pos
		}
		if input[pos] == '<' {
			pos++
			end := strings.IndexByte(input[pos:], '>')
			if end < 0 {
				return pos
			}
			buf.WriteString(ctx.Regs.Get(input[pos : pos+end]))
			return pos + end + 1
		}
		if idx := qidxChar(input[pos]); idx >= 0 && ctx.Regs != nil {
			buf.WriteString(ctx.Regs.QRegs[idx])
		}
		return pos + 1

	case 'v', 'V':
		// %vA through %vZ
		pos++
		if pos >= len(input) {
			return pos
		}
		ch2 := unicode.ToUpper(rune(input[pos]))
		if ch2 >= 'A' && ch2 <= 'Z' {
			buf.WriteString(in.DB.GetAttr(ctx.Player, "V"+string(ch2)))
		}
		return pos + 1

	case 'm', 'M':
		buf.WriteString(ctx.CurrCmd)
		return pos + 1

	case '+':
		buf.WriteString(strconv.Itoa(len(ctx.Args)))
		return pos + 1

	default:
		buf.WriteByte(ch)
		return pos + 1
	}
}

// pronoun returns a pronoun based on the object's SEX attribute.
func (in *Interp) pronoun(obj gamedb.DBRef, kind rune) string {
	gender := 1 // neuter
	if sex := in.DB.GetAttr(obj, "SEX"); len(sex) > 0 {
		switch sex[0] {
		case 'M', 'm':
			gender = 3
		case 'F', 'f', 'W', 'w':
			gender = 2
		case 'P', 'p':
			gender = 4
		}
	}
	switch kind {
	case 's':
		return [...]string{"", "it", "she", "he", "they"}[gender]
	case 'o':
		return [...]string{"", "it", "her", "him", "them"}[gender]
	case 'p':
		return [...]string{"", "its", "her", "his", "their"}[gender]
	case 'a':
		return [...]string{"", "its", "hers", "his", "theirs"}[gender]
	}
	return ""
}

// isSpecial returns true for characters that need special processing in the eval loop.
func isSpecial(ch byte) bool {
	switch ch {
	case ' ', '\\', '[', '{', '(', '%':
		return true
	}
	return false
}
