package eval

import (
	"strconv"
	"strings"

	"github.com/crystal-mush/mushcore/pkg/gamedb"
)

// FormatDBRef renders a dbref as #N.
func FormatDBRef(ref gamedb.DBRef) string {
	return "#" + strconv.Itoa(int(ref))
}

// ParseDBRef parses "#N" into a DBRef.
func ParseDBRef(s string) (gamedb.DBRef, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '#' {
		return gamedb.Nothing, false
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil {
		return gamedb.Nothing, false
	}
	return gamedb.DBRef(n), true
}

// Resolve converts a name to a DBRef from player's point of view:
// me, here, #N, *player, or the name of something player carries or
// shares a room with.
func Resolve(db *gamedb.Database, player gamedb.DBRef, s string) gamedb.DBRef {
	s = strings.TrimSpace(s)
	if s == "" {
		return gamedb.Nothing
	}
	if strings.EqualFold(s, "me") {
		return player
	}
	if strings.EqualFold(s, "here") {
		return db.Location(player)
	}
	if ref, ok := ParseDBRef(s); ok {
		if db.Valid(ref) {
			return ref
		}
		return gamedb.Nothing
	}
	if s[0] == '*' {
		return db.LookupPlayer(s[1:])
	}
	for _, ref := range db.Contents(player) {
		if strings.EqualFold(db.Name(ref), s) {
			return ref
		}
	}
	if loc := db.Location(player); loc != gamedb.Nothing {
		for _, ref := range db.Contents(loc) {
			if strings.EqualFold(db.Name(ref), s) {
				return ref
			}
		}
	}
	return db.LookupPlayer(s)
}

// SplitChain splits a command list on ';' outside of braces and brackets.
func SplitChain(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{', '[':
			depth++
		case '}', ']':
			if depth > 0 {
				depth--
			}
		case ';':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		case '\\':
			i++ // skip escaped char
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// StripOuterBraces removes one level of braces enclosing the whole string.
func StripOuterBraces(s string) string {
	t := strings.TrimSpace(s)
	if len(t) < 2 || t[0] != '{' {
		return s
	}
	inner, end, found := parseTo(t, 1, '}')
	if !found || end != len(t)-1 {
		return s
	}
	return inner
}

// SplitArgs splits s on delim at nesting depth zero. With delim ',' this
// matches how function arguments are split.
func SplitArgs(s string, delim byte) []string {
	var out []string
	start := 0
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\', '%':
			i++
		case '{', '[', '(':
			depth++
		case '}', ']', ')':
			if depth > 0 {
				depth--
			}
		default:
			if s[i] == delim && depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}

// parseTo finds a delimiter character while respecting nesting of [], (), {}.
// Returns the content before the delimiter, the position of the delimiter, and whether it was found.
func parseTo(input string, pos int, delim byte) (string, int, bool) {
	var stack []byte
	start := pos

	for pos < len(input) {
		ch := input[pos]

		switch ch {
		case '\\', '%':
			pos++ // skip the escape char
			if pos < len(input) {
				pos++ // skip the escaped char
			}
			continue

		case '{':
			bracketLev := 1
			pos++
			for pos < len(input) && bracketLev > 0 {
				switch input[pos] {
				case '\\', '%':
					pos++
					if pos < len(input) {
						pos++
					}
					continue
				case '{':
					bracketLev++
				case '}':
					bracketLev--
				}
				pos++
			}
			continue

		case '[':
			stack = append(stack, ']')
		case '(':
			stack = append(stack, ')')

		case ']', ')':
			found := false
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i] == ch {
					stack = stack[:i]
					found = true
					break
				}
			}
			if !found && ch == delim {
				return input[start:pos], pos, true
			}

		default:
			if ch == delim && len(stack) == 0 {
				return input[start:pos], pos, true
			}
		}
		pos++
	}
	return input[start:], pos, false
}

// parseArgList splits a function argument string on commas, respecting nesting.
// Returns the list of argument strings, the position of the closing delimiter, and whether it was found.
func parseArgList(input string, pos int, closingDelim byte) ([]string, int, bool) {
	var args []string
	start := pos
	depth := 0

	for pos < len(input) {
		ch := input[pos]

		switch ch {
		case '\\', '%':
			pos++
			if pos < len(input) {
				pos++
			}
			continue

		case '{':
			bracketLev := 1
			pos++
			for pos < len(input) && bracketLev > 0 {
				switch input[pos] {
				case '\\', '%':
					pos++
					if pos < len(input) {
						pos++
					}
					continue
				case '{':
					bracketLev++
				case '}':
					bracketLev--
				}
				pos++
			}
			continue

		case '[', '(':
			depth++
		case ']':
			depth--
		case ')':
			if depth == 0 && ch == closingDelim {
				args = append(args, input[start:pos])
				return args, pos, true
			}
			depth--

		case ',':
			if depth == 0 {
				args = append(args, input[start:pos])
				start = pos + 1
			}
		}
		pos++
	}

	return nil, pos, false
}

// qidxChar converts a register character (0-9, a-z) to an index (0-35).
func qidxChar(ch byte) int {
	switch {
	case ch >= '0' && ch <= '9':
		return int(ch - '0')
	case ch >= 'a' && ch <= 'z':
		return int(ch-'a') + 10
	case ch >= 'A' && ch <= 'Z':
		return int(ch-'A') + 10
	}
	return -1
}

// WildMatch performs case-insensitive glob matching (*, ?).
func WildMatch(pattern, str string) bool {
	return WildMatchCapture(pattern, str) != nil
}

// WildMatchCapture matches like WildMatch and returns one capture per *
// (in original case). Returns nil if there is no match.
func WildMatchCapture(pattern, str string) []string {
	captures := []string{}
	if !captureHelper(asciiLower(pattern), asciiLower(str), str, &captures) {
		return nil
	}
	return captures
}

func captureHelper(pattern, lower, orig string, captures *[]string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			rest := pattern[1:]
			for i := 0; i <= len(lower); i++ {
				mark := len(*captures)
				*captures = append(*captures, orig[:i])
				if captureHelper(rest, lower[i:], orig[i:], captures) {
					return true
				}
				*captures = (*captures)[:mark]
			}
			return false
		case '?':
			if len(lower) == 0 {
				return false
			}
		default:
			if len(lower) == 0 || pattern[0] != lower[0] {
				return false
			}
		}
		pattern = pattern[1:]
		lower = lower[1:]
		orig = orig[1:]
	}
	return len(lower) == 0
}

func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}
