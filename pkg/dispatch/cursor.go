package dispatch

import "strings"

// cursor walks a command line left to right. Every token it returns is a
// fresh substring; nothing aliases the caller's buffer after a rewrite.
type cursor struct {
	src string
	pos int
}

func newCursor(s string) *cursor { return &cursor{src: s} }

func (c *cursor) done() bool { return c.pos >= len(c.src) }

func (c *cursor) peek() byte {
	if c.done() {
		return 0
	}
	return c.src[c.pos]
}

func (c *cursor) skipSpace() {
	for c.pos < len(c.src) && (c.src[c.pos] == ' ' || c.src[c.pos] == '\t') {
		c.pos++
	}
}

// word returns the text up to the next space and moves past it.
func (c *cursor) word() string {
	start := c.pos
	for c.pos < len(c.src) && c.src[c.pos] != ' ' && c.src[c.pos] != '\t' {
		c.pos++
	}
	return strings.Clone(c.src[start:c.pos])
}

// rest returns everything not yet consumed, leading space trimmed.
func (c *cursor) rest() string {
	c.skipSpace()
	s := strings.Clone(c.src[c.pos:])
	c.pos = len(c.src)
	return s
}

// splitEquals splits s at the first '=' outside {}, [] and (). Backslash
// and percent escape the next character.
func splitEquals(s string) (left, right string, found bool) {
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
		case '=':
			if depth == 0 {
				return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:]), true
			}
		}
	}
	return strings.TrimSpace(s), "", false
}

// splitWord separates "cmd/sw1/sw2" into the command and its switches.
func splitWord(w string) (name string, switches []string, slash bool) {
	parts := strings.Split(w, "/")
	return parts[0], parts[1:], len(parts) > 1
}
