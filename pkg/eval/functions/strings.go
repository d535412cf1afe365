package functions

import (
	"strings"
	"unicode/utf8"

	"github.com/crystal-mush/mushcore/pkg/eval"
)

func splitList(s, delim string) []string {
	if s == "" {
		return nil
	}
	if delim == "" || delim == " " {
		return strings.Fields(s)
	}
	return strings.Split(s, delim)
}

// match(list, pattern[, delim]) returns the 1-based index of the first
// list word matching pattern, or 0.
func fnMatch(_ *eval.Interp, _ *eval.Context, args []string, buf *strings.Builder) {
	if len(args) < 2 {
		buf.WriteString("0")
		return
	}
	delim := " "
	if len(args) > 2 {
		delim = args[2]
	}
	for i, w := range splitList(args[0], delim) {
		if eval.WildMatch(args[1], w) {
			writeInt(buf, i+1)
			return
		}
	}
	buf.WriteString("0")
}

func fnStrmatch(_ *eval.Interp, _ *eval.Context, args []string, buf *strings.Builder) {
	buf.WriteString(boolToStr(eval.WildMatch(args[1], args[0])))
}

func fnStrlen(_ *eval.Interp, _ *eval.Context, args []string, buf *strings.Builder) {
	if len(args) == 0 {
		buf.WriteString("0")
		return
	}
	writeInt(buf, utf8.RuneCountInString(args[0]))
}

func fnWords(_ *eval.Interp, _ *eval.Context, args []string, buf *strings.Builder) {
	if len(args) < 1 {
		writeInt(buf, 0)
		return
	}
	delim := " "
	if len(args) > 1 && args[1] != "" {
		delim = args[1]
	}
	writeInt(buf, len(splitList(args[0], delim)))
}
