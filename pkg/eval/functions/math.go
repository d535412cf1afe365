package functions

import (
	"strconv"
	"strings"

	"github.com/crystal-mush/mushcore/pkg/eval"
)

func toFloat(s string) float64 {
	s = strings.TrimSpace(s)
	// Parse leading numeric characters, ignore trailing text like atof().
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	sawDot := false
	for end < len(s) {
		if s[end] == '.' && !sawDot {
			sawDot = true
			end++
		} else if s[end] >= '0' && s[end] <= '9' {
			end++
		} else {
			break
		}
	}
	f, _ := strconv.ParseFloat(s[:end], 64)
	return f
}

func toInt(s string) int {
	return int(toFloat(s))
}

func boolToStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func writeInt(buf *strings.Builder, i int) {
	buf.WriteString(strconv.Itoa(i))
}

// --- Arithmetic ---

func fnAdd(_ *eval.Interp, _ *eval.Context, args []string, buf *strings.Builder) {
	sum := 0.0
	for _, a := range args {
		sum += toFloat(a)
	}
	writeInt(buf, int(sum))
}

// sub() returns an integer result: parse as float, compute, truncate.
func fnSub(_ *eval.Interp, _ *eval.Context, args []string, buf *strings.Builder) {
	writeInt(buf, int(toFloat(args[0])-toFloat(args[1])))
}

func fnMul(_ *eval.Interp, _ *eval.Context, args []string, buf *strings.Builder) {
	if len(args) == 0 {
		buf.WriteString("0")
		return
	}
	prod := 1.0
	for _, a := range args {
		prod *= toFloat(a)
	}
	writeInt(buf, int(prod))
}

// --- Comparison ---

func fnEq(_ *eval.Interp, _ *eval.Context, args []string, buf *strings.Builder) {
	buf.WriteString(boolToStr(toFloat(args[0]) == toFloat(args[1])))
}

func fnNeq(_ *eval.Interp, _ *eval.Context, args []string, buf *strings.Builder) {
	buf.WriteString(boolToStr(toFloat(args[0]) != toFloat(args[1])))
}

func fnGt(_ *eval.Interp, _ *eval.Context, args []string, buf *strings.Builder) {
	buf.WriteString(boolToStr(toFloat(args[0]) > toFloat(args[1])))
}

func fnLt(_ *eval.Interp, _ *eval.Context, args []string, buf *strings.Builder) {
	buf.WriteString(boolToStr(toFloat(args[0]) < toFloat(args[1])))
}

// --- Logic ---

func fnAnd(_ *eval.Interp, _ *eval.Context, args []string, buf *strings.Builder) {
	for _, a := range args {
		if toInt(a) == 0 {
			buf.WriteString("0")
			return
		}
	}
	buf.WriteString("1")
}

func fnOr(_ *eval.Interp, _ *eval.Context, args []string, buf *strings.Builder) {
	for _, a := range args {
		if toInt(a) != 0 {
			buf.WriteString("1")
			return
		}
	}
	buf.WriteString("0")
}

func fnNot(_ *eval.Interp, _ *eval.Context, args []string, buf *strings.Builder) {
	buf.WriteString(boolToStr(toInt(args[0]) == 0))
}

func fnT(_ *eval.Interp, _ *eval.Context, args []string, buf *strings.Builder) {
	buf.WriteString(boolToStr(isTrue(args[0])))
}

// isTrue is the boolean test used by t() and if(): empty, "0" and
// #-1 style error strings are false.
func isTrue(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return false
	}
	if strings.HasPrefix(s, "#-") {
		return false
	}
	return true
}
