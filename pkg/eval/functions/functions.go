// Package functions holds the built-in softcode functions.
package functions

import "github.com/crystal-mush/mushcore/pkg/eval"

// RegisterAll installs every built-in function into in.
func RegisterAll(in *eval.Interp) {
	// Math and logic
	in.Register("add", fnAdd, 0, eval.FnVarArgs)
	in.Register("sub", fnSub, 2, 0)
	in.Register("mul", fnMul, 0, eval.FnVarArgs)
	in.Register("eq", fnEq, 2, 0)
	in.Register("neq", fnNeq, 2, 0)
	in.Register("gt", fnGt, 2, 0)
	in.Register("lt", fnLt, 2, 0)
	in.Register("and", fnAnd, 0, eval.FnVarArgs)
	in.Register("or", fnOr, 0, eval.FnVarArgs)
	in.Register("not", fnNot, 1, 0)
	in.Register("t", fnT, 1, 0)

	// Registers and utility
	in.Register("setq", fnSetq, 0, eval.FnVarArgs)
	in.Register("setr", fnSetr, 2, 0)
	in.Register("r", fnR, 1, 0)
	in.Register("lit", fnLit, 1, eval.FnNoEval)
	in.Register("null", fnNull, 0, eval.FnVarArgs)
	in.Register("if", fnIf, 0, eval.FnVarArgs|eval.FnNoEval)
	in.Alias("ifelse", "if")

	// Strings
	in.Register("match", fnMatch, 0, eval.FnVarArgs)
	in.Register("strmatch", fnStrmatch, 2, 0)
	in.Register("strlen", fnStrlen, -1, 0)
	in.Register("words", fnWords, -2, 0)

	// Objects
	in.Register("name", fnName, 1, 0)
	in.Register("num", fnNum, 1, 0)
	in.Register("loc", fnLoc, 1, 0)
	in.Register("owner", fnOwner, 1, 0)
	in.Register("get", fnGet, 1, 0)
	in.Register("hasflag", fnHasflag, 2, 0)
}
