package compiler

import "github.com/sansecio/yarex/ast"

// valueType is the statically inferred type of a condition expression.
// tUnknown covers module fields and externals, whose types are only
// known at scan time.
type valueType int

const (
	tUnknown valueType = iota
	tBool
	tInt
	tFloat
	tString
)

func (t valueType) String() string {
	switch t {
	case tBool:
		return "boolean"
	case tInt:
		return "integer"
	case tFloat:
		return "float"
	case tString:
		return "string"
	}
	return "unknown"
}

func typeOf(e ast.Expr) valueType {
	switch n := e.(type) {
	case ast.BoolLit:
		return tBool
	case ast.IntLit:
		return tInt
	case ast.FloatLit:
		return tFloat
	case ast.StringLit:
		return tString
	case ast.StringRef, ast.AtExpr, ast.InExpr,
		ast.OfExpr, ast.ForOfExpr, ast.ForInExpr:
		return tBool
	case ast.StringCount, ast.StringOffset, ast.StringLength,
		ast.Filesize, ast.Entrypoint:
		return tInt
	case ast.FuncCall:
		if _, ok := readerIDs[n.Name]; ok {
			return tInt
		}
		return tUnknown
	case ast.ParenExpr:
		return typeOf(n.Inner)
	case ast.UnaryExpr:
		switch n.Op {
		case "not":
			return tBool
		case "~":
			return tInt
		case "-":
			return typeOf(n.Operand)
		}
		return tUnknown
	case ast.BinaryExpr:
		switch n.Op {
		case "and", "or",
			"==", "!=", "<", "<=", ">", ">=",
			"contains", "startswith", "endswith", "matches":
			return tBool
		case "&", "|", "^", "<<", ">>", "\\", "%":
			return tInt
		case "+", "-", "*":
			lt, rt := typeOf(n.Left), typeOf(n.Right)
			if lt == tFloat || rt == tFloat {
				return tFloat
			}
			if lt == tUnknown || rt == tUnknown {
				return tUnknown
			}
			return tInt
		}
		return tUnknown
	}
	return tUnknown
}
