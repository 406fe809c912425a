package ast

// Expr represents a condition expression node.
type Expr interface {
	exprNode()
}

// BoolLit represents a true/false literal.
type BoolLit struct {
	Value bool
}

func (BoolLit) exprNode() {}

// IntLit represents an integer literal (decimal, hex, octal, or with a
// KB/MB size suffix already applied).
type IntLit struct {
	Value int64
}

func (IntLit) exprNode() {}

// FloatLit represents a floating point literal.
type FloatLit struct {
	Value float64
}

func (FloatLit) exprNode() {}

// StringLit represents a quoted text literal inside a condition.
type StringLit struct {
	Value string
}

func (StringLit) exprNode() {}

// RegexLit represents a /regex/ literal, the right operand of "matches".
type RegexLit struct {
	Pattern   string
	Modifiers RegexModifiers
}

func (RegexLit) exprNode() {}

// StringRef represents a string variable reference like $foo. The bare
// name "$" is the anonymous reference inside a for..of body.
type StringRef struct {
	Name string
}

func (StringRef) exprNode() {}

// AtExpr represents a positional match like "$foo at 0".
type AtExpr struct {
	Ref StringRef
	Pos Expr
}

func (AtExpr) exprNode() {}

// InExpr represents a ranged match like "$foo in (0..100)".
type InExpr struct {
	Ref   StringRef
	Range RangeExpr
}

func (InExpr) exprNode() {}

// RangeExpr represents an inclusive (lo..hi) range.
type RangeExpr struct {
	Lo Expr
	Hi Expr
}

// StringCount represents #foo, optionally restricted to an offset range
// as in "#foo in (0..100)".
type StringCount struct {
	Name  string
	Range *RangeExpr // nil for the plain form
}

func (StringCount) exprNode() {}

// StringOffset represents @foo[i]. A nil Index means @foo, i.e. index 1.
type StringOffset struct {
	Name  string
	Index Expr
}

func (StringOffset) exprNode() {}

// StringLength represents !foo[i]. A nil Index means !foo, i.e. index 1.
type StringLength struct {
	Name  string
	Index Expr
}

func (StringLength) exprNode() {}

// UnaryExpr represents a unary operation: -, ~ or not.
type UnaryExpr struct {
	Op      string
	Operand Expr
}

func (UnaryExpr) exprNode() {}

// BinaryExpr represents a binary operation (arithmetic, bitwise, shift,
// comparison, string operators, and, or).
type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

func (BinaryExpr) exprNode() {}

// ParenExpr represents a parenthesized expression.
type ParenExpr struct {
	Inner Expr
}

func (ParenExpr) exprNode() {}

// QuantKind discriminates the forms a quantifier can take.
type QuantKind int

const (
	QuantAll QuantKind = iota
	QuantAny
	QuantNone
	QuantExpr    // N of ...
	QuantPercent // P% of ...
)

// Quantifier represents the counting part of an of/for expression.
// Expr is set for QuantExpr and QuantPercent.
type Quantifier struct {
	Kind QuantKind
	Expr Expr
}

// StringSet represents the iterable of an of/for-of expression: either
// "them" or an explicit list whose items may carry a trailing * wildcard.
type StringSet struct {
	Them  bool
	Items []string
}

// OfExpr represents "all/any/none/N/P% of (set)".
type OfExpr struct {
	Quant Quantifier
	Set   StringSet
}

func (OfExpr) exprNode() {}

// ForOfExpr represents "for <quant> of <set> : (body)". Inside the body
// the anonymous $, #, @ and ! refer to the set member under evaluation.
type ForOfExpr struct {
	Quant Quantifier
	Set   StringSet
	Body  Expr
}

func (ForOfExpr) exprNode() {}

// ForInExpr represents "for <quant> <var> in (lo..hi) : (body)".
type ForInExpr struct {
	Quant Quantifier
	Var   string
	Range RangeExpr
	Body  Expr
}

func (ForInExpr) exprNode() {}

// FuncCall represents a builtin call like uint32be(0).
type FuncCall struct {
	Name string
	Args []Expr
}

func (FuncCall) exprNode() {}

// Identifier represents a plain or dotted identifier. One segment is an
// external variable or loop variable; two or more are a module field
// path like pe.entry_point.
type Identifier struct {
	Parts []string
}

func (Identifier) exprNode() {}

// Filesize represents the filesize keyword.
type Filesize struct{}

func (Filesize) exprNode() {}

// Entrypoint represents the entrypoint keyword.
type Entrypoint struct{}

func (Entrypoint) exprNode() {}
