package parser

// Grammar structs for participle parser.
// These define the YARA grammar using struct tags.

type file struct {
	Imports []*importGrammar `parser:"@@*"`
	Rules   []*ruleGrammar   `parser:"@@*"`
}

type importGrammar struct {
	Path string `parser:"'import' @String"`
}

type ruleGrammar struct {
	Modifiers []string          `parser:"@('private' | 'global')*"`
	Name      string            `parser:"'rule' @Ident"`
	Tags      []string          `parser:"(':' @Ident+)?"`
	Sections  []*sectionGrammar `parser:"'{' @@* '}'"`
}

// sectionGrammar admits meta/strings/condition in any order; the
// converter rejects duplicates and a missing condition.
type sectionGrammar struct {
	Meta      *metaSection     `parser:"( @@"`
	Strings   *stringsSection  `parser:"| @@"`
	Condition *conditionClause `parser:"| @@ )"`
}

type metaSection struct {
	Entries []*metaEntryGrammar `parser:"'meta' ':' @@*"`
}

type metaEntryGrammar struct {
	Key         string  `parser:"@Ident '='"`
	StringValue *string `parser:"( @String"`
	IntValue    *int64  `parser:"| @Int"`
	BoolValue   *string `parser:"| @('true' | 'false') )"`
}

type stringsSection struct {
	Defs []*stringDefGrammar `parser:"'strings' ':' @@+"`
}

type stringDefGrammar struct {
	Name      string             `parser:"@StringIdent '='"`
	Text      *string            `parser:"( @String"`
	Hex       *hexSeqGrammar     `parser:"| HexOpen @@ HexClose"`
	Regex     *string            `parser:"| @Regex )"`
	Modifiers []*modifierGrammar `parser:"@@*"`
}

type modifierGrammar struct {
	Name     string           `parser:"@Modifier"`
	XorRange *xorRangeGrammar `parser:"( '(' @@ ')'"`
	Alphabet *string          `parser:"| '(' @String ')' )?"`
}

type xorRangeGrammar struct {
	Min string  `parser:"@(HexNum | Num)"`
	Max *string `parser:"('-' @(HexNum | Num))?"`
}

type hexSeqGrammar struct {
	Tokens []*hexTokenGrammar `parser:"@@+"`
}

type hexTokenGrammar struct {
	Byte     *string        `parser:"( @HexByte"`
	Wildcard bool           `parser:"| @HexWildcard"`
	Nibble   *string        `parser:"| @HexNibble"`
	Jump     *string        `parser:"| @HexJump"`
	Alt      *hexAltGrammar `parser:"| @@ )"`
}

type hexAltGrammar struct {
	First *hexSeqGrammar   `parser:"'(' @@"`
	Rest  []*hexSeqGrammar `parser:"('|' @@)+ ')'"`
}

type conditionClause struct {
	Expr *condExpr `parser:"'condition' ':' @@"`
}

// Condition expression grammar. Precedence, loosest binding first:
// or, and, not, comparison, |, ^, &, shifts, additive, multiplicative,
// unary, primary.

type condExpr struct {
	Left  *condAnd   `parser:"@@"`
	Right []*condAnd `parser:"('or' @@)*"`
}

type condAnd struct {
	Left  *condNot   `parser:"@@"`
	Right []*condNot `parser:"('and' @@)*"`
}

type condNot struct {
	Nots []string `parser:"@'not'*"`
	Expr *condCmp `parser:"@@"`
}

type condCmp struct {
	Left  *condBitOr `parser:"@@"`
	Op    *string    `parser:"( @('==' | '!=' | '<=' | '>=' | '<' | '>' | 'contains' | 'startswith' | 'endswith' | 'matches')"`
	Right *condBitOr `parser:"@@ )?"`
}

type condBitOr struct {
	Left  *condBitXor   `parser:"@@"`
	Right []*condBitXor `parser:"('|' @@)*"`
}

type condBitXor struct {
	Left  *condBitAnd   `parser:"@@"`
	Right []*condBitAnd `parser:"('^' @@)*"`
}

type condBitAnd struct {
	Left  *condShift   `parser:"@@"`
	Right []*condShift `parser:"('&' @@)*"`
}

type condShift struct {
	Left *condAdd        `parser:"@@"`
	Rest []*condShiftRHS `parser:"@@*"`
}

type condShiftRHS struct {
	Op   string   `parser:"@('<<' | '>>')"`
	Expr *condAdd `parser:"@@"`
}

type condAdd struct {
	Left *condMul      `parser:"@@"`
	Rest []*condAddRHS `parser:"@@*"`
}

type condAddRHS struct {
	Op   string   `parser:"@('+' | '-')"`
	Expr *condMul `parser:"@@"`
}

type condMul struct {
	Left *condUnary    `parser:"@@"`
	Rest []*condMulRHS `parser:"@@*"`
}

type condMulRHS struct {
	Op   string     `parser:"@('*' | Div | '%')"`
	Expr *condUnary `parser:"@@"`
}

type condUnary struct {
	Ops     []string     `parser:"@('-' | '~')*"`
	Primary *condPrimary `parser:"@@"`
}

type condPrimary struct {
	For        *condForExpr    `parser:"( @@"`
	Of         *condOfExpr     `parser:"| @@"`
	Paren      *condExpr       `parser:"| '(' @@ ')'"`
	Func       *condFuncCall   `parser:"| @@"`
	StringExpr *condStringExpr `parser:"| @@"`
	Count      *condCount      `parser:"| @@"`
	Offset     *condOffset     `parser:"| @@"`
	Length     *condLength     `parser:"| @@"`
	Regex      *string         `parser:"| @Regex"`
	Float      *float64        `parser:"| @Float"`
	HexInt     *string         `parser:"| @HexInt"`
	Octal      *string         `parser:"| @Octal"`
	Int        *string         `parser:"| @CondInt"`
	Str        *string         `parser:"| @String"`
	True       bool            `parser:"| @'true'"`
	False      bool            `parser:"| @'false'"`
	Filesize   bool            `parser:"| @'filesize'"`
	Entrypoint bool            `parser:"| @'entrypoint'"`
	Ident      *condIdent      `parser:"| @@ )"`
}

type condQuant struct {
	All     bool    `parser:"( @'all'"`
	Any     bool    `parser:"| @'any'"`
	None    bool    `parser:"| @'none'"`
	Percent *string `parser:"| @CondInt '%'"`
	N       *string `parser:"| @CondInt )"`
}

type condSet struct {
	Them  bool     `parser:"( @'them'"`
	Items []string `parser:"| '(' @(StringPattern | CondStringID) (',' @(StringPattern | CondStringID))* ')' )"`
}

type condOfExpr struct {
	Quant condQuant `parser:"@@ 'of'"`
	Set   condSet   `parser:"@@"`
}

type condForExpr struct {
	Quant condQuant `parser:"'for' @@"`
	Var   *string   `parser:"( @CondIdent 'in'"`
	Lo    *condExpr `parser:"'(' @@ '..'"`
	Hi    *condExpr `parser:"@@ ')'"`
	Of    *condSet  `parser:"| 'of' @@ )"`
	Body  *condExpr `parser:"':' '(' @@ ')'"`
}

type condStringExpr struct {
	Name string     `parser:"@CondStringID"`
	At   *condAdd   `parser:"( 'at' @@"`
	In   *condRange `parser:"| 'in' @@ )?"`
}

type condRange struct {
	Lo *condExpr `parser:"'(' @@ '..'"`
	Hi *condExpr `parser:"@@ ')'"`
}

type condCount struct {
	Name  string     `parser:"@CondCount"`
	Range *condRange `parser:"('in' @@)?"`
}

type condOffset struct {
	Name  string    `parser:"@CondOffset"`
	Index *condExpr `parser:"('[' @@ ']')?"`
}

type condLength struct {
	Name  string    `parser:"@CondLength"`
	Index *condExpr `parser:"('[' @@ ']')?"`
}

type condFuncCall struct {
	Name string      `parser:"@CondIdent '('"`
	Args []*condExpr `parser:"(@@ (',' @@)*)? ')'"`
}

type condIdent struct {
	Parts []string `parser:"@CondIdent ('.' @CondIdent)*"`
}
