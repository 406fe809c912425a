// Package compiler lowers rule condition ASTs into stack bytecode.
//
// One Compiler instance serves a whole ruleset: it checks rule names for
// uniqueness and owns the shared regex table that OpMatches instructions
// index into. Jump targets are absolute instruction indices, patched
// after the code for both arms has been emitted.
package compiler

import (
	"fmt"

	"github.com/ryanuber/go-glob"
	regexp "github.com/wasilibs/go-re2"
	"github.com/wasilibs/go-re2/experimental"

	"github.com/sansecio/yarex/ast"
	"github.com/sansecio/yarex/matcher"
)

// PatternRef binds a rule-local pattern name to its global pattern id.
// Anonymous patterns have the name "$".
type PatternRef struct {
	Name string
	ID   int
}

// Program is the compiled condition of one rule.
type Program struct {
	Code []Instr
}

// Compiler compiles rule conditions within one ruleset.
type Compiler struct {
	regexes   []*regexp.Regexp
	ruleNames map[string]bool
}

func New() *Compiler {
	return &Compiler{ruleNames: make(map[string]bool)}
}

// Regexes returns the regex table shared by every compiled rule. Index
// positions match the A operand of OpMatches instructions.
func (c *Compiler) Regexes() []*regexp.Regexp {
	return c.regexes
}

// CompileRule lowers one rule's condition. patterns lists the rule's
// string definitions in source order with their global pattern ids.
func (c *Compiler) CompileRule(r *ast.Rule, patterns []PatternRef) (*Program, error) {
	if c.ruleNames[r.Name] {
		return nil, &Error{Kind: DuplicateRuleName, Rule: r.Name, Detail: r.Name}
	}
	c.ruleNames[r.Name] = true

	fc := &funcCompiler{
		c:        c,
		rule:     r.Name,
		patterns: patterns,
		byName:   make(map[string]int, len(patterns)),
		loopVars: make(map[string]int64),
		anon:     -1,
	}
	for _, p := range patterns {
		if p.Name == "$" {
			continue
		}
		if _, dup := fc.byName[p.Name]; dup {
			return nil, &Error{Kind: DuplicatePatternName, Rule: r.Name, Detail: p.Name}
		}
		fc.byName[p.Name] = p.ID
	}

	if t := typeOf(r.Condition); t != tBool && t != tUnknown {
		return nil, &Error{Kind: TypeMismatch, Rule: r.Name, Detail: fmt.Sprintf("condition is %s, not boolean", t)}
	}
	if err := fc.compileExpr(r.Condition, 0); err != nil {
		return nil, err
	}
	fc.emit(Instr{Op: OpHalt})
	return &Program{Code: fc.code}, nil
}

// funcCompiler holds per-rule state while lowering a condition.
type funcCompiler struct {
	c        *Compiler
	rule     string
	patterns []PatternRef
	byName   map[string]int
	loopVars map[string]int64 // name -> absolute stack slot
	anon     int              // pattern id bound to $ inside for..of, -1 outside
	code     []Instr
}

func (fc *funcCompiler) emit(i Instr) int {
	fc.code = append(fc.code, i)
	return len(fc.code) - 1
}

func (fc *funcCompiler) patch(at int, target int) {
	fc.code[at].A = int64(target)
}

func (fc *funcCompiler) errf(kind ErrorKind, format string, args ...any) error {
	return &Error{Kind: kind, Rule: fc.rule, Detail: fmt.Sprintf(format, args...)}
}

// resolvePattern maps a rule-local name ("$foo", or "$" for the
// anonymous reference inside for..of) to its global pattern id.
func (fc *funcCompiler) resolvePattern(name string) (int, error) {
	if name == "$" {
		if fc.anon < 0 {
			return 0, fc.errf(UndefinedPattern, "anonymous $ outside of..of loop")
		}
		return fc.anon, nil
	}
	id, ok := fc.byName[name]
	if !ok {
		return 0, fc.errf(UndefinedPattern, "%s", name)
	}
	return id, nil
}

// compileExpr emits code leaving exactly one value on the stack. depth
// is the number of stack values live below the expression; loop slots
// are addressed with it.
func (fc *funcCompiler) compileExpr(e ast.Expr, depth int) error {
	switch n := e.(type) {
	case ast.BoolLit:
		v := int64(0)
		if n.Value {
			v = 1
		}
		fc.emit(Instr{Op: OpPushBool, A: v})
		return nil

	case ast.IntLit:
		fc.emit(Instr{Op: OpPushInt, A: n.Value})
		return nil

	case ast.FloatLit:
		fc.emit(Instr{Op: OpPushFloat, F: n.Value})
		return nil

	case ast.StringLit:
		fc.emit(Instr{Op: OpPushString, S: n.Value})
		return nil

	case ast.RegexLit:
		return fc.errf(TypeMismatch, "regex literal is only valid after matches")

	case ast.StringRef:
		id, err := fc.resolvePattern(n.Name)
		if err != nil {
			return err
		}
		fc.emit(Instr{Op: OpStrMatch, A: int64(id)})
		return nil

	case ast.AtExpr:
		id, err := fc.resolvePattern(n.Ref.Name)
		if err != nil {
			return err
		}
		if err := fc.compileExpr(n.Pos, depth); err != nil {
			return err
		}
		fc.emit(Instr{Op: OpStrMatchAt, A: int64(id)})
		return nil

	case ast.InExpr:
		id, err := fc.resolvePattern(n.Ref.Name)
		if err != nil {
			return err
		}
		if err := fc.compileExpr(n.Range.Lo, depth); err != nil {
			return err
		}
		if err := fc.compileExpr(n.Range.Hi, depth+1); err != nil {
			return err
		}
		fc.emit(Instr{Op: OpStrMatchIn, A: int64(id)})
		return nil

	case ast.StringCount:
		id, err := fc.resolvePattern(n.Name)
		if err != nil {
			return err
		}
		if n.Range == nil {
			fc.emit(Instr{Op: OpStrCount, A: int64(id)})
			return nil
		}
		if err := fc.compileExpr(n.Range.Lo, depth); err != nil {
			return err
		}
		if err := fc.compileExpr(n.Range.Hi, depth+1); err != nil {
			return err
		}
		fc.emit(Instr{Op: OpStrCountIn, A: int64(id)})
		return nil

	case ast.StringOffset:
		return fc.compileIndexed(n.Name, n.Index, OpStrOffset, depth)

	case ast.StringLength:
		return fc.compileIndexed(n.Name, n.Index, OpStrLength, depth)

	case ast.UnaryExpr:
		return fc.compileUnary(n, depth)

	case ast.BinaryExpr:
		return fc.compileBinary(n, depth)

	case ast.ParenExpr:
		return fc.compileExpr(n.Inner, depth)

	case ast.OfExpr:
		return fc.compileOf(n.Quant, n.Set, nil, depth)

	case ast.ForOfExpr:
		return fc.compileOf(n.Quant, n.Set, n.Body, depth)

	case ast.ForInExpr:
		return fc.compileForIn(n, depth)

	case ast.FuncCall:
		id, ok := readerIDs[n.Name]
		if !ok {
			return fc.errf(TypeMismatch, "unknown function %s", n.Name)
		}
		if len(n.Args) != 1 {
			return fc.errf(TypeMismatch, "%s takes one argument", n.Name)
		}
		if err := fc.compileExpr(n.Args[0], depth); err != nil {
			return err
		}
		fc.emit(Instr{Op: OpRead, A: id})
		return nil

	case ast.Identifier:
		if len(n.Parts) == 1 {
			if slot, ok := fc.loopVars[n.Parts[0]]; ok {
				fc.emit(Instr{Op: OpStackGet, A: slot})
				return nil
			}
			fc.emit(Instr{Op: OpExternal, S: n.Parts[0]})
			return nil
		}
		fc.emit(Instr{Op: OpModuleField, Path: n.Parts})
		return nil

	case ast.Filesize:
		fc.emit(Instr{Op: OpFilesize})
		return nil

	case ast.Entrypoint:
		fc.emit(Instr{Op: OpEntrypoint})
		return nil
	}
	return fc.errf(TypeMismatch, "unsupported expression %T", e)
}

// compileIndexed lowers @name[i] and !name[i]. A missing index means 1.
func (fc *funcCompiler) compileIndexed(name string, index ast.Expr, op Opcode, depth int) error {
	id, err := fc.resolvePattern(name)
	if err != nil {
		return err
	}
	if index == nil {
		fc.emit(Instr{Op: OpPushInt, A: 1})
	} else if err := fc.compileExpr(index, depth); err != nil {
		return err
	}
	fc.emit(Instr{Op: op, A: int64(id)})
	return nil
}

func (fc *funcCompiler) compileUnary(n ast.UnaryExpr, depth int) error {
	switch n.Op {
	case "-":
		if t := typeOf(n.Operand); t == tString || t == tBool {
			return fc.errf(TypeMismatch, "cannot negate %s", t)
		}
	case "~":
		if t := typeOf(n.Operand); t == tString || t == tBool || t == tFloat {
			return fc.errf(TypeMismatch, "cannot complement %s", t)
		}
	case "not":
		if t := typeOf(n.Operand); t == tString || t == tInt || t == tFloat {
			return fc.errf(TypeMismatch, "not applied to %s", t)
		}
	}
	if err := fc.compileExpr(n.Operand, depth); err != nil {
		return err
	}
	switch n.Op {
	case "-":
		fc.emit(Instr{Op: OpNeg})
	case "~":
		fc.emit(Instr{Op: OpBitNot})
	case "not":
		fc.emit(Instr{Op: OpNot})
	default:
		return fc.errf(TypeMismatch, "unknown unary operator %s", n.Op)
	}
	return nil
}

var binaryOps = map[string]Opcode{
	"+":          OpAdd,
	"-":          OpSub,
	"*":          OpMul,
	"\\":         OpDiv,
	"%":          OpMod,
	"&":          OpBitAnd,
	"|":          OpBitOr,
	"^":          OpBitXor,
	"<<":         OpShl,
	">>":         OpShr,
	"==":         OpEq,
	"!=":         OpNe,
	"<":          OpLt,
	"<=":         OpLe,
	">":          OpGt,
	">=":         OpGe,
	"contains":   OpContains,
	"startswith": OpStartsWith,
	"endswith":   OpEndsWith,
}

func (fc *funcCompiler) compileBinary(n ast.BinaryExpr, depth int) error {
	switch n.Op {
	case "and", "or":
		return fc.compileLogical(n, depth)
	case "matches":
		return fc.compileMatches(n, depth)
	}

	if err := fc.checkOperands(n); err != nil {
		return err
	}
	op, ok := binaryOps[n.Op]
	if !ok {
		return fc.errf(TypeMismatch, "unknown operator %s", n.Op)
	}
	if err := fc.compileExpr(n.Left, depth); err != nil {
		return err
	}
	if err := fc.compileExpr(n.Right, depth+1); err != nil {
		return err
	}
	fc.emit(Instr{Op: op})
	return nil
}

// compileLogical emits short-circuiting and/or. The left result stays
// on the stack when the jump is taken; otherwise it is popped and the
// right operand's result takes its place.
func (fc *funcCompiler) compileLogical(n ast.BinaryExpr, depth int) error {
	for _, side := range []ast.Expr{n.Left, n.Right} {
		if t := typeOf(side); t == tString || t == tInt || t == tFloat {
			return fc.errf(TypeMismatch, "%s operand is %s, not boolean", n.Op, t)
		}
	}

	if err := fc.compileExpr(n.Left, depth); err != nil {
		return err
	}
	op := OpJumpFalsePeek
	if n.Op == "or" {
		op = OpJumpTruePeek
	}
	jump := fc.emit(Instr{Op: op})
	fc.emit(Instr{Op: OpPop})
	if err := fc.compileExpr(n.Right, depth); err != nil {
		return err
	}
	fc.patch(jump, len(fc.code))
	return nil
}

func (fc *funcCompiler) compileMatches(n ast.BinaryExpr, depth int) error {
	lit, ok := n.Right.(ast.RegexLit)
	if !ok {
		return fc.errf(TypeMismatch, "matches requires a regex literal")
	}
	if t := typeOf(n.Left); t != tString && t != tUnknown {
		return fc.errf(TypeMismatch, "matches subject is %s, not string", t)
	}
	re, err := experimental.CompileLatin1(matcher.RE2Pattern(lit.Pattern, lit.Modifiers))
	if err != nil {
		return fc.errf(TypeMismatch, "invalid regex /%s/: %v", lit.Pattern, err)
	}
	idx := len(fc.c.regexes)
	fc.c.regexes = append(fc.c.regexes, re)

	if err := fc.compileExpr(n.Left, depth); err != nil {
		return err
	}
	fc.emit(Instr{Op: OpMatches, A: int64(idx)})
	return nil
}

// checkOperands rejects statically detectable operand type errors.
// Unknown types (module fields, externals) pass; they resolve to
// Undefined at runtime when they turn out wrong.
func (fc *funcCompiler) checkOperands(n ast.BinaryExpr) error {
	lt, rt := typeOf(n.Left), typeOf(n.Right)

	switch n.Op {
	case "+", "-", "*", "\\", "%":
		for _, t := range []valueType{lt, rt} {
			if t == tString || t == tBool {
				return fc.errf(TypeMismatch, "arithmetic on %s", t)
			}
		}
	case "&", "|", "^", "<<", ">>":
		for _, t := range []valueType{lt, rt} {
			if t == tString || t == tBool || t == tFloat {
				return fc.errf(TypeMismatch, "bitwise operation on %s", t)
			}
		}
	case "==", "!=":
		if bothKnown(lt, rt) && (lt == tString) != (rt == tString) {
			return fc.errf(TypeMismatch, "cannot compare %s with %s", lt, rt)
		}
		if bothKnown(lt, rt) && (lt == tBool) != (rt == tBool) {
			return fc.errf(TypeMismatch, "cannot compare %s with %s", lt, rt)
		}
	case "<", "<=", ">", ">=":
		for _, t := range []valueType{lt, rt} {
			if t == tBool {
				return fc.errf(TypeMismatch, "ordered comparison on %s", t)
			}
		}
		if bothKnown(lt, rt) && (lt == tString) != (rt == tString) {
			return fc.errf(TypeMismatch, "cannot compare %s with %s", lt, rt)
		}
	case "contains", "startswith", "endswith":
		for _, t := range []valueType{lt, rt} {
			if t != tString && t != tUnknown {
				return fc.errf(TypeMismatch, "%s requires string operands, got %s", n.Op, t)
			}
		}
	}
	return nil
}

func bothKnown(a, b valueType) bool {
	return a != tUnknown && b != tUnknown
}

// resolveSet expands a string set to global pattern ids. "them" means
// every pattern of the rule; a trailing * in an item is a wildcard over
// pattern names.
func (fc *funcCompiler) resolveSet(set ast.StringSet) ([]int, error) {
	if set.Them {
		ids := make([]int, len(fc.patterns))
		for i, p := range fc.patterns {
			ids[i] = p.ID
		}
		if len(ids) == 0 {
			return nil, fc.errf(UndefinedPattern, "them used in a rule without strings")
		}
		return ids, nil
	}

	var ids []int
	for _, item := range set.Items {
		if !hasWildcard(item) {
			id, err := fc.resolvePattern(item)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
			continue
		}
		found := false
		for _, p := range fc.patterns {
			if p.Name != "$" && glob.Glob(item, p.Name) {
				ids = append(ids, p.ID)
				found = true
			}
		}
		if !found {
			return nil, fc.errf(UndefinedPattern, "%s matches no pattern", item)
		}
	}
	return ids, nil
}

func hasWildcard(item string) bool {
	for i := 0; i < len(item); i++ {
		if item[i] == '*' {
			return true
		}
	}
	return false
}

// compileOf lowers "K of (set)" and "for K of (set) : (body)". The set
// is fixed at compile time, so the loop unrolls: a counter accumulates
// one per member whose test holds, then the counter meets the
// quantifier threshold or the whole expression is false.
func (fc *funcCompiler) compileOf(q ast.Quantifier, set ast.StringSet, body ast.Expr, depth int) error {
	if body != nil {
		if t := typeOf(body); t != tBool && t != tUnknown {
			return fc.errf(TypeMismatch, "for body is %s, not boolean", t)
		}
	}
	ids, err := fc.resolveSet(set)
	if err != nil {
		return err
	}

	fc.emit(Instr{Op: OpPushInt, A: 0}) // counter
	for _, id := range ids {
		if body == nil {
			fc.emit(Instr{Op: OpStrMatch, A: int64(id)})
		} else {
			prev := fc.anon
			fc.anon = id
			err := fc.compileExpr(body, depth+1)
			fc.anon = prev
			if err != nil {
				return err
			}
		}
		fc.emit(Instr{Op: OpTruthy})
		fc.emit(Instr{Op: OpAdd})
	}
	return fc.compileThreshold(q, func() { fc.emit(Instr{Op: OpPushInt, A: int64(len(ids))}) }, depth+1)
}

// compileThreshold compares the counter on top of the stack against the
// quantifier. pushSize emits code pushing the set size.
func (fc *funcCompiler) compileThreshold(q ast.Quantifier, pushSize func(), depth int) error {
	switch q.Kind {
	case ast.QuantAll:
		pushSize()
		fc.emit(Instr{Op: OpEq})
	case ast.QuantAny:
		fc.emit(Instr{Op: OpPushInt, A: 1})
		fc.emit(Instr{Op: OpGe})
	case ast.QuantNone:
		fc.emit(Instr{Op: OpPushInt, A: 0})
		fc.emit(Instr{Op: OpEq})
	case ast.QuantExpr:
		if t := typeOf(q.Expr); t == tString || t == tBool {
			return fc.errf(TypeMismatch, "quantifier is %s, not integer", t)
		}
		if err := fc.compileExpr(q.Expr, depth); err != nil {
			return err
		}
		fc.emit(Instr{Op: OpGe})
	case ast.QuantPercent:
		if t := typeOf(q.Expr); t == tString || t == tBool {
			return fc.errf(TypeMismatch, "percentage is %s, not integer", t)
		}
		pushSize()
		if err := fc.compileExpr(q.Expr, depth+1); err != nil {
			return err
		}
		fc.emit(Instr{Op: OpPercent})
		fc.emit(Instr{Op: OpGe})
	}
	return nil
}

// compileForIn lowers "for K v in (lo..hi) : (body)" to a counted loop.
// Four stack slots live for the loop's duration: the loop variable, the
// upper bound, the hit counter, and the iteration count.
func (fc *funcCompiler) compileForIn(n ast.ForInExpr, depth int) error {
	if t := typeOf(n.Body); t != tBool && t != tUnknown {
		return fc.errf(TypeMismatch, "for body is %s, not boolean", t)
	}
	slotVar := int64(depth)
	slotHi := int64(depth + 1)
	slotCount := int64(depth + 2)
	slotSize := int64(depth + 3)

	if err := fc.compileExpr(n.Range.Lo, depth); err != nil {
		return err
	}
	if err := fc.compileExpr(n.Range.Hi, depth+1); err != nil {
		return err
	}
	fc.emit(Instr{Op: OpPushInt, A: 0}) // counter
	fc.emit(Instr{Op: OpStackGet, A: slotHi})
	fc.emit(Instr{Op: OpStackGet, A: slotVar})
	fc.emit(Instr{Op: OpSub})
	fc.emit(Instr{Op: OpPushInt, A: 1})
	fc.emit(Instr{Op: OpAdd}) // size = hi - lo + 1

	loopStart := len(fc.code)
	fc.emit(Instr{Op: OpStackGet, A: slotVar})
	fc.emit(Instr{Op: OpStackGet, A: slotHi})
	fc.emit(Instr{Op: OpLe})
	exitJump := fc.emit(Instr{Op: OpJumpFalsePop})

	prev, shadowed := fc.loopVars[n.Var]
	fc.loopVars[n.Var] = slotVar
	err := fc.compileExpr(n.Body, depth+4)
	if shadowed {
		fc.loopVars[n.Var] = prev
	} else {
		delete(fc.loopVars, n.Var)
	}
	if err != nil {
		return err
	}
	fc.emit(Instr{Op: OpTruthy})
	fc.emit(Instr{Op: OpStackGet, A: slotCount})
	fc.emit(Instr{Op: OpAdd})
	fc.emit(Instr{Op: OpStackSet, A: slotCount})

	fc.emit(Instr{Op: OpStackGet, A: slotVar})
	fc.emit(Instr{Op: OpPushInt, A: 1})
	fc.emit(Instr{Op: OpAdd})
	fc.emit(Instr{Op: OpStackSet, A: slotVar})
	fc.emit(Instr{Op: OpJump, A: int64(loopStart)})
	fc.patch(exitJump, len(fc.code))

	fc.emit(Instr{Op: OpStackGet, A: slotCount})
	err = fc.compileThreshold(n.Quant, func() { fc.emit(Instr{Op: OpStackGet, A: slotSize}) }, depth+5)
	if err != nil {
		return err
	}

	// Drop the four loop slots beneath the result
	for i := 0; i < 4; i++ {
		fc.emit(Instr{Op: OpSwap})
		fc.emit(Instr{Op: OpPop})
	}
	return nil
}
