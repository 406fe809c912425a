package compiler

import (
	"errors"
	"testing"

	"github.com/sansecio/yarex/ast"
	"github.com/sansecio/yarex/parser"
)

// compileSource parses one or more rules and compiles them with a
// shared Compiler, returning the program of the last rule.
func compileSource(t *testing.T, src string) (*Program, error) {
	t.Helper()
	p, err := parser.New()
	if err != nil {
		t.Fatalf("parser.New: %v", err)
	}
	rs, err := p.Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	c := New()
	var prog *Program
	for _, r := range rs.Rules {
		refs := make([]PatternRef, len(r.Strings))
		for i, s := range r.Strings {
			refs[i] = PatternRef{Name: s.Name, ID: i}
		}
		prog, err = c.CompileRule(r, refs)
		if err != nil {
			return nil, err
		}
	}
	return prog, nil
}

func mustCompile(t *testing.T, src string) *Program {
	t.Helper()
	prog, err := compileSource(t, src)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return prog
}

func opcodes(prog *Program) []Opcode {
	ops := make([]Opcode, len(prog.Code))
	for i, in := range prog.Code {
		ops[i] = in.Op
	}
	return ops
}

func TestCompileTrueCondition(t *testing.T) {
	prog := mustCompile(t, `rule r { condition: true }`)
	want := []Opcode{OpPushBool, OpHalt}
	got := opcodes(prog)
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("code = %v, want %v", got, want)
	}
	if prog.Code[0].A != 1 {
		t.Errorf("push operand = %d, want 1", prog.Code[0].A)
	}
}

func TestCompileStringRef(t *testing.T) {
	prog := mustCompile(t, `rule r { strings: $a = "x" condition: $a }`)
	want := []Opcode{OpStrMatch, OpHalt}
	got := opcodes(prog)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("code = %v, want %v", got, want)
		}
	}
	if prog.Code[0].A != 0 {
		t.Errorf("pattern id = %d, want 0", prog.Code[0].A)
	}
}

func TestShortCircuitAnd(t *testing.T) {
	prog := mustCompile(t, `rule r {
		strings:
			$a = "first"
			$b = "second"
		condition: $a and $b
	}`)
	want := []Opcode{OpStrMatch, OpJumpFalsePeek, OpPop, OpStrMatch, OpHalt}
	got := opcodes(prog)
	if len(got) != len(want) {
		t.Fatalf("code = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("code = %v, want %v", got, want)
		}
	}
	// the false-jump lands past the right operand, keeping the left
	// result as the expression value
	if prog.Code[1].A != 4 {
		t.Errorf("jump target = %d, want 4", prog.Code[1].A)
	}
}

func TestShortCircuitOr(t *testing.T) {
	prog := mustCompile(t, `rule r {
		strings:
			$a = "first"
			$b = "second"
		condition: $a or $b
	}`)
	got := opcodes(prog)
	if got[1] != OpJumpTruePeek {
		t.Fatalf("code = %v, want OpJumpTruePeek at 1", got)
	}
}

func TestOfThemLowering(t *testing.T) {
	prog := mustCompile(t, `rule r {
		strings:
			$a = "first"
			$b = "second"
			$c = "third"
		condition: 2 of them
	}`)
	// counter init, three match/truthy/add triples, threshold, halt
	want := []Opcode{
		OpPushInt,
		OpStrMatch, OpTruthy, OpAdd,
		OpStrMatch, OpTruthy, OpAdd,
		OpStrMatch, OpTruthy, OpAdd,
		OpPushInt, OpGe,
		OpHalt,
	}
	got := opcodes(prog)
	if len(got) != len(want) {
		t.Fatalf("code = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("code = %v, want %v", got, want)
		}
	}
	if prog.Code[10].A != 2 {
		t.Errorf("threshold = %d, want 2", prog.Code[10].A)
	}
}

func TestPercentOfLowering(t *testing.T) {
	prog := mustCompile(t, `rule r {
		strings:
			$a = "first"
			$b = "second"
		condition: 50% of them
	}`)
	got := opcodes(prog)
	// tail: set size, percentage, OpPercent, OpGe, OpHalt
	n := len(got)
	tail := []Opcode{OpPushInt, OpPushInt, OpPercent, OpGe, OpHalt}
	for i, op := range tail {
		if got[n-len(tail)+i] != op {
			t.Fatalf("code = %v, want tail %v", got, tail)
		}
	}
}

func TestWildcardSet(t *testing.T) {
	prog := mustCompile(t, `rule r {
		strings:
			$pre_a = "first"
			$pre_b = "second"
			$other = "third"
		condition: all of ($pre_*)
	}`)
	var matched []int64
	for _, in := range prog.Code {
		if in.Op == OpStrMatch {
			matched = append(matched, in.A)
		}
	}
	if len(matched) != 2 || matched[0] != 0 || matched[1] != 1 {
		t.Fatalf("matched ids = %v, want [0 1]", matched)
	}
}

func TestForInLoopShape(t *testing.T) {
	prog := mustCompile(t, `rule r {
		strings: $a = "x"
		condition: for all i in (0..2) : (@a[i + 1] > 0)
	}`)
	got := opcodes(prog)
	var backJumps, exitJumps int
	for i, in := range prog.Code {
		switch in.Op {
		case OpJump:
			if in.A <= int64(i) {
				backJumps++
			}
		case OpJumpFalsePop:
			exitJumps++
		}
	}
	if backJumps != 1 || exitJumps != 1 {
		t.Fatalf("loop shape: %d back jumps, %d exits in %v", backJumps, exitJumps, got)
	}
	// four loop slots dropped beneath the result
	var swaps int
	for _, op := range got {
		if op == OpSwap {
			swaps++
		}
	}
	if swaps != 4 {
		t.Errorf("got %d swaps, want 4", swaps)
	}
}

func TestReaderCall(t *testing.T) {
	prog := mustCompile(t, `rule r { condition: uint16be(4) == 0x5a4d }`)
	got := opcodes(prog)
	want := []Opcode{OpPushInt, OpRead, OpPushInt, OpEq, OpHalt}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("code = %v, want %v", got, want)
		}
	}
	if prog.Code[1].A != ReadUint16BE {
		t.Errorf("reader id = %d, want %d", prog.Code[1].A, ReadUint16BE)
	}
}

func TestMatchesRegexTable(t *testing.T) {
	c := New()
	p, err := parser.New()
	if err != nil {
		t.Fatalf("parser.New: %v", err)
	}
	rs, err := p.Parse(`rule r { condition: ext matches /^pow[a-z]+/i }`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	prog, err := c.CompileRule(rs.Rules[0], nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(c.Regexes()) != 1 {
		t.Fatalf("regex table has %d entries, want 1", len(c.Regexes()))
	}
	var found bool
	for _, in := range prog.Code {
		if in.Op == OpMatches {
			found = true
			if in.A != 0 {
				t.Errorf("regex index = %d, want 0", in.A)
			}
		}
	}
	if !found {
		t.Fatal("no OpMatches emitted")
	}
	if !c.Regexes()[0].MatchString("POWERSHELL") {
		t.Error("compiled regex should match case-insensitively")
	}
}

func TestModuleFieldAndExternal(t *testing.T) {
	prog := mustCompile(t, `import "pe"
	rule r { condition: pe.number_of_sections > ext }`)
	got := opcodes(prog)
	want := []Opcode{OpModuleField, OpExternal, OpGt, OpHalt}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("code = %v, want %v", got, want)
		}
	}
	path := prog.Code[0].Path
	if len(path) != 2 || path[0] != "pe" || path[1] != "number_of_sections" {
		t.Errorf("module path = %v", path)
	}
	if prog.Code[1].S != "ext" {
		t.Errorf("external name = %q, want ext", prog.Code[1].S)
	}
}

func TestCompileErrors(t *testing.T) {
	cases := []struct {
		name string
		src  string
		kind ErrorKind
	}{
		{"undefined pattern", `rule r { condition: $nope }`, UndefinedPattern},
		{"undefined in set", `rule r { strings: $a = "x" condition: any of ($a, $b) }`, UndefinedPattern},
		{"them without strings", `rule r { condition: all of them }`, UndefinedPattern},
		{"anonymous outside loop", `rule r { strings: $a = "x" condition: $ and $a }`, UndefinedPattern},
		{"wildcard matches nothing", `rule r { strings: $a = "x" condition: any of ($z_*) }`, UndefinedPattern},
		{"non-boolean condition", `rule r { condition: 1 + 2 }`, TypeMismatch},
		{"string arithmetic", `rule r { condition: "a" + 1 == 2 }`, TypeMismatch},
		{"count vs string", `rule r { strings: $a = "x" condition: #a == "x" }`, TypeMismatch},
		{"bitwise on float", `rule r { condition: (1.5 & 2) == 0 }`, TypeMismatch},
		{"and on integer", `rule r { strings: $a = "x" condition: 1 and $a }`, TypeMismatch},
		{"matches non-regex", `rule r { condition: ext matches "str" }`, TypeMismatch},
		{"ordered bool", `rule r { condition: true > false }`, TypeMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := compileSource(t, tc.src)
			if err == nil {
				t.Fatal("expected compile error")
			}
			var ce *Error
			if !errors.As(err, &ce) {
				t.Fatalf("error is %T, want *Error: %v", err, err)
			}
			if ce.Kind != tc.kind {
				t.Errorf("kind = %v, want %v (%v)", ce.Kind, tc.kind, err)
			}
		})
	}
}

func TestDuplicateRuleName(t *testing.T) {
	_, err := compileSource(t, `
		rule same { condition: true }
		rule same { condition: false }
	`)
	var ce *Error
	if !errors.As(err, &ce) || ce.Kind != DuplicateRuleName {
		t.Fatalf("err = %v, want DuplicateRuleName", err)
	}
}

func TestDuplicatePatternName(t *testing.T) {
	rule := &ast.Rule{Name: "r", Condition: ast.BoolLit{Value: true}}
	refs := []PatternRef{{Name: "$a", ID: 0}, {Name: "$a", ID: 1}}
	_, err := New().CompileRule(rule, refs)
	var ce *Error
	if !errors.As(err, &ce) || ce.Kind != DuplicatePatternName {
		t.Fatalf("err = %v, want DuplicatePatternName", err)
	}
}

func TestInvalidMatchesRegex(t *testing.T) {
	_, err := compileSource(t, `rule r { condition: ext matches /[z-a]/ }`)
	if err == nil {
		t.Fatal("expected error for invalid regex")
	}
	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatalf("error is %T, want *Error: %v", err, err)
	}
}
