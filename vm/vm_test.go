package vm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sansecio/yarex/compiler"
	"github.com/sansecio/yarex/matcher"
)

func evalCode(code []compiler.Instr, ctx *ScanContext, budget int) Result {
	if ctx == nil {
		ctx = &ScanContext{}
	}
	return Eval(code, nil, ctx, budget)
}

func TestHaltStatus(t *testing.T) {
	cases := []struct {
		name string
		code []compiler.Instr
		want Status
	}{
		{"true", []compiler.Instr{{Op: compiler.OpPushBool, A: 1}, {Op: compiler.OpHalt}}, Matched},
		{"false", []compiler.Instr{{Op: compiler.OpPushBool}, {Op: compiler.OpHalt}}, NotMatched},
		{"undefined", []compiler.Instr{{Op: compiler.OpPushUndef}, {Op: compiler.OpHalt}}, NotMatched},
		{"integer is not true", []compiler.Instr{{Op: compiler.OpPushInt, A: 1}, {Op: compiler.OpHalt}}, NotMatched},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if r := evalCode(tc.code, nil, 0); r.Status != tc.want {
				t.Errorf("status = %v, want %v (err %v)", r.Status, tc.want, r.Err)
			}
		})
	}
}

func TestArith(t *testing.T) {
	cases := []struct {
		op   compiler.Opcode
		a, b Value
		want Value
	}{
		{compiler.OpAdd, IntVal(2), IntVal(3), IntVal(5)},
		{compiler.OpSub, IntVal(2), IntVal(3), IntVal(-1)},
		{compiler.OpMul, IntVal(4), IntVal(5), IntVal(20)},
		{compiler.OpDiv, IntVal(7), IntVal(2), IntVal(3)},
		{compiler.OpMod, IntVal(7), IntVal(2), IntVal(1)},
		{compiler.OpAdd, IntVal(1), FloatVal(0.5), FloatVal(1.5)},
		{compiler.OpDiv, FloatVal(1), FloatVal(4), FloatVal(0.25)},
		{compiler.OpDiv, IntVal(1), IntVal(0), Undef},
		{compiler.OpMod, IntVal(1), IntVal(0), Undef},
		{compiler.OpDiv, FloatVal(1), FloatVal(0), Undef},
		{compiler.OpAdd, Undef, IntVal(1), Undef},
		{compiler.OpAdd, IntVal(1), Undef, Undef},
		{compiler.OpAdd, StringVal("a"), IntVal(1), Undef},
		{compiler.OpAdd, BoolVal(true), IntVal(1), Undef},
	}
	for _, tc := range cases {
		if got := arith(tc.op, tc.a, tc.b); got != tc.want {
			t.Errorf("arith(%v, %v, %v) = %v, want %v", tc.op, tc.a, tc.b, got, tc.want)
		}
	}
}

func TestBitwise(t *testing.T) {
	cases := []struct {
		op   compiler.Opcode
		a, b Value
		want Value
	}{
		{compiler.OpBitAnd, IntVal(0b1100), IntVal(0b1010), IntVal(0b1000)},
		{compiler.OpBitOr, IntVal(0b1100), IntVal(0b1010), IntVal(0b1110)},
		{compiler.OpBitXor, IntVal(0b1100), IntVal(0b1010), IntVal(0b0110)},
		{compiler.OpShl, IntVal(1), IntVal(4), IntVal(16)},
		{compiler.OpShr, IntVal(16), IntVal(4), IntVal(1)},
		{compiler.OpShr, IntVal(-1), IntVal(63), IntVal(1)}, // logical shift
		{compiler.OpShl, IntVal(1), IntVal(64), Undef},
		{compiler.OpShl, IntVal(1), IntVal(-1), Undef},
		{compiler.OpBitAnd, FloatVal(1), IntVal(1), Undef},
		{compiler.OpBitAnd, Undef, IntVal(1), Undef},
	}
	for _, tc := range cases {
		if got := bitwise(tc.op, tc.a, tc.b); got != tc.want {
			t.Errorf("bitwise(%v, %v, %v) = %v, want %v", tc.op, tc.a, tc.b, got, tc.want)
		}
	}
}

func TestCompare(t *testing.T) {
	cases := []struct {
		op   compiler.Opcode
		a, b Value
		want Value
	}{
		{compiler.OpLt, IntVal(1), IntVal(2), BoolVal(true)},
		{compiler.OpGe, IntVal(2), IntVal(2), BoolVal(true)},
		{compiler.OpEq, IntVal(1), FloatVal(1.0), BoolVal(true)},
		{compiler.OpLt, FloatVal(1.5), IntVal(2), BoolVal(true)},
		{compiler.OpEq, StringVal("a"), StringVal("a"), BoolVal(true)},
		{compiler.OpLt, StringVal("a"), StringVal("b"), BoolVal(true)},
		{compiler.OpEq, BoolVal(true), BoolVal(true), BoolVal(true)},
		{compiler.OpNe, BoolVal(true), BoolVal(false), BoolVal(true)},
		{compiler.OpLt, BoolVal(true), BoolVal(false), Undef},
		{compiler.OpEq, StringVal("1"), IntVal(1), Undef},
		{compiler.OpEq, Undef, IntVal(1), Undef},
		{compiler.OpEq, Undef, Undef, Undef},
	}
	for _, tc := range cases {
		if got := compare(tc.op, tc.a, tc.b); got != tc.want {
			t.Errorf("compare(%v, %v, %v) = %v, want %v", tc.op, tc.a, tc.b, got, tc.want)
		}
	}
}

func TestStringOps(t *testing.T) {
	cases := []struct {
		op   compiler.Opcode
		a, b Value
		want Value
	}{
		{compiler.OpContains, StringVal("haystack"), StringVal("sta"), BoolVal(true)},
		{compiler.OpContains, StringVal("haystack"), StringVal("xyz"), BoolVal(false)},
		{compiler.OpStartsWith, StringVal("haystack"), StringVal("hay"), BoolVal(true)},
		{compiler.OpStartsWith, StringVal("haystack"), StringVal("stack"), BoolVal(false)},
		{compiler.OpEndsWith, StringVal("haystack"), StringVal("stack"), BoolVal(true)},
		{compiler.OpContains, Undef, StringVal("x"), Undef},
		{compiler.OpContains, StringVal("x"), IntVal(1), Undef},
	}
	for _, tc := range cases {
		if got := stringOp(tc.op, tc.a, tc.b); got != tc.want {
			t.Errorf("stringOp(%v, %v, %v) = %v, want %v", tc.op, tc.a, tc.b, got, tc.want)
		}
	}
}

func TestNotUndefined(t *testing.T) {
	code := []compiler.Instr{
		{Op: compiler.OpPushUndef},
		{Op: compiler.OpNot},
		{Op: compiler.OpHalt},
	}
	if r := evalCode(code, nil, 0); r.Status != Matched {
		t.Errorf("not Undefined: status = %v, want Matched", r.Status)
	}
}

func TestReadBuffer(t *testing.T) {
	buf := []byte{0x01, 0xff, 0x80, 0x7f, 0x00, 0x00, 0x00, 0x80}
	cases := []struct {
		id   int64
		off  int64
		want Value
	}{
		{compiler.ReadUint8, 1, IntVal(0xff)},
		{compiler.ReadInt8, 1, IntVal(-1)},
		{compiler.ReadUint16, 0, IntVal(0xff01)},
		{compiler.ReadUint16BE, 0, IntVal(0x01ff)},
		{compiler.ReadInt16, 1, IntVal(-32513)}, // 0x80ff
		{compiler.ReadInt16BE, 1, IntVal(-128)}, // 0xff80
		{compiler.ReadUint32, 0, IntVal(0x7f80ff01)},
		{compiler.ReadUint32BE, 0, IntVal(0x01ff807f)},
		{compiler.ReadInt32, 4, IntVal(-2147483648)},
		{compiler.ReadUint32BE, 4, IntVal(0x80)},
		{compiler.ReadUint8, 8, Undef},   // past end
		{compiler.ReadUint32, 5, Undef},  // width crosses end
		{compiler.ReadUint8, -1, Undef},
	}
	for _, tc := range cases {
		if got := readBuffer(tc.id, buf, tc.off); got != tc.want {
			t.Errorf("readBuffer(%d, %d) = %v, want %v", tc.id, tc.off, got, tc.want)
		}
	}
}

func TestPercent(t *testing.T) {
	cases := []struct {
		size, pct int64
		want      int64
	}{
		{10, 50, 5},
		{10, 25, 3}, // ceiling of 2.5
		{3, 100, 3},
		{3, 1, 1},
		{0, 50, 0},
	}
	for _, tc := range cases {
		code := []compiler.Instr{
			{Op: compiler.OpPushInt, A: tc.size},
			{Op: compiler.OpPushInt, A: tc.pct},
			{Op: compiler.OpPercent},
			{Op: compiler.OpPushInt, A: tc.want},
			{Op: compiler.OpEq},
			{Op: compiler.OpHalt},
		}
		if r := evalCode(code, nil, 0); r.Status != Matched {
			t.Errorf("%d%% of %d != %d (status %v)", tc.pct, tc.size, tc.want, r.Status)
		}
	}
}

func TestPatternQueries(t *testing.T) {
	ctx := &ScanContext{
		Data: make([]byte, 32),
		Matches: matcher.MatchTable{
			{{Offset: 2, Length: 3}, {Offset: 8, Length: 5}},
			nil,
		},
	}
	cases := []struct {
		name string
		code []compiler.Instr
		want Status
	}{
		{"count", []compiler.Instr{
			{Op: compiler.OpStrCount, A: 0},
			{Op: compiler.OpPushInt, A: 2},
			{Op: compiler.OpEq},
			{Op: compiler.OpHalt},
		}, Matched},
		{"match", []compiler.Instr{
			{Op: compiler.OpStrMatch, A: 0},
			{Op: compiler.OpHalt},
		}, Matched},
		{"no match", []compiler.Instr{
			{Op: compiler.OpStrMatch, A: 1},
			{Op: compiler.OpHalt},
		}, NotMatched},
		{"match at", []compiler.Instr{
			{Op: compiler.OpPushInt, A: 8},
			{Op: compiler.OpStrMatchAt, A: 0},
			{Op: compiler.OpHalt},
		}, Matched},
		{"match at wrong offset", []compiler.Instr{
			{Op: compiler.OpPushInt, A: 3},
			{Op: compiler.OpStrMatchAt, A: 0},
			{Op: compiler.OpHalt},
		}, NotMatched},
		{"match in range", []compiler.Instr{
			{Op: compiler.OpPushInt, A: 5},
			{Op: compiler.OpPushInt, A: 10},
			{Op: compiler.OpStrMatchIn, A: 0},
			{Op: compiler.OpHalt},
		}, Matched},
		{"count in range", []compiler.Instr{
			{Op: compiler.OpPushInt, A: 0},
			{Op: compiler.OpPushInt, A: 31},
			{Op: compiler.OpStrCountIn, A: 0},
			{Op: compiler.OpPushInt, A: 2},
			{Op: compiler.OpEq},
			{Op: compiler.OpHalt},
		}, Matched},
		{"offset", []compiler.Instr{
			{Op: compiler.OpPushInt, A: 2},
			{Op: compiler.OpStrOffset, A: 0},
			{Op: compiler.OpPushInt, A: 8},
			{Op: compiler.OpEq},
			{Op: compiler.OpHalt},
		}, Matched},
		{"length", []compiler.Instr{
			{Op: compiler.OpPushInt, A: 1},
			{Op: compiler.OpStrLength, A: 0},
			{Op: compiler.OpPushInt, A: 3},
			{Op: compiler.OpEq},
			{Op: compiler.OpHalt},
		}, Matched},
		{"offset index zero is undefined", []compiler.Instr{
			{Op: compiler.OpPushInt, A: 0},
			{Op: compiler.OpStrOffset, A: 0},
			{Op: compiler.OpHalt},
		}, NotMatched},
		{"offset past matches is undefined", []compiler.Instr{
			{Op: compiler.OpPushInt, A: 3},
			{Op: compiler.OpStrOffset, A: 0},
			{Op: compiler.OpHalt},
		}, NotMatched},
		{"unknown pattern id", []compiler.Instr{
			{Op: compiler.OpStrMatch, A: 9},
			{Op: compiler.OpHalt},
		}, NotMatched},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if r := Eval(tc.code, nil, ctx, 0); r.Status != tc.want {
				t.Errorf("status = %v, want %v (err %v)", r.Status, tc.want, r.Err)
			}
		})
	}
}

func TestStepBudget(t *testing.T) {
	code := []compiler.Instr{
		{Op: compiler.OpNop},
		{Op: compiler.OpJump, A: 0},
	}
	r := evalCode(code, nil, 100)
	if r.Status != Faulted || !errors.Is(r.Err, ErrStepLimit) {
		t.Fatalf("result = %v/%v, want Faulted with ErrStepLimit", r.Status, r.Err)
	}
}

func TestStackUnderflowFaults(t *testing.T) {
	cases := [][]compiler.Instr{
		{{Op: compiler.OpPop}, {Op: compiler.OpHalt}},
		{{Op: compiler.OpAdd}, {Op: compiler.OpHalt}},
		{{Op: compiler.OpHalt}},
		{{Op: compiler.OpStackGet, A: 5}, {Op: compiler.OpHalt}},
	}
	for i, code := range cases {
		if r := evalCode(code, nil, 0); r.Status != Faulted {
			t.Errorf("case %d: status = %v, want Faulted", i, r.Status)
		}
	}
}

func TestMissingHaltFaults(t *testing.T) {
	code := []compiler.Instr{{Op: compiler.OpPushBool, A: 1}}
	if r := evalCode(code, nil, 0); r.Status != Faulted {
		t.Errorf("status = %v, want Faulted", r.Status)
	}
}

type fieldMap map[string]Value

func (m fieldMap) GetField(path []string, _ *ScanContext) (Value, error) {
	if len(path) != 1 {
		return Undef, nil
	}
	return m[path[0]], nil
}

type failingModule struct{}

func (failingModule) GetField([]string, *ScanContext) (Value, error) {
	return Undef, fmt.Errorf("parse failure")
}

func TestModuleField(t *testing.T) {
	ctx := &ScanContext{
		Modules: map[string]ModuleAccessor{
			"pe": fieldMap{"number_of_sections": IntVal(4)},
		},
	}
	code := []compiler.Instr{
		{Op: compiler.OpModuleField, Path: []string{"pe", "number_of_sections"}},
		{Op: compiler.OpPushInt, A: 4},
		{Op: compiler.OpEq},
		{Op: compiler.OpHalt},
	}
	if r := Eval(code, nil, ctx, 0); r.Status != Matched {
		t.Errorf("status = %v, want Matched (err %v)", r.Status, r.Err)
	}

	// unknown module resolves to Undefined, not a fault
	code[0].Path = []string{"elf", "type"}
	if r := Eval(code, nil, ctx, 0); r.Status != NotMatched {
		t.Errorf("unknown module: status = %v, want NotMatched", r.Status)
	}
}

func TestModuleErrorFaults(t *testing.T) {
	ctx := &ScanContext{Modules: map[string]ModuleAccessor{"pe": failingModule{}}}
	code := []compiler.Instr{
		{Op: compiler.OpModuleField, Path: []string{"pe", "entry_point"}},
		{Op: compiler.OpHalt},
	}
	r := Eval(code, nil, ctx, 0)
	if r.Status != Faulted {
		t.Fatalf("status = %v, want Faulted", r.Status)
	}
	var me *ModuleError
	if !errors.As(r.Err, &me) || me.Module != "pe" {
		t.Errorf("err = %v, want ModuleError for pe", r.Err)
	}
}

func TestExternals(t *testing.T) {
	ctx := &ScanContext{Externals: map[string]Value{"threshold": IntVal(10)}}
	code := []compiler.Instr{
		{Op: compiler.OpExternal, S: "threshold"},
		{Op: compiler.OpPushInt, A: 5},
		{Op: compiler.OpGt},
		{Op: compiler.OpHalt},
	}
	if r := Eval(code, nil, ctx, 0); r.Status != Matched {
		t.Errorf("status = %v, want Matched", r.Status)
	}

	// missing externals are Undefined
	code[0].S = "absent"
	if r := Eval(code, nil, ctx, 0); r.Status != NotMatched {
		t.Errorf("missing external: status = %v, want NotMatched", r.Status)
	}
}

func TestFilesize(t *testing.T) {
	ctx := &ScanContext{Data: make([]byte, 512)}
	code := []compiler.Instr{
		{Op: compiler.OpFilesize},
		{Op: compiler.OpPushInt, A: 512},
		{Op: compiler.OpEq},
		{Op: compiler.OpHalt},
	}
	if r := Eval(code, nil, ctx, 0); r.Status != Matched {
		t.Errorf("status = %v, want Matched", r.Status)
	}
}
