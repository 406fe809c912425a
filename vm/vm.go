// Package vm evaluates compiled rule conditions. One evaluation gets a
// fresh stack, runs against a fixed step budget, and ends in exactly
// one of three states: matched, not matched, or faulted. A faulted rule
// counts as a non-match; the fault is reported alongside so callers can
// surface diagnostics without aborting the scan.
package vm

import (
	"errors"
	"strings"

	regexp "github.com/wasilibs/go-re2"

	"github.com/sansecio/yarex/compiler"
	"github.com/sansecio/yarex/matcher"
)

// DefaultStepBudget bounds instruction count per rule evaluation when
// the caller doesn't set one.
const DefaultStepBudget = 1_000_000

// ErrStepLimit reports a rule evaluation that exceeded its step budget.
var ErrStepLimit = errors.New("step limit exceeded")

var errCorruptBytecode = errors.New("corrupt bytecode")

// Status is the terminal state of one rule evaluation.
type Status int

const (
	NotMatched Status = iota
	Matched
	Faulted
)

// Result is the outcome of Eval. Err is set only when Status is Faulted.
type Result struct {
	Status Status
	Err    error
}

// Eval runs one rule's bytecode to completion. regexes is the ruleset
// regex table indexed by OpMatches operands; budget <= 0 selects
// DefaultStepBudget.
func Eval(code []compiler.Instr, regexes []*regexp.Regexp, ctx *ScanContext, budget int) Result {
	if budget <= 0 {
		budget = DefaultStepBudget
	}
	m := &machine{code: code, regexes: regexes, ctx: ctx, steps: budget}
	return m.run()
}

type machine struct {
	code    []compiler.Instr
	regexes []*regexp.Regexp
	ctx     *ScanContext
	stack   []Value
	steps   int
	err     error
}

func (m *machine) push(v Value) {
	m.stack = append(m.stack, v)
}

func (m *machine) pop() Value {
	if len(m.stack) == 0 {
		m.err = errCorruptBytecode
		return Undef
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v
}

func (m *machine) peek() Value {
	if len(m.stack) == 0 {
		m.err = errCorruptBytecode
		return Undef
	}
	return m.stack[len(m.stack)-1]
}

func (m *machine) run() Result {
	pc := 0
	for pc >= 0 && pc < len(m.code) {
		if m.steps--; m.steps < 0 {
			return Result{Status: Faulted, Err: ErrStepLimit}
		}
		in := &m.code[pc]
		pc++

		switch in.Op {
		case compiler.OpNop:

		case compiler.OpPushInt:
			m.push(IntVal(in.A))
		case compiler.OpPushFloat:
			m.push(FloatVal(in.F))
		case compiler.OpPushString:
			m.push(StringVal(in.S))
		case compiler.OpPushBool:
			m.push(BoolVal(in.A != 0))
		case compiler.OpPushUndef:
			m.push(Undef)
		case compiler.OpPop:
			m.pop()
		case compiler.OpDup:
			m.push(m.peek())
		case compiler.OpSwap:
			b, a := m.pop(), m.pop()
			m.push(b)
			m.push(a)

		case compiler.OpAdd, compiler.OpSub, compiler.OpMul, compiler.OpDiv, compiler.OpMod:
			b, a := m.pop(), m.pop()
			m.push(arith(in.Op, a, b))
		case compiler.OpNeg:
			v := m.pop()
			if i, ok := v.Int(); ok {
				m.push(IntVal(-i))
			} else if f, ok := v.Float(); ok {
				m.push(FloatVal(-f))
			} else {
				m.push(Undef)
			}

		case compiler.OpBitAnd, compiler.OpBitOr, compiler.OpBitXor, compiler.OpShl, compiler.OpShr:
			b, a := m.pop(), m.pop()
			m.push(bitwise(in.Op, a, b))
		case compiler.OpBitNot:
			if i, ok := m.pop().Int(); ok {
				m.push(IntVal(^i))
			} else {
				m.push(Undef)
			}

		case compiler.OpEq, compiler.OpNe, compiler.OpLt, compiler.OpLe, compiler.OpGt, compiler.OpGe:
			b, a := m.pop(), m.pop()
			m.push(compare(in.Op, a, b))

		case compiler.OpContains, compiler.OpStartsWith, compiler.OpEndsWith:
			b, a := m.pop(), m.pop()
			m.push(stringOp(in.Op, a, b))
		case compiler.OpMatches:
			s, ok := m.pop().String()
			if !ok || int(in.A) >= len(m.regexes) {
				m.push(Undef)
				break
			}
			m.push(BoolVal(m.regexes[in.A].MatchString(s)))

		case compiler.OpNot:
			v := m.pop()
			if b, ok := v.Bool(); ok {
				m.push(BoolVal(!b))
			} else if v.IsUndefined() {
				m.push(BoolVal(true)) // not Undefined: Undefined acts as false
			} else {
				m.push(Undef)
			}
		case compiler.OpTruthy:
			if m.pop().IsTrue() {
				m.push(IntVal(1))
			} else {
				m.push(IntVal(0))
			}

		case compiler.OpJump:
			pc = int(in.A)
		case compiler.OpJumpFalsePeek:
			if !m.peek().IsTrue() {
				pc = int(in.A)
			}
		case compiler.OpJumpTruePeek:
			if m.peek().IsTrue() {
				pc = int(in.A)
			}
		case compiler.OpJumpFalsePop:
			if !m.pop().IsTrue() {
				pc = int(in.A)
			}

		case compiler.OpStrMatch:
			m.push(BoolVal(len(m.matches(in.A)) > 0))
		case compiler.OpStrMatchAt:
			pos, ok := m.pop().Int()
			if !ok {
				m.push(Undef)
				break
			}
			found := false
			for _, mt := range m.matches(in.A) {
				if int64(mt.Offset) == pos {
					found = true
					break
				}
			}
			m.push(BoolVal(found))
		case compiler.OpStrMatchIn:
			hi, okH := m.pop().Int()
			lo, okL := m.pop().Int()
			if !okH || !okL {
				m.push(Undef)
				break
			}
			found := false
			for _, mt := range m.matches(in.A) {
				if int64(mt.Offset) >= lo && int64(mt.Offset) <= hi {
					found = true
					break
				}
			}
			m.push(BoolVal(found))
		case compiler.OpStrCount:
			m.push(IntVal(int64(len(m.matches(in.A)))))
		case compiler.OpStrCountIn:
			hi, okH := m.pop().Int()
			lo, okL := m.pop().Int()
			if !okH || !okL {
				m.push(Undef)
				break
			}
			var n int64
			for _, mt := range m.matches(in.A) {
				if int64(mt.Offset) >= lo && int64(mt.Offset) <= hi {
					n++
				}
			}
			m.push(IntVal(n))
		case compiler.OpStrOffset:
			idx, ok := m.pop().Int()
			ms := m.matches(in.A)
			if !ok || idx < 1 || idx > int64(len(ms)) {
				m.push(Undef)
				break
			}
			m.push(IntVal(int64(ms[idx-1].Offset)))
		case compiler.OpStrLength:
			idx, ok := m.pop().Int()
			ms := m.matches(in.A)
			if !ok || idx < 1 || idx > int64(len(ms)) {
				m.push(Undef)
				break
			}
			m.push(IntVal(int64(ms[idx-1].Length)))

		case compiler.OpStackGet:
			if in.A < 0 || in.A >= int64(len(m.stack)) {
				m.err = errCorruptBytecode
			} else {
				m.push(m.stack[in.A])
			}
		case compiler.OpStackSet:
			v := m.pop()
			if in.A < 0 || in.A >= int64(len(m.stack)) {
				m.err = errCorruptBytecode
			} else {
				m.stack[in.A] = v
			}

		case compiler.OpPercent:
			p, okP := m.pop().Int()
			size, okS := m.pop().Int()
			if !okP || !okS || p < 0 {
				m.push(Undef)
				break
			}
			m.push(IntVal((size*p + 99) / 100))

		case compiler.OpRead:
			off, ok := m.pop().Int()
			if !ok {
				m.push(Undef)
				break
			}
			m.push(readBuffer(in.A, m.ctx.Data, off))

		case compiler.OpModuleField:
			mod := in.Path[0]
			acc := m.ctx.Modules[mod]
			if acc == nil {
				m.push(Undef)
				break
			}
			v, err := acc.GetField(in.Path[1:], m.ctx)
			if err != nil {
				return Result{Status: Faulted, Err: &ModuleError{Module: mod, Err: err}}
			}
			m.push(v)
		case compiler.OpExternal:
			m.push(m.ctx.Externals[in.S])
		case compiler.OpFilesize:
			m.push(IntVal(m.ctx.Filesize()))
		case compiler.OpEntrypoint:
			m.push(m.ctx.Entrypoint)

		case compiler.OpHalt:
			v := m.peek()
			if m.err != nil {
				return Result{Status: Faulted, Err: m.err}
			}
			if v.IsTrue() {
				return Result{Status: Matched}
			}
			return Result{Status: NotMatched}

		default:
			return Result{Status: Faulted, Err: errCorruptBytecode}
		}

		if m.err != nil {
			return Result{Status: Faulted, Err: m.err}
		}
	}
	return Result{Status: Faulted, Err: errCorruptBytecode}
}

func (m *machine) matches(id int64) []matcher.Match {
	if id < 0 || id >= int64(len(m.ctx.Matches)) {
		return nil
	}
	return m.ctx.Matches[id]
}

// arith implements + - * \ %. Mixed Int/Float promotes to Float;
// division and modulo by zero, and non-numeric operands, are Undefined.
func arith(op compiler.Opcode, a, b Value) Value {
	af, aNum, aInt := a.number()
	bf, bNum, bInt := b.number()
	if !aNum || !bNum {
		return Undef
	}

	if aInt && bInt {
		ai, _ := a.Int()
		bi, _ := b.Int()
		switch op {
		case compiler.OpAdd:
			return IntVal(ai + bi)
		case compiler.OpSub:
			return IntVal(ai - bi)
		case compiler.OpMul:
			return IntVal(ai * bi)
		case compiler.OpDiv:
			if bi == 0 {
				return Undef
			}
			return IntVal(ai / bi)
		case compiler.OpMod:
			if bi == 0 {
				return Undef
			}
			return IntVal(ai % bi)
		}
		return Undef
	}

	switch op {
	case compiler.OpAdd:
		return FloatVal(af + bf)
	case compiler.OpSub:
		return FloatVal(af - bf)
	case compiler.OpMul:
		return FloatVal(af * bf)
	case compiler.OpDiv:
		if bf == 0 {
			return Undef
		}
		return FloatVal(af / bf)
	}
	return Undef
}

func bitwise(op compiler.Opcode, a, b Value) Value {
	ai, okA := a.Int()
	bi, okB := b.Int()
	if !okA || !okB {
		return Undef
	}
	switch op {
	case compiler.OpBitAnd:
		return IntVal(ai & bi)
	case compiler.OpBitOr:
		return IntVal(ai | bi)
	case compiler.OpBitXor:
		return IntVal(ai ^ bi)
	case compiler.OpShl:
		if bi < 0 || bi >= 64 {
			return Undef
		}
		return IntVal(ai << uint(bi))
	case compiler.OpShr:
		if bi < 0 || bi >= 64 {
			return Undef
		}
		return IntVal(int64(uint64(ai) >> uint(bi)))
	}
	return Undef
}

// compare handles numeric and string comparison. Operands of
// incompatible or undefined types compare to Undefined.
func compare(op compiler.Opcode, a, b Value) Value {
	if as, ok := a.String(); ok {
		bs, ok := b.String()
		if !ok {
			return Undef
		}
		return orderResult(op, compareStrings(as, bs))
	}
	if ab, ok := a.Bool(); ok {
		bb, ok := b.Bool()
		if !ok {
			return Undef
		}
		switch op {
		case compiler.OpEq:
			return BoolVal(ab == bb)
		case compiler.OpNe:
			return BoolVal(ab != bb)
		}
		return Undef
	}

	af, aNum, _ := a.number()
	bf, bNum, _ := b.number()
	if !aNum || !bNum {
		return Undef
	}
	switch {
	case af < bf:
		return orderResult(op, -1)
	case af > bf:
		return orderResult(op, 1)
	}
	return orderResult(op, 0)
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func orderResult(op compiler.Opcode, cmp int) Value {
	switch op {
	case compiler.OpEq:
		return BoolVal(cmp == 0)
	case compiler.OpNe:
		return BoolVal(cmp != 0)
	case compiler.OpLt:
		return BoolVal(cmp < 0)
	case compiler.OpLe:
		return BoolVal(cmp <= 0)
	case compiler.OpGt:
		return BoolVal(cmp > 0)
	case compiler.OpGe:
		return BoolVal(cmp >= 0)
	}
	return Undef
}

func stringOp(op compiler.Opcode, a, b Value) Value {
	as, okA := a.String()
	bs, okB := b.String()
	if !okA || !okB {
		return Undef
	}
	switch op {
	case compiler.OpContains:
		return BoolVal(strings.Contains(as, bs))
	case compiler.OpStartsWith:
		return BoolVal(strings.HasPrefix(as, bs))
	case compiler.OpEndsWith:
		return BoolVal(strings.HasSuffix(as, bs))
	}
	return Undef
}

// readBuffer implements the uint8..int32be readers. Out of bounds
// offsets yield Undefined, never a fault.
func readBuffer(id int64, buf []byte, off int64) Value {
	width := int64(1)
	switch id {
	case compiler.ReadUint16, compiler.ReadInt16, compiler.ReadUint16BE, compiler.ReadInt16BE:
		width = 2
	case compiler.ReadUint32, compiler.ReadInt32, compiler.ReadUint32BE, compiler.ReadInt32BE:
		width = 4
	}
	if off < 0 || off+width > int64(len(buf)) {
		return Undef
	}
	b := buf[off:]

	switch id {
	case compiler.ReadUint8:
		return IntVal(int64(b[0]))
	case compiler.ReadInt8:
		return IntVal(int64(int8(b[0])))
	case compiler.ReadUint16:
		return IntVal(int64(uint16(b[0]) | uint16(b[1])<<8))
	case compiler.ReadInt16:
		return IntVal(int64(int16(uint16(b[0]) | uint16(b[1])<<8)))
	case compiler.ReadUint32:
		return IntVal(int64(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24))
	case compiler.ReadInt32:
		return IntVal(int64(int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)))
	case compiler.ReadUint16BE:
		return IntVal(int64(uint16(b[0])<<8 | uint16(b[1])))
	case compiler.ReadInt16BE:
		return IntVal(int64(int16(uint16(b[0])<<8 | uint16(b[1]))))
	case compiler.ReadUint32BE:
		return IntVal(int64(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])))
	case compiler.ReadInt32BE:
		return IntVal(int64(int32(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))))
	}
	return Undef
}
