package matcher

import (
	"fmt"

	"github.com/sansecio/yarex/ast"
)

type hexOpKind int

const (
	opByte hexOpKind = iota
	opMask // nibble wildcard: buf[pos] & mask == value
	opAny
	opJump
	opAlt
)

type hexOp struct {
	kind hexOpKind

	b           byte
	value, mask byte
	min, max    int // opJump; max -1 means unbounded
	branches    [][]hexOp
}

func compileHexTokens(tokens []ast.HexToken) ([]hexOp, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty hex string")
	}
	ops := make([]hexOp, 0, len(tokens))
	for _, t := range tokens {
		switch t := t.(type) {
		case ast.HexByte:
			ops = append(ops, hexOp{kind: opByte, b: t.Value})

		case ast.HexWildcard:
			ops = append(ops, hexOp{kind: opAny})

		case ast.HexNibble:
			var value, mask byte
			if t.High != nil {
				value |= *t.High << 4
				mask |= 0xf0
			}
			if t.Low != nil {
				value |= *t.Low
				mask |= 0x0f
			}
			ops = append(ops, hexOp{kind: opMask, value: value, mask: mask})

		case ast.HexJump:
			min, max := 0, -1
			if t.Min != nil {
				min = *t.Min
			}
			if t.Max != nil {
				max = *t.Max
			}
			if max >= 0 && max < min {
				return nil, fmt.Errorf("jump [%d-%d]: upper bound below lower", min, max)
			}
			ops = append(ops, hexOp{kind: opJump, min: min, max: max})

		case ast.HexAlt:
			branches := make([][]hexOp, 0, len(t.Branches))
			for _, b := range t.Branches {
				br, err := compileHexTokens(b)
				if err != nil {
					return nil, err
				}
				branches = append(branches, br)
			}
			ops = append(ops, hexOp{kind: opAlt, branches: branches})
		}
	}
	return ops, nil
}

// matchHexSeq matches the hex program against buf starting at pos and
// returns the end offset of the first successful match. Jumps try every
// skip count in their range and alternations try every branch, so a
// match is found whenever any combination succeeds.
func matchHexSeq(ops []hexOp, buf []byte, pos int) (int, bool) {
	return runHexOps(ops, 0, buf, pos, func(end int) (int, bool) {
		return end, true
	})
}

func runHexOps(ops []hexOp, oi int, buf []byte, pos int, cont func(int) (int, bool)) (int, bool) {
	for ; oi < len(ops); oi++ {
		op := &ops[oi]
		switch op.kind {
		case opByte:
			if pos >= len(buf) || buf[pos] != op.b {
				return 0, false
			}
			pos++

		case opMask:
			if pos >= len(buf) || buf[pos]&op.mask != op.value {
				return 0, false
			}
			pos++

		case opAny:
			if pos >= len(buf) {
				return 0, false
			}
			pos++

		case opJump:
			rest := ops[oi+1:]
			max := op.max
			if max < 0 || max > len(buf)-pos {
				max = len(buf) - pos
			}
			for skip := op.min; skip <= max; skip++ {
				if end, ok := runHexOps(rest, 0, buf, pos+skip, cont); ok {
					return end, true
				}
			}
			return 0, false

		case opAlt:
			rest := ops[oi+1:]
			for _, br := range op.branches {
				end, ok := runHexOps(br, 0, buf, pos, func(p int) (int, bool) {
					return runHexOps(rest, 0, buf, p, cont)
				})
				if ok {
					return end, true
				}
			}
			return 0, false
		}
	}
	return cont(pos)
}

// hexLiteralRuns returns the literal byte runs whose offset from the
// pattern start is fixed, stopping at the first variable-length op.
// Atoms must come from this region so a candidate hit implies an exact
// anchor.
func hexLiteralRuns(ops []hexOp) []offsetRun {
	var runs []offsetRun
	var cur []byte
	off := 0
	curStart := 0

	flush := func() {
		if len(cur) > 0 {
			runs = append(runs, offsetRun{offset: curStart, bytes: cur})
			cur = nil
		}
	}

	for _, op := range ops {
		switch op.kind {
		case opByte:
			if len(cur) == 0 {
				curStart = off
			}
			cur = append(cur, op.b)
			off++
		case opMask, opAny:
			flush()
			off++
		default:
			// jump or alternation: offsets beyond here are not fixed
			flush()
			return runs
		}
	}
	flush()
	return runs
}
