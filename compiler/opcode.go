package compiler

// Opcode identifies a bytecode instruction.
type Opcode uint8

const (
	OpNop Opcode = iota

	// Stack manipulation
	OpPushInt    // push A as Int
	OpPushFloat  // push F as Float
	OpPushString // push S as String
	OpPushBool   // push A != 0 as Bool
	OpPushUndef  // push Undefined
	OpPop
	OpDup
	OpSwap

	// Arithmetic. Div is integer division for Int operands.
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg

	// Bitwise, Int only
	OpBitAnd
	OpBitOr
	OpBitXor
	OpBitNot
	OpShl
	OpShr

	// Comparison
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe

	// String operators
	OpContains
	OpStartsWith
	OpEndsWith
	OpMatches // A: index into the ruleset regex table

	// Boolean
	OpNot
	OpTruthy // pop, push Int 1 for Bool true, else Int 0

	// Control flow; jump targets are absolute instruction indices in A
	OpJump
	OpJumpFalsePeek // jump when top is not Bool true, leave top in place
	OpJumpTruePeek  // jump when top is Bool true, leave top in place
	OpJumpFalsePop  // jump when top is not Bool true, always pop

	// Pattern queries; A: global pattern id
	OpStrMatch   // Bool: pattern has at least one match
	OpStrMatchAt // pop offset; Bool: match starting exactly there
	OpStrMatchIn // pop hi, lo; Bool: match starting within [lo,hi]
	OpStrCount   // Int: number of matches
	OpStrCountIn // pop hi, lo; Int: matches starting within [lo,hi]
	OpStrOffset  // pop index (1-based); Int offset or Undefined
	OpStrLength  // pop index (1-based); Int length or Undefined

	// Loop variable slots; A: absolute stack index
	OpStackGet
	OpStackSet

	// Quantifier support: pop percent, pop set size,
	// push ceil(size*percent/100)
	OpPercent

	// Data access
	OpRead        // A: builtin reader id; pop offset, push value read from buffer
	OpModuleField // Path: module field path, resolved through the accessor map
	OpExternal    // S: external variable name
	OpFilesize
	OpEntrypoint

	OpHalt
)

// Builtin reader ids for OpRead.
const (
	ReadUint8 int64 = iota
	ReadUint16
	ReadUint32
	ReadInt8
	ReadInt16
	ReadInt32
	ReadUint16BE
	ReadUint32BE
	ReadInt16BE
	ReadInt32BE
)

// readerIDs maps condition function names to OpRead ids.
var readerIDs = map[string]int64{
	"uint8":    ReadUint8,
	"uint16":   ReadUint16,
	"uint32":   ReadUint32,
	"int8":     ReadInt8,
	"int16":    ReadInt16,
	"int32":    ReadInt32,
	"uint16be": ReadUint16BE,
	"uint32be": ReadUint32BE,
	"int16be":  ReadInt16BE,
	"int32be":  ReadInt32BE,
}

// Instr is one bytecode instruction. Operand use depends on the opcode;
// unused fields are zero.
type Instr struct {
	Op   Opcode
	A    int64
	F    float64
	S    string
	Path []string
}
