package vm

// Value is the tagged union the interpreter computes with. The zero
// Value is Undefined, which propagates through most operators and
// resolves to a non-match at the top level.
type Value struct {
	kind kind
	b    bool
	i    int64
	f    float64
	s    string
}

type kind uint8

const (
	kUndefined kind = iota
	kBool
	kInt
	kFloat
	kString
)

// Undef is the Undefined value.
var Undef = Value{}

func BoolVal(b bool) Value   { return Value{kind: kBool, b: b} }
func IntVal(i int64) Value   { return Value{kind: kInt, i: i} }
func FloatVal(f float64) Value { return Value{kind: kFloat, f: f} }
func StringVal(s string) Value { return Value{kind: kString, s: s} }

func (v Value) IsUndefined() bool { return v.kind == kUndefined }

// IsTrue reports whether v is the boolean true. Every other value,
// Undefined included, is not true.
func (v Value) IsTrue() bool { return v.kind == kBool && v.b }

func (v Value) Bool() (bool, bool) { return v.b, v.kind == kBool }

func (v Value) Int() (int64, bool) { return v.i, v.kind == kInt }

func (v Value) Float() (float64, bool) { return v.f, v.kind == kFloat }

func (v Value) String() (string, bool) { return v.s, v.kind == kString }

// number returns v as a float plus whether v is numeric at all, and
// whether it is specifically an integer.
func (v Value) number() (f float64, isNum bool, isInt bool) {
	switch v.kind {
	case kInt:
		return float64(v.i), true, true
	case kFloat:
		return v.f, true, false
	}
	return 0, false, false
}
