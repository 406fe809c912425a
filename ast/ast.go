// Package ast defines the Abstract Syntax Tree types for YARA rules.
package ast

// RuleSet represents a parsed rule file: imports followed by rules.
type RuleSet struct {
	Imports []string
	Rules   []*Rule
}

// Rule represents a single YARA rule.
type Rule struct {
	Name      string
	Tags      []string
	Private   bool
	Global    bool
	Meta      []*MetaEntry
	Strings   []*StringDef
	Condition Expr // parsed condition expression
}

// MetaEntry represents a key-value pair in the meta section.
type MetaEntry struct {
	Key   string
	Value any // string, int64 or bool
}

// StringDef represents a string definition in the strings section.
type StringDef struct {
	Name      string      // $identifier or $ (anonymous)
	Value     StringValue // TextString, HexString, or RegexString
	Modifiers StringModifiers
}

// StringModifiers represents the modifiers applied to a string.
type StringModifiers struct {
	Nocase         bool
	Wide           bool
	Ascii          bool
	Fullword       bool
	Private        bool
	Xor            bool
	XorMin         byte // xor key range, 0-255 for bare "xor"
	XorMax         byte
	Base64         bool
	Base64Wide     bool
	Base64Alphabet string // custom 64-char alphabet, empty for standard
}

// StringValue is an interface for the different string types.
type StringValue interface {
	stringValue()
}

// TextString represents a quoted text string.
type TextString struct {
	Value string
}

func (TextString) stringValue() {}

// HexString represents a hex byte sequence with optional wildcards, jumps
// and alternations.
type HexString struct {
	Tokens []HexToken
}

func (HexString) stringValue() {}

// RegexModifiers represents the inline modifiers for a regex pattern.
type RegexModifiers struct {
	CaseInsensitive bool // i flag
	DotMatchesAll   bool // s flag
	Multiline       bool // m flag
}

// RegexString represents a regular expression pattern.
type RegexString struct {
	Pattern   string
	Modifiers RegexModifiers
}

func (RegexString) stringValue() {}

// HexToken is an interface for hex string components.
type HexToken interface {
	hexToken()
}

// HexByte represents a literal byte value.
type HexByte struct {
	Value byte
}

func (HexByte) hexToken() {}

// HexWildcard represents a ?? wildcard matching any byte.
type HexWildcard struct{}

func (HexWildcard) hexToken() {}

// HexNibble represents a half-wildcard byte like 4? or ?D. A nil half
// matches any nibble.
type HexNibble struct {
	High *byte // high nibble value 0-15, nil if wildcard
	Low  *byte // low nibble value 0-15, nil if wildcard
}

func (HexNibble) hexToken() {}

// HexJump represents a jump like [4], [4-16], [4-] or [-].
type HexJump struct {
	Min *int // nil means 0
	Max *int // nil means unbounded
}

func (HexJump) hexToken() {}

// HexAlt represents an alternation like (61 62 | 63). Each branch is a
// full token sequence and may contain wildcards and nested alternations.
type HexAlt struct {
	Branches [][]HexToken
}

func (HexAlt) hexToken() {}
