package compiler

import "fmt"

// ErrorKind classifies compilation failures.
type ErrorKind int

const (
	UndefinedPattern ErrorKind = iota
	DuplicatePatternName
	DuplicateRuleName
	TypeMismatch
	InvalidModifierCombination
)

func (k ErrorKind) String() string {
	switch k {
	case UndefinedPattern:
		return "undefined pattern"
	case DuplicatePatternName:
		return "duplicate pattern name"
	case DuplicateRuleName:
		return "duplicate rule name"
	case TypeMismatch:
		return "type mismatch"
	case InvalidModifierCombination:
		return "invalid modifier combination"
	}
	return "compile error"
}

// Error is a compilation failure tied to one rule.
type Error struct {
	Kind   ErrorKind
	Rule   string
	Detail string
}

func (e *Error) Error() string {
	if e.Rule == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("rule %q: %s: %s", e.Rule, e.Kind, e.Detail)
}
