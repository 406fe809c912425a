package parser

import (
	"errors"
	"fmt"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// LexError reports an invalid token in the rule source: an unterminated
// string or regex, an invalid escape, or a stray character.
type LexError struct {
	Pos    lexer.Position
	Reason string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Reason)
}

// ParseError reports a syntax error at the first offending token. No
// partial AST is produced.
type ParseError struct {
	Pos      lexer.Position
	Expected string
	Found    string
}

func (e *ParseError) Error() string {
	if e.Expected != "" {
		return fmt.Sprintf("%s: expected %s, found %q", e.Pos, e.Expected, e.Found)
	}
	return fmt.Sprintf("%s: %s", e.Pos, e.Found)
}

// wrapError maps participle errors onto the LexError/ParseError taxonomy.
func wrapError(err error) error {
	if err == nil {
		return nil
	}

	var lexErr *lexer.Error
	if errors.As(err, &lexErr) {
		return &LexError{Pos: lexErr.Pos, Reason: lexErr.Msg}
	}

	var unexpected *participle.UnexpectedTokenError
	if errors.As(err, &unexpected) {
		return &ParseError{
			Pos:      unexpected.Unexpected.Pos,
			Expected: unexpected.Expect,
			Found:    unexpected.Unexpected.Value,
		}
	}

	var perr participle.Error
	if errors.As(err, &perr) {
		return &ParseError{Pos: perr.Position(), Found: perr.Message()}
	}

	return err
}
