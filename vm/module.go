package vm

import (
	"fmt"

	"github.com/sansecio/yarex/matcher"
)

// ModuleAccessor resolves dotted field paths like pe.entry_point at
// scan time. Implementations parse their format (PE, ELF, hashes) and
// return the requested value, or Undef for fields they don't know.
// A returned error faults the evaluating rule.
type ModuleAccessor interface {
	GetField(path []string, ctx *ScanContext) (Value, error)
}

// ScanContext carries everything one rule evaluation reads: the scanned
// buffer, the match table produced by the pattern matcher, and the
// injected external variables and module accessors.
type ScanContext struct {
	Data       []byte
	Matches    matcher.MatchTable
	Externals  map[string]Value
	Modules    map[string]ModuleAccessor
	Entrypoint Value // Undef unless a loader module supplies one
}

// Filesize returns the scanned buffer length.
func (ctx *ScanContext) Filesize() int64 {
	return int64(len(ctx.Data))
}

// ModuleError reports a module accessor failure. The evaluating rule
// faults; sibling rules are unaffected.
type ModuleError struct {
	Module string
	Err    error
}

func (e *ModuleError) Error() string {
	return fmt.Sprintf("module %s: %v", e.Module, e.Err)
}

func (e *ModuleError) Unwrap() error { return e.Err }
