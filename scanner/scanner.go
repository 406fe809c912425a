// Package scanner ties rule parsing, pattern matching and condition
// evaluation together: compile a ruleset once, scan any number of
// buffers against it concurrently.
package scanner

import (
	regexp "github.com/wasilibs/go-re2"

	"github.com/sansecio/yarex/compiler"
	"github.com/sansecio/yarex/matcher"
)

// ScanFlags controls scanning behavior.
type ScanFlags int

// ScanCallback is the interface for receiving match notifications.
type ScanCallback interface {
	RuleMatching(r *MatchRule) (abort bool, err error)
}

// MatchString represents a matched string within a rule.
type MatchString struct {
	Name   string
	Offset int64
	Length int
	Data   []byte
}

// Meta represents a metadata entry from a rule.
type Meta struct {
	Identifier string
	Value      interface{}
}

// MatchRule represents a rule that matched during scanning.
type MatchRule struct {
	Rule    string
	Tags    []string
	Metas   []Meta
	Strings []MatchString
}

// MatchRules collects matching rules and implements ScanCallback.
type MatchRules []MatchRule

// RuleMatching implements ScanCallback, collecting all matching rules.
func (m *MatchRules) RuleMatching(r *MatchRule) (abort bool, err error) {
	*m = append(*m, *r)
	return false, nil
}

// compiledRule holds the compiled form of a single rule.
type compiledRule struct {
	name     string
	tags     []string
	metas    []Meta
	private  bool
	global   bool
	program  *compiler.Program
	patterns []compiler.PatternRef
}

// Rules holds a compiled ruleset ready for scanning. Immutable after
// Compile; safe to share across concurrent scans.
type Rules struct {
	rules       []*compiledRule
	matcher     *matcher.Matcher
	regexes     []*regexp.Regexp
	numPatterns int
}

// Stats returns the number of rules and patterns in the ruleset.
func (r *Rules) Stats() (rules, patterns int) {
	return len(r.rules), r.numPatterns
}
