// Package matcher extracts atoms from patterns, builds one shared
// Aho-Corasick automaton per ruleset, and verifies candidate hits into
// exact per-pattern match lists.
package matcher

import (
	"fmt"
	"sort"

	ahocorasick "github.com/pgavlin/aho-corasick"
	regexp "github.com/wasilibs/go-re2"

	"github.com/sansecio/yarex/ast"
)

// Kind discriminates the pattern families.
type Kind int

const (
	KindText Kind = iota
	KindHex
	KindRegex
)

// Pattern is one string definition with a ruleset-global id.
type Pattern struct {
	ID   int
	Name string
	Kind Kind
	Mods ast.StringModifiers

	Text      []byte
	Hex       []ast.HexToken
	Regex     string
	RegexMods ast.RegexModifiers
}

// Match is a confirmed occurrence of a pattern.
type Match struct {
	Offset int
	Length int
}

// MatchTable maps pattern id to its matches, ordered by offset. One
// table is allocated per scan; tables are never shared between scans.
type MatchTable [][]Match

type variantKind int

const (
	vText variantKind = iota
	vHex
	vRegex
)

// variant is one concrete, directly verifiable form of a pattern after
// modifier materialization (wide encoding, xor key, base64 phase).
type variant struct {
	patternID int
	kind      variantKind

	bytes    []byte // vText: exact bytes expected at the anchor
	nocase   bool
	wide     bool
	fullword bool

	hex []hexOp // vHex

	re    *regexp.Regexp // vRegex
	reSrc string         // vRegex: pattern source for atom extraction
}

// atomRef ties an automaton pattern back to its variant. prefix is the
// atom's offset from the variant's match start, so a hit at offset k
// implies a candidate anchor of k-prefix.
type atomRef struct {
	variant int
	prefix  int
}

// Matcher is the immutable multi-pattern matcher for one ruleset. It is
// safe to share across concurrent scans.
type Matcher struct {
	numPatterns int
	variants    []variant
	atomRefs    []atomRef
	ac          *ahocorasick.AhoCorasick
	fallbacks   []int // variant indices verified by direct full-buffer scan
}

// New builds the shared automaton for all patterns of a ruleset.
func New(patterns []*Pattern) (*Matcher, error) {
	m := &Matcher{numPatterns: len(patterns)}

	var atoms [][]byte
	for _, p := range patterns {
		if err := validateModifiers(p); err != nil {
			return nil, err
		}

		variants, err := buildVariants(p)
		if err != nil {
			return nil, err
		}

		for _, v := range variants {
			vi := len(m.variants)
			m.variants = append(m.variants, v)

			vAtoms, prefixes := extractVariantAtoms(&m.variants[vi])
			if len(vAtoms) == 0 {
				m.fallbacks = append(m.fallbacks, vi)
				continue
			}
			for i, a := range vAtoms {
				atoms = append(atoms, a)
				m.atomRefs = append(m.atomRefs, atomRef{variant: vi, prefix: prefixes[i]})
			}
		}
	}

	if len(atoms) > 0 {
		builder := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{})
		ac := builder.BuildByte(atoms)
		m.ac = &ac
	}

	return m, nil
}

// Scan runs the automaton over buf in a single pass, verifies candidate
// hits, runs fallback patterns, and returns the per-pattern match table.
func (m *Matcher) Scan(buf []byte) MatchTable {
	table := make(MatchTable, m.numPatterns)

	if m.ac != nil {
		seen := make(map[[2]int]bool)
		regexDone := make([]bool, len(m.variants))

		iter := m.ac.IterOverlappingByte(buf)
		for {
			hit := iter.Next()
			if hit == nil {
				break
			}
			ref := m.atomRefs[hit.Pattern()]
			v := &m.variants[ref.variant]

			if v.kind == vRegex {
				if regexDone[ref.variant] {
					continue
				}
				regexDone[ref.variant] = true
				m.recordRegex(v, buf, table)
				continue
			}

			anchor := hit.Start() - ref.prefix
			if anchor < 0 {
				continue
			}
			key := [2]int{ref.variant, anchor}
			if seen[key] {
				continue
			}
			seen[key] = true

			if length, ok := verifyAt(v, buf, anchor); ok {
				table[v.patternID] = append(table[v.patternID], Match{Offset: anchor, Length: length})
			}
		}
	}

	for _, vi := range m.fallbacks {
		m.scanFallback(&m.variants[vi], buf, table)
	}

	for id := range table {
		sortMatches(table, id)
	}
	return table
}

// verifyAt checks whether the variant matches buf at anchor.
func verifyAt(v *variant, buf []byte, anchor int) (int, bool) {
	var length int
	switch v.kind {
	case vText:
		end := anchor + len(v.bytes)
		if end > len(buf) {
			return 0, false
		}
		if v.nocase {
			if !foldEqual(buf[anchor:end], v.bytes) {
				return 0, false
			}
		} else if !bytesEqual(buf[anchor:end], v.bytes) {
			return 0, false
		}
		length = len(v.bytes)

	case vHex:
		end, ok := matchHexSeq(v.hex, buf, anchor)
		if !ok {
			return 0, false
		}
		length = end - anchor

	default:
		return 0, false
	}

	if v.fullword && !fullwordBoundary(buf, anchor, anchor+length, v.wide) {
		return 0, false
	}
	return length, true
}

// recordRegex runs the compiled regex over the whole buffer once and
// records every match. Called lazily on the first candidate hit.
func (m *Matcher) recordRegex(v *variant, buf []byte, table MatchTable) {
	for _, loc := range v.re.FindAllIndex(buf, -1) {
		if v.fullword && !fullwordBoundary(buf, loc[0], loc[1], false) {
			continue
		}
		table[v.patternID] = append(table[v.patternID], Match{Offset: loc[0], Length: loc[1] - loc[0]})
	}
}

// scanFallback verifies an atomless variant by direct buffer traversal.
func (m *Matcher) scanFallback(v *variant, buf []byte, table MatchTable) {
	switch v.kind {
	case vRegex:
		m.recordRegex(v, buf, table)
	case vText, vHex:
		for pos := 0; pos <= len(buf); pos++ {
			if length, ok := verifyAt(v, buf, pos); ok {
				table[v.patternID] = append(table[v.patternID], Match{Offset: pos, Length: length})
			}
		}
	}
}

// sortMatches orders one pattern's matches by offset then length and
// drops duplicates produced by overlapping variants.
func sortMatches(table MatchTable, id int) {
	ms := table[id]
	if len(ms) < 2 {
		return
	}
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Offset != ms[j].Offset {
			return ms[i].Offset < ms[j].Offset
		}
		return ms[i].Length < ms[j].Length
	})
	out := ms[:1]
	for _, mt := range ms[1:] {
		last := out[len(out)-1]
		if mt.Offset == last.Offset && mt.Length == last.Length {
			continue
		}
		out = append(out, mt)
	}
	table[id] = out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// foldEqual compares byte slices ignoring ASCII letter case.
func foldEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if toLower(a[i]) != toLower(b[i]) {
			return false
		}
	}
	return true
}

func toLower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + 'a' - 'A'
	}
	return b
}

func isWordByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

// fullwordBoundary reports whether the match at [start,end) is bounded
// by non-word characters. Wide variants check the two-byte form.
func fullwordBoundary(buf []byte, start, end int, wide bool) bool {
	if wide {
		if start >= 2 && buf[start-1] == 0 && isWordByte(buf[start-2]) {
			return false
		}
		if end+1 < len(buf) && buf[end+1] == 0 && isWordByte(buf[end]) {
			return false
		}
		return true
	}
	if start > 0 && isWordByte(buf[start-1]) {
		return false
	}
	if end < len(buf) && isWordByte(buf[end]) {
		return false
	}
	return true
}

// ModifierError reports an unsupported modifier combination on a
// pattern, detected while building the matcher.
type ModifierError struct {
	Pattern string
	Detail  string
}

func (e *ModifierError) Error() string {
	return fmt.Sprintf("string %s: %s", e.Pattern, e.Detail)
}

func validateModifiers(p *Pattern) error {
	m := p.Mods
	switch p.Kind {
	case KindHex:
		if m.Nocase || m.Wide || m.Ascii || m.Fullword || m.Xor || m.Base64 || m.Base64Wide {
			return &ModifierError{Pattern: p.Name, Detail: "hex strings accept only the private modifier"}
		}
	case KindRegex:
		if m.Xor || m.Base64 || m.Base64Wide {
			return &ModifierError{Pattern: p.Name, Detail: "regex strings cannot combine with xor or base64"}
		}
	case KindText:
		if (m.Base64 || m.Base64Wide) && (m.Nocase || m.Xor || m.Fullword) {
			return &ModifierError{Pattern: p.Name, Detail: "base64 cannot combine with nocase, xor or fullword"}
		}
		if m.Xor && m.Nocase {
			return &ModifierError{Pattern: p.Name, Detail: "xor cannot combine with nocase"}
		}
		if len(p.Text) == 0 {
			return &ModifierError{Pattern: p.Name, Detail: "empty string"}
		}
	}
	return nil
}
