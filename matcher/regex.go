package matcher

import (
	"strconv"
	"strings"

	"github.com/sansecio/yarex/ast"
)

// RE2Pattern rewrites a rule regex into RE2 syntax with its inline
// modifiers applied as flags.
func RE2Pattern(pattern string, mods ast.RegexModifiers) string {
	var flags strings.Builder
	if mods.CaseInsensitive {
		flags.WriteString("i")
	}
	if mods.DotMatchesAll {
		flags.WriteString("s")
	}
	if mods.Multiline {
		flags.WriteString("m")
	}
	pattern = fixCommaQuantifiers(pattern)
	if flags.Len() == 0 {
		return pattern
	}
	return "(?" + flags.String() + ")" + pattern
}

// hasInlineCaseFlag reports whether the pattern source sets the i flag
// in a (?flags) or (?flags:...) group. Such a pattern can match case
// variants of its literals, so literal-run atoms are unsound for it.
func hasInlineCaseFlag(pattern string) bool {
	for i := 0; i+1 < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			i++
		case '(':
			if pattern[i+1] != '?' {
				continue
			}
		group:
			for j := i + 2; j < len(pattern); j++ {
				switch pattern[j] {
				case 'i':
					return true
				case 'm', 's', 'U':
				default:
					// ':' or ')' ends the set flags; '-' starts
					// cleared flags, and anything else is not a
					// flag group at all
					break group
				}
			}
		}
	}
	return false
}

// fixCommaQuantifiers rewrites {,N} to {0,N} because RE2 treats {,N}
// as literal text rather than a quantifier.
func fixCommaQuantifiers(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern))
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '\\' && i+1 < len(pattern) {
			b.WriteByte(pattern[i])
			b.WriteByte(pattern[i+1])
			i++
			continue
		}
		if pattern[i] == '{' && i+1 < len(pattern) && pattern[i+1] == ',' {
			b.WriteString("{0")
			continue
		}
		b.WriteByte(pattern[i])
	}
	return b.String()
}

// requiredLiteralRuns extracts literals from parts of the pattern that
// are not inside alternation groups or optional groups. These literals
// must appear in any match.
func requiredLiteralRuns(pattern string) [][]byte {
	altGroups := findAlternationGroups(pattern)
	optGroups := findOptionalGroups(pattern)

	if len(altGroups) == 0 && len(optGroups) == 0 {
		return extractLiteralRuns(pattern)
	}

	// Blank out excluded groups with dots to break literal runs
	modified := []byte(pattern)
	for _, g := range altGroups {
		for j := g.start; j <= g.end && j < len(modified); j++ {
			modified[j] = '.'
		}
	}
	for _, g := range optGroups {
		for j := g.start; j <= g.end && j < len(modified); j++ {
			modified[j] = '.'
		}
	}

	return extractLiteralRuns(string(modified))
}

// isTopLevelAlternation checks if the pattern has alternation at the top level.
func isTopLevelAlternation(pattern string) bool {
	depth := 0
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			i++
		case '(':
			depth++
		case ')':
			depth--
		case '|':
			if depth == 0 {
				return true
			}
		}
	}
	return false
}

// splitTopLevelAlternation splits a pattern by top-level | characters.
func splitTopLevelAlternation(pattern string) []string {
	var branches []string
	depth, start := 0, 0

	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			i++
		case '(':
			depth++
		case ')':
			depth--
		case '|':
			if depth == 0 {
				branches = append(branches, pattern[start:i])
				start = i + 1
			}
		}
	}
	return append(branches, pattern[start:])
}

type altGroup struct {
	start, end int
	content    string
}

// findAlternationGroups finds parenthesized groups that contain alternation.
func findAlternationGroups(pattern string) []altGroup {
	var groups []altGroup
	var stack []int // stack of '(' positions

	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			i++ // skip escaped char
		case '(':
			stack = append(stack, i)
		case ')':
			if len(stack) > 0 {
				start := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				content := pattern[start+1 : i]
				if containsAlternationAtDepth0(content) {
					groups = append(groups, altGroup{start, i, content})
				}
			}
		}
	}
	return groups
}

// findOptionalGroups finds parenthesized groups that are optional
// (followed by ?, *, or {0,N}).
func findOptionalGroups(pattern string) []altGroup {
	var groups []altGroup
	var stack []int

	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			i++
		case '(':
			stack = append(stack, i)
		case ')':
			if len(stack) > 0 {
				start := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if isOptionalQuantifier(pattern, i+1) {
					groups = append(groups, altGroup{start, i, pattern[start+1 : i]})
				}
			}
		}
	}
	return groups
}

// containsAlternationAtDepth0 checks if the string has | at depth 0.
func containsAlternationAtDepth0(s string) bool {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '(':
			depth++
		case ')':
			depth--
		case '|':
			if depth == 0 {
				return true
			}
		}
	}
	return false
}

// extractLiteralRuns walks a regex pattern and extracts all literal byte runs.
func extractLiteralRuns(pattern string) [][]byte {
	var runs [][]byte
	var current []byte

	for i := 0; i < len(pattern); {
		c := pattern[i]

		switch c {
		case '\\':
			if i+1 >= len(pattern) {
				current = append(current, c)
				i++
				continue
			}
			next := pattern[i+1]
			switch next {
			case 'x':
				if i+3 < len(pattern) {
					if b, err := strconv.ParseUint(pattern[i+2:i+4], 16, 8); err == nil {
						current = append(current, byte(b))
						i += 4
						continue
					}
				}
				runs, current = appendRun(runs, current)
				i += 2
			case 'd', 'D', 'w', 'W', 's', 'S':
				runs, current = appendRun(runs, current)
				i += 2
			case 'b', 'B':
				i += 2
			case 'n':
				current = append(current, '\n')
				i += 2
			case 'r':
				current = append(current, '\r')
				i += 2
			case 't':
				current = append(current, '\t')
				i += 2
			case '0':
				current = append(current, 0)
				i += 2
			default:
				current = append(current, next)
				i += 2
			}

		case '[':
			runs, current = appendRun(runs, current)
			i = skipCharClass(pattern, i)

		case '(':
			runs, current = appendRun(runs, current)
			if i+1 < len(pattern) && pattern[i+1] == '?' {
				i = skipGroupPrefix(pattern, i)
			} else {
				i++
			}

		case ')', '|':
			runs, current = appendRun(runs, current)
			i++

		case '+':
			runs, current = appendRun(runs, current)
			i++

		case '*', '?':
			// Quantified byte is not guaranteed present
			if len(current) > 0 {
				current = current[:len(current)-1]
			}
			runs, current = appendRun(runs, current)
			i++

		case '{':
			if isQuantifier(pattern, i) {
				if len(current) > 0 {
					current = current[:len(current)-1]
				}
				runs, current = appendRun(runs, current)
				i = skipQuantifier(pattern, i)
			} else {
				current = append(current, c)
				i++
			}

		case '.':
			runs, current = appendRun(runs, current)
			i++

		case '^', '$':
			i++

		default:
			current = append(current, c)
			i++
		}
	}

	runs, _ = appendRun(runs, current)
	return runs
}

func appendRun(runs [][]byte, current []byte) ([][]byte, []byte) {
	if len(current) > 0 {
		return append(runs, current), nil
	}
	return runs, nil
}

func skipCharClass(pattern string, i int) int {
	i++
	if i < len(pattern) && pattern[i] == '^' {
		i++
	}
	if i < len(pattern) && pattern[i] == ']' {
		i++
	}
	for i < len(pattern) {
		if pattern[i] == '\\' && i+1 < len(pattern) {
			i += 2
		} else if pattern[i] == ']' {
			return i + 1
		} else {
			i++
		}
	}
	return i
}

func skipGroupPrefix(pattern string, i int) int {
	i += 2
	for i < len(pattern) {
		c := pattern[i]
		if c == ':' || c == ')' {
			return i + 1
		}
		if c < 'a' || c > 'z' {
			break
		}
		i++
	}
	return i
}

func skipQuantifier(pattern string, i int) int {
	for i++; i < len(pattern) && pattern[i] != '}'; i++ {
	}
	if i < len(pattern) {
		i++
	}
	return i
}

func isQuantifier(pattern string, i int) bool {
	if i >= len(pattern) || pattern[i] != '{' {
		return false
	}
	i++
	if i >= len(pattern) {
		return false
	}
	if pattern[i] == ',' {
		for i++; i < len(pattern) && pattern[i] >= '0' && pattern[i] <= '9'; i++ {
		}
		return i < len(pattern) && pattern[i] == '}'
	}
	if pattern[i] < '0' || pattern[i] > '9' {
		return false
	}
	for i < len(pattern) && pattern[i] >= '0' && pattern[i] <= '9' {
		i++
	}
	if i >= len(pattern) {
		return false
	}
	if pattern[i] == '}' {
		return true
	}
	if pattern[i] != ',' {
		return false
	}
	for i++; i < len(pattern) && pattern[i] >= '0' && pattern[i] <= '9'; i++ {
	}
	return i < len(pattern) && pattern[i] == '}'
}

// isOptionalQuantifier checks if position i starts an optional quantifier (?, *, {0,N}).
func isOptionalQuantifier(pattern string, i int) bool {
	if i >= len(pattern) {
		return false
	}
	switch pattern[i] {
	case '?', '*':
		return true
	case '{':
		if i+1 < len(pattern) {
			if pattern[i+1] == '0' || pattern[i+1] == ',' {
				return true
			}
		}
	}
	return false
}
