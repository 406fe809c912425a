package matcher

// Atom selection. Atoms are 2-4 byte literal runs seeding the shared
// automaton. The invariant is soundness: every possible match of a
// pattern must contain at least one of its atoms verbatim, at a known
// offset from the match start. Quality scoring only tunes which sound
// candidate wins.

const (
	minAtomLen = 2
	maxAtomLen = 4
)

// offsetRun is a literal byte run at a fixed offset from a pattern's
// match start.
type offsetRun struct {
	offset int
	bytes  []byte
}

// extractVariantAtoms returns the automaton entries for one variant and
// the per-entry prefix (atom offset within the variant). An empty
// result routes the variant to the full-scan fallback.
func extractVariantAtoms(v *variant) ([][]byte, []int) {
	switch v.kind {
	case vText:
		off, atom := bestWindow(v.bytes)
		if atom == nil {
			return nil, nil
		}
		if v.nocase {
			expanded := expandCase(atom)
			prefixes := make([]int, len(expanded))
			for i := range prefixes {
				prefixes[i] = off
			}
			return expanded, prefixes
		}
		return [][]byte{atom}, []int{off}

	case vHex:
		runs := hexLiteralRuns(v.hex)
		var bestAtom []byte
		bestOff := 0
		bestQ := -1
		for _, r := range runs {
			if off, atom := bestWindow(r.bytes); atom != nil {
				if q := atomQuality(atom); q > bestQ {
					bestQ = q
					bestAtom = atom
					bestOff = r.offset + off
				}
			}
		}
		if bestAtom == nil {
			return nil, nil
		}
		return [][]byte{bestAtom}, []int{bestOff}

	case vRegex:
		if v.nocase {
			return nil, nil
		}
		atoms := regexAtoms(v.reSrc)
		prefixes := make([]int, len(atoms))
		return atoms, prefixes
	}
	return nil, nil
}

// bestWindow picks the highest quality window of 2-4 bytes from data,
// preferring earlier windows on ties. Returns nil when data is too
// short to yield a sound atom.
func bestWindow(data []byte) (int, []byte) {
	if len(data) < minAtomLen {
		return 0, nil
	}
	size := len(data)
	if size > maxAtomLen {
		size = maxAtomLen
	}

	bestOff := 0
	bestQ := -1
	for off := 0; off+size <= len(data); off++ {
		if q := atomQuality(data[off : off+size]); q > bestQ {
			bestQ = q
			bestOff = off
		}
	}
	return bestOff, data[bestOff : bestOff+size]
}

// regexAtoms extracts sound atoms from a regex pattern source. A run
// outside every alternation and optional group is required in any
// match, so one window from the best such run suffices. Failing that, a
// top-level alternation still yields sound atoms when every branch
// produces one. Anything else has no sound atom.
func regexAtoms(pattern string) [][]byte {
	if isTopLevelAlternation(pattern) {
		// A bare alternation has no single required run; sound only if
		// every branch contributes its own atom.
		var atoms [][]byte
		for _, branch := range splitTopLevelAlternation(pattern) {
			best := findBestRun(requiredLiteralRuns(branch))
			if best == nil {
				return nil
			}
			_, atom := bestWindow(best)
			if atom == nil {
				return nil
			}
			atoms = append(atoms, atom)
		}
		return atoms
	}

	if best := findBestRun(requiredLiteralRuns(pattern)); best != nil {
		if _, atom := bestWindow(best); atom != nil {
			return [][]byte{atom}
		}
	}
	return nil
}

// findBestRun returns the highest quality run long enough for an atom.
func findBestRun(runs [][]byte) []byte {
	var best []byte
	bestQuality := -1
	for _, run := range runs {
		if len(run) < minAtomLen {
			continue
		}
		if q := atomQuality(run); q > bestQuality {
			bestQuality = q
			best = run
		}
	}
	return best
}

// expandCase returns every ASCII case variant of the atom. Bounded by
// the 4-byte atom size at 16 variants.
func expandCase(atom []byte) [][]byte {
	variants := [][]byte{{}}
	for _, b := range atom {
		lower, upper := toLower(b), toUpper(b)
		next := make([][]byte, 0, len(variants)*2)
		for _, v := range variants {
			next = append(next, append(append([]byte{}, v...), lower))
			if upper != lower {
				next = append(next, append(append([]byte{}, v...), upper))
			}
		}
		variants = next
	}
	return variants
}

func toUpper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - ('a' - 'A')
	}
	return b
}

// atomQuality scores an atom; higher is more selective. Longer runs of
// distinct, uncommon bytes score best.
func atomQuality(atom []byte) int {
	if len(atom) == 0 {
		return 0
	}

	score := 0
	uniqueBytes := make(map[byte]struct{})
	allSame := true
	firstByte := atom[0]

	for _, b := range atom {
		score += byteQuality(b)
		uniqueBytes[b] = struct{}{}
		if b != firstByte {
			allSame = false
		}
	}

	// Unique byte diversity bonus: +2 per unique byte
	score += len(uniqueBytes) * 2

	// Heavy penalty for repeated common bytes (runs of zeros, spaces)
	if allSame && isCommonByte(firstByte) {
		score -= 10 * len(atom)
	}

	if score < 0 {
		return 0
	}
	return score
}

func byteQuality(b byte) int {
	// Common filler bytes, least selective
	if isCommonByte(b) {
		return 12
	}
	// Alphabetic bytes, common in text
	if (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') {
		return 18
	}
	return 20
}

func isCommonByte(b byte) bool {
	switch b {
	case 0x00, 0x20, 0x0A, 0xCC, 0xFF:
		return true
	}
	return false
}
