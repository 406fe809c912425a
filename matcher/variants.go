package matcher

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/wasilibs/go-re2/experimental"
)

// buildVariants materializes every directly verifiable form of a
// pattern: ascii/wide encodings, one copy per xor key, the three
// base64 phases, or the compiled hex/regex program.
func buildVariants(p *Pattern) ([]variant, error) {
	switch p.Kind {
	case KindHex:
		ops, err := compileHexTokens(p.Hex)
		if err != nil {
			return nil, fmt.Errorf("string %s: %w", p.Name, err)
		}
		return []variant{{patternID: p.ID, kind: vHex, hex: ops}}, nil

	case KindRegex:
		mods := p.RegexMods
		mods.CaseInsensitive = mods.CaseInsensitive || p.Mods.Nocase
		re, err := experimental.CompileLatin1(RE2Pattern(p.Regex, mods))
		if err != nil {
			return nil, fmt.Errorf("string %s: invalid regex: %w", p.Name, err)
		}
		return []variant{{
			patternID: p.ID,
			kind:      vRegex,
			re:        re,
			reSrc:     p.Regex,
			nocase:    p.RegexMods.CaseInsensitive || p.Mods.Nocase || hasInlineCaseFlag(p.Regex),
			fullword:  p.Mods.Fullword,
		}}, nil
	}

	// Text patterns. Wide alone replaces the ascii form; wide+ascii
	// searches both.
	var forms []struct {
		data []byte
		wide bool
	}
	if p.Mods.Wide {
		forms = append(forms, struct {
			data []byte
			wide bool
		}{wideEncode(p.Text), true})
	}
	if p.Mods.Ascii || !p.Mods.Wide {
		forms = append(forms, struct {
			data []byte
			wide bool
		}{p.Text, false})
	}

	if p.Mods.Base64 || p.Mods.Base64Wide {
		return base64Variants(p, forms)
	}

	var out []variant
	for _, f := range forms {
		if p.Mods.Xor {
			for key := int(p.Mods.XorMin); key <= int(p.Mods.XorMax); key++ {
				out = append(out, variant{
					patternID: p.ID,
					kind:      vText,
					bytes:     xorEncode(f.data, byte(key)),
					wide:      f.wide,
					fullword:  p.Mods.Fullword,
				})
			}
			continue
		}
		out = append(out, variant{
			patternID: p.ID,
			kind:      vText,
			bytes:     f.data,
			nocase:    p.Mods.Nocase,
			wide:      f.wide,
			fullword:  p.Mods.Fullword,
		})
	}
	return out, nil
}

func wideEncode(data []byte) []byte {
	out := make([]byte, 0, len(data)*2)
	for _, b := range data {
		out = append(out, b, 0)
	}
	return out
}

func xorEncode(data []byte, key byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key
	}
	return out
}

// base64Variants produces the phase-shifted encodings of every
// plaintext form, so `wide base64` encodes the UTF-16LE text. base64
// widens nothing; base64wide widens the encoded output itself.
func base64Variants(p *Pattern, forms []struct {
	data []byte
	wide bool
}) ([]variant, error) {
	enc := base64.StdEncoding
	if p.Mods.Base64Alphabet != "" {
		enc = base64.NewEncoding(p.Mods.Base64Alphabet)
	}

	var out []variant
	for _, f := range forms {
		encoded := base64Phases(f.data, enc)
		if len(encoded) == 0 {
			return nil, fmt.Errorf("string %s: too short for base64 matching", p.Name)
		}
		if p.Mods.Base64 {
			for _, e := range encoded {
				out = append(out, variant{patternID: p.ID, kind: vText, bytes: e})
			}
		}
		if p.Mods.Base64Wide {
			for _, e := range encoded {
				out = append(out, variant{patternID: p.ID, kind: vText, bytes: wideEncode(e), wide: true})
			}
		}
	}
	return out, nil
}

// base64Phases encodes data at the three possible alignments within
// base64 3-byte groups. The prefix padding bytes and the number of
// leading chars to skip (which depend on the unknown preceding context)
// vary per phase; trailing chars that encode bits of following data are
// trimmed as well.
func base64Phases(data []byte, enc *base64.Encoding) [][]byte {
	phases := [3]struct{ pad, skip int }{{0, 0}, {1, 2}, {2, 3}}
	patterns := make([][]byte, 0, 3)

	for _, ph := range phases {
		padded := append(make([]byte, ph.pad), data...)
		encoded := enc.EncodeToString(padded)
		if len(encoded) <= ph.skip {
			continue
		}
		trimmed := strings.TrimRight(encoded[ph.skip:], "=")
		if trim := trailingUnstableChars(len(data) + ph.pad); trim > 0 && len(trimmed) > trim {
			trimmed = trimmed[:len(trimmed)-trim]
		}
		if len(trimmed) > 0 {
			patterns = append(patterns, []byte(trimmed))
		}
	}

	return patterns
}

// trailingUnstableChars returns how many trailing base64 chars depend
// on what follows the data. When the input length isn't a multiple of
// 3, the final chars encode partial bytes mixing in following data.
func trailingUnstableChars(dataLen int) int {
	if dataLen%3 == 0 {
		return 0
	}
	return 1
}
