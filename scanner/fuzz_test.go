package scanner

import (
	"testing"
	"time"
)

func FuzzCompile(f *testing.F) {
	seeds := []string{
		`rule text { strings: $a = "payload" condition: any of them }`,
		`rule hex { strings: $h = { 4d 5a 90 00 } condition: any of them }`,
		`rule regex { strings: $r = /eval\s*\([0-9]+/ condition: any of them }`,
		`rule wildcards { strings: $h = { e8 ?? ?? [2-4] c3 } condition: any of them }`,
		`rule multi {
			strings:
				$a = "foo"
				$b = "bar" nocase
			condition:
				$a and not $b
		}`,
		`rule hex_alt { strings: $h = { (AB CD | EF) 00 } condition: any of them }`,
		`rule encoded { strings: $a = "test" base64 condition: any of them }`,
		`rule quant { strings: $a = "x" $b = "y" condition: 50% of them }`,
		`rule loop { strings: $a = "z" condition: for all i in (1..#a) : (@a[i] < 100) }`,
		`import "pe"
		rule tagged : t1 { meta: x = 1 condition: pe.field > filesize or uint16(0) == 0x5a4d }`,
	}

	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, input string) {
		rules, err := Compile(input)
		if err != nil {
			return
		}
		var matches MatchRules
		rules.ScanMem([]byte(input), 0, time.Second, &matches) //nolint:errcheck
	})
}
