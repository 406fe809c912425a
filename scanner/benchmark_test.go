package scanner

import (
	"bytes"
	"fmt"
	"testing"
	"time"
)

func ruleSource(n int) string {
	var src bytes.Buffer
	for i := 0; i < n; i++ {
		fmt.Fprintf(&src, "rule r%d { strings: $a = \"needle-%08x\" condition: any of them }\n",
			i, uint32(i)*2654435761)
	}
	return src.String()
}

// Scan cost must track buffer length, not rule count: every pattern
// rides the one shared automaton pass.
func BenchmarkScanRuleScaling(b *testing.B) {
	data := bytes.Repeat([]byte("GET /index.php?id=1 HTTP/1.1 User-Agent: curl "), 23000)[:1<<20]
	copy(data[4096:], "needle-00000000 planted")

	for _, n := range []int{1, 10, 100, 1000} {
		rules, err := Compile(ruleSource(n))
		if err != nil {
			b.Fatalf("Compile() error = %v", err)
		}

		b.Run(fmt.Sprintf("rules=%d", n), func(b *testing.B) {
			b.SetBytes(int64(len(data)))
			for i := 0; i < b.N; i++ {
				var matches MatchRules
				if err := rules.ScanMem(data, 0, 30*time.Second, &matches); err != nil {
					b.Fatalf("ScanMem() error = %v", err)
				}
			}
		})
	}
}

func BenchmarkCompileRules(b *testing.B) {
	src := ruleSource(100)
	for i := 0; i < b.N; i++ {
		if _, err := Compile(src); err != nil {
			b.Fatalf("Compile() error = %v", err)
		}
	}
}
