package parser

import "testing"

var benchRules = `
import "pe"

rule suspicious_loader : loader {
	meta:
		author = "research"
		severity = 8
	strings:
		$mz = { 4d 5a }
		$s1 = "VirtualAllocEx" nocase
		$s2 = "WriteProcessMemory" wide ascii
		$s3 = "CreateRemoteThread" xor(0x01-0xff)
		$re = /Get(Proc|Module)Address/
	condition:
		$mz at 0 and 2 of ($s*) and (#re > 1 or pe.number_of_sections < 3)
}

rule encoded_dropper {
	strings:
		$b = "cmd.exe /c" base64
		$h = { e8 ?? ?? ?? ?? 5d 8b [2-6] c3 }
	condition:
		any of them and filesize < 2MB
}

rule iterated_offsets {
	strings:
		$a = "marker"
	condition:
		for all i in (1..#a) : (@a[i] > 0x100)
}
`

func BenchmarkParse(b *testing.B) {
	p, err := New()
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Parse(benchRules); err != nil {
			b.Fatal(err)
		}
	}
}
