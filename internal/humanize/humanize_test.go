package humanize

import "testing"

func TestSI(t *testing.T) {
	cases := map[float64]string{
		1000:    "1.00 kpps",
		100000:  "100.00 kpps",
		1500000: "1.50 Mpps",
		3e9:     "3.00 Gpps",
		12:      "12.00 pps",
	}
	for value, expect := range cases {
		if got := SI(value, "pps"); got != expect {
			t.Fatal("expected", expect, "got", got)
		}
	}
}

func TestBytes(t *testing.T) {
	if got := Bytes(24); got != "24 B" {
		t.Fatal("unexpected", got)
	}
	if got := Bytes(2500); got != "2.50 kB" {
		t.Fatal("unexpected", got)
	}
}
