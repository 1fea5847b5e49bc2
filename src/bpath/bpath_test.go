package bpath

import (
	"testing"

	"ustr"
)

func TestSplit(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"/", nil},
		{"/tmp", []string{"tmp"}},
		{"/tmp/hello", []string{"tmp", "hello"}},
		{"/tmp//hello/", []string{"tmp", "hello"}},
	}
	for _, c := range cases {
		got := Split(ustr.Ustr(c.in))
		if len(got) != len(c.want) {
			t.Fatalf("Split(%q) = %v, want %v", c.in, got, c.want)
		}
		for i := range got {
			if got[i].String() != c.want[i] {
				t.Fatalf("Split(%q)[%d] = %q, want %q", c.in, i, got[i], c.want[i])
			}
		}
	}
}

func TestCanonicalize(t *testing.T) {
	got := Canonicalize(ustr.Ustr("/tmp//hello/"))
	if got.String() != "/tmp/hello" {
		t.Fatalf("Canonicalize = %q, want /tmp/hello", got)
	}
	if Canonicalize(ustr.Ustr("/")).String() != "/" {
		t.Fatalf("Canonicalize(/) should stay /")
	}
}

func TestValid(t *testing.T) {
	if Valid(ustr.Ustr("")) {
		t.Fatal("empty component must be invalid")
	}
	if Valid(ustr.Ustr("a/b")) {
		t.Fatal("component containing / must be invalid")
	}
	if !Valid(ustr.Ustr("hello")) {
		t.Fatal("hello should be a valid component")
	}
}
