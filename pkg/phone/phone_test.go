package phone

import "testing"

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"010-1234-5678":    "01012345678",
		" (031) 567-2278 ": "0315672278",
		"+82 10 1234 5678": "821012345678",
		"anonymous":        "",
		"":                 "",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormat(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"01012345678", "010-1234-5678"},
		{"010-1234-5678", "010-1234-5678"},
		{"0315672278", "031-567-2278"},
		{"1588-1234", "1588-1234"},
		{"114", "114"},
		{"821012345678", "821012345678"},
	}
	for _, tc := range cases {
		if got := Format(tc.in); got != tc.want {
			t.Fatalf("Format(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestVariants_DistinctAndOrdered(t *testing.T) {
	got := Variants("01011112222")
	if len(got) != 2 {
		t.Fatalf("expected 2 variants, got %v", got)
	}
	if got[0] != "010-1111-2222" || got[1] != "01011112222" {
		t.Fatalf("unexpected variants: %v", got)
	}

	got = Variants(" 010 1111 2222 ")
	if len(got) != 3 {
		t.Fatalf("expected 3 variants, got %v", got)
	}
	if got[2] != "010 1111 2222" {
		t.Fatalf("expected trimmed raw last, got %q", got[2])
	}

	if v := Variants("   "); len(v) != 0 {
		t.Fatalf("expected no variants for blank input, got %v", v)
	}
}

func TestSuffix(t *testing.T) {
	s, ok := Suffix("+82 10-1234-5678", 8)
	if !ok || s != "12345678" {
		t.Fatalf("unexpected suffix %q %v", s, ok)
	}
	if _, ok := Suffix("1234", 8); ok {
		t.Fatalf("expected short number to have no suffix")
	}
}

func TestExclusionList(t *testing.T) {
	l := NewExclusionList("070-4741-4471", "0315672278", "", "ext")
	if l.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", l.Len())
	}
	if !l.Contains("07047414471") {
		t.Fatalf("expected normalized match")
	}
	if !l.Contains("031-567-2278") {
		t.Fatalf("expected formatted match")
	}
	if l.Contains("010-1111-2222") {
		t.Fatalf("unexpected match")
	}
	if l.Contains("") {
		t.Fatalf("empty input must never match")
	}

	var zero ExclusionList
	if zero.Contains("07047414471") {
		t.Fatalf("zero list must not match")
	}
}
