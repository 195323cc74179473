package validation

import (
	"testing"

	"avatarchat/pkg/errs"
)

func TestCheckMinLength(t *testing.T) {
	r := Rules{}

	cases := []struct {
		text string
		ok   bool
	}{
		{"", false},
		{"hi", false},
		{"hey", false},
		{"heyo", true},
		{"   heyo   ", true}, // trimmed before counting
		{"  hi  ", false},
		{"héllo", true}, // runes, not bytes
		{"日本語だ", true},
	}
	for _, tc := range cases {
		err := r.Check(tc.text)
		if tc.ok && err != nil {
			t.Fatalf("Check(%q) = %v, want nil", tc.text, err)
		}
		if !tc.ok {
			if !errs.IsKind(err, errs.KindValidation) {
				t.Fatalf("Check(%q) = %v, want validation error", tc.text, err)
			}
		}
	}
}

func TestCheckCustomMinLength(t *testing.T) {
	r := Rules{MinLength: 10}
	if err := r.Check("short one"); !errs.IsKind(err, errs.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := r.Check("long enough"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckDenylist(t *testing.T) {
	r := Rules{Denylist: []string{"badword", "Worse Phrase"}}

	// Exact match against the whole trimmed text, case-insensitive.
	for _, text := range []string{"badword", "BADWORD", "  BadWord  ", "worse phrase"} {
		if err := r.Check(text); !errs.IsKind(err, errs.KindValidation) {
			t.Fatalf("Check(%q) = %v, want validation error", text, err)
		}
	}
	// Substring occurrences pass; only whole-text matches are blocked.
	if err := r.Check("that badword appears inside"); err != nil {
		t.Fatalf("substring should pass: %v", err)
	}
}
