package consecutive

import (
	"testing"
	"time"
)

func TestFormat(t *testing.T) {
	at := time.Date(2026, 7, 4, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		template string
		prefix   string
		value    int64
		want     string
	}{
		{"empty template falls back to prefix+value", "", "FC", 42, "FC42"},
		{"value token", "{VALUE}", "", 42, "42"},
		{"padded value", "INV-{VALUE:6}", "", 42, "INV-000042"},
		{"padding never truncates", "{VALUE:3}", "", 12345, "12345"},
		{"prefix token", "{PREFIX}{VALUE}", "FC", 7, "FC7"},
		{"date tokens", "{YEAR}/{MONTH}/{DAY}-{VALUE}", "", 9, "2026/07/04-9"},
		{"mixed", "{PREFIX}-{YEAR}{VALUE:4}", "A", 31, "A-20260031"},
		{"literal text preserved", "DOC {VALUE} END", "", 1, "DOC 1 END"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Format(tt.template, tt.prefix, tt.value, at); got != tt.want {
				t.Errorf("Format(%q, %q, %d) = %q, want %q", tt.template, tt.prefix, tt.value, got, tt.want)
			}
		})
	}

	// Rendering is deterministic for fixed inputs.
	a := Format("{PREFIX}{VALUE:5}-{YEAR}", "X", 88, at)
	b := Format("{PREFIX}{VALUE:5}-{YEAR}", "X", 88, at)
	if a != b {
		t.Errorf("Format is not deterministic: %q vs %q", a, b)
	}
}

func TestValidateTemplate(t *testing.T) {
	valid := []string{
		"",
		"{VALUE}",
		"{PREFIX}{VALUE:8}",
		"{YEAR}{MONTH}{DAY}-{VALUE}",
		"plain text",
	}
	for _, tpl := range valid {
		if err := ValidateTemplate(tpl); err != nil {
			t.Errorf("ValidateTemplate(%q) = %v, want nil", tpl, err)
		}
	}

	if err := ValidateTemplate("{VALUE}{BOGUS}"); err == nil {
		t.Error("unknown token should be rejected")
	}
	if err := ValidateTemplate("{VALUE"); err == nil {
		t.Error("unterminated token should be rejected")
	}
}
