package rag

import (
	"errors"
	"testing"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    Mode
		wantErr bool
	}{
		{"", ModeBalanced, false},
		{"precise", ModePrecise, false},
		{"balanced", ModeBalanced, false},
		{"fast", ModeFast, false},
		{"PRECISE", "", true},
		{"turbo", "", true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.input)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownMode) {
				t.Errorf("ParseMode(%q) err = %v, want ErrUnknownMode", tt.input, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMode(%q) failed: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestModeParams(t *testing.T) {
	if p := ModePrecise.params(); p.topK != 8 || p.temperature != 0.05 {
		t.Errorf("precise params = %+v", p)
	}
	if p := ModeBalanced.params(); p.topK != 4 || p.temperature != 0.3 {
		t.Errorf("balanced params = %+v", p)
	}
	if p := ModeFast.params(); p.topK != 2 || p.maxTokens != 256 {
		t.Errorf("fast params = %+v", p)
	}
	// Unknown modes fall back to balanced rather than zero values.
	if p := Mode("bogus").params(); p.topK != 4 {
		t.Errorf("fallback params = %+v", p)
	}
}
