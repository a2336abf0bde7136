package reader

import (
	"bytes"
	"errors"
	"testing"
)

func TestParseHex(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []byte
	}{
		{"plain", "18200a", []byte{0x18, 0x20, 0x0a}},
		{"prefix", "0x18200A", []byte{0x18, 0x20, 0x0a}},
		{"spaced", " 18 20\n0a\t", []byte{0x18, 0x20, 0x0a}},
		{"colons", "18:20:0a", []byte{0x18, 0x20, 0x0a}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHex(tt.input)
			if err != nil {
				t.Fatalf("ParseHex(%q) failed: %v", tt.input, err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("ParseHex(%q) = %x, want %x", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseHex_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"odd", "182"},
		{"not hex", "zz"},
		{"empty", "  "},
		{"prefix only", "0x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseHex(tt.input); err == nil {
				t.Errorf("ParseHex(%q) succeeded, want error", tt.input)
			}
		})
	}

	if _, err := ParseHex(""); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("ParseHex(\"\") = %v, want ErrEmptyInput", err)
	}
}
