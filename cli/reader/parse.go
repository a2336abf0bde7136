package reader

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyInput is returned by ParseHex for input with no hex digits.
var ErrEmptyInput = errors.New("no frame bytes in input")

// ParseHex decodes a frame typed or pasted by an operator. Whitespace and
// colon separators are ignored, as is a leading 0x.
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', ':':
			return -1
		}
		return r
	}, s)
	if clean == "" {
		return nil, ErrEmptyInput
	}
	if len(clean)%2 != 0 {
		return nil, fmt.Errorf("odd number of hex digits (%d)", len(clean))
	}
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}
