// Package sanitize normalizes and validates user-supplied text and
// identifiers before they reach the store.
package sanitize

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// ErrEmpty indicates a required value was blank after trimming.
	ErrEmpty = errors.New("value is required")

	// ErrTooLong indicates a value exceeds its rune limit.
	ErrTooLong = errors.New("value too long")

	// ErrInvalidUTF8 indicates malformed input bytes.
	ErrInvalidUTF8 = errors.New("value is not valid UTF-8")
)

// Text trims s, drops control characters other than newline and tab, and
// enforces a maximum length in runes. maxRunes <= 0 disables the limit.
func Text(s string, maxRunes int) (string, error) {
	if !utf8.ValidString(s) {
		return "", ErrInvalidUTF8
	}
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmpty
	}
	if maxRunes > 0 {
		if n := utf8.RuneCountInString(s); n > maxRunes {
			return "", fmt.Errorf("%w: %d runes, max %d", ErrTooLong, n, maxRunes)
		}
	}
	return s, nil
}

// Line is Text for single-line values such as titles: internal whitespace
// runs collapse to one space.
func Line(s string, maxRunes int) (string, error) {
	if !utf8.ValidString(s) {
		return "", ErrInvalidUTF8
	}
	return Text(strings.Join(strings.Fields(s), " "), maxRunes)
}

// Field wraps a sanitize error with the field name.
func Field(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}
