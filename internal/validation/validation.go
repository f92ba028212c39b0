package validation

import (
	"errors"
	"strings"
	"unicode"
)

// DefaultMaxCityLen bounds city names and search queries in runes.
const DefaultMaxCityLen = 100

var (
	// ErrCityEmpty is returned when the input is empty or whitespace-only after trim.
	ErrCityEmpty = errors.New("city is required")
	// ErrCityTooLong is returned when the input exceeds the maximum length.
	ErrCityTooLong = errors.New("city name too long")
	// ErrCityInvalidChars is returned when the input contains disallowed characters.
	ErrCityInvalidChars = errors.New("city name contains invalid characters")
)

// ValidateCity trims the input, enforces maxLen (in runes, 0 uses the default)
// and restricts to letters, digits, space and the punctuation found in place
// names. Returns the trimmed string with its original casing.
func ValidateCity(input string, maxLen int) (string, error) {
	s, err := validate(input, maxLen)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", ErrCityEmpty
	}
	return s, nil
}

// ValidateQuery applies the same character rules as ValidateCity but accepts
// an empty query, which callers treat as "no suggestions".
func ValidateQuery(input string, maxLen int) (string, error) {
	return validate(input, maxLen)
}

func validate(input string, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxCityLen
	}
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) > maxLen {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

// isAllowedCityRune returns true for letters (Unicode), combining marks,
// digits, space, comma, hyphen, period and apostrophe.
func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.Is(unicode.Mn, r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}
