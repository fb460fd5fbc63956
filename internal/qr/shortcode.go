package qr

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ShortCodeAlphabet omits I and O; digits are not used at all
const ShortCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ"

const (
	ShortCodeLength = 6
	// MaxShortCodeAttempts bounds AssignShortCode's collision retries
	MaxShortCodeAttempts = 8
)

var ErrShortCodeExhausted = errors.New("no free short code after retries")

// ShortCode derives the unformatted code for eventID
func ShortCode(eventID string) string {
	return shortCode(eventID, 0)
}

func shortCode(eventID string, attempt int) string {
	seed := eventID
	if attempt > 0 {
		seed = eventID + "#" + strconv.Itoa(attempt)
	}

	var h uint32
	for i := 0; i < len(seed); i++ {
		h = h*31 + uint32(seed[i])
	}

	n := uint32(len(ShortCodeAlphabet))
	var b strings.Builder
	b.Grow(ShortCodeLength)
	for i := 0; i < ShortCodeLength; i++ {
		b.WriteByte(ShortCodeAlphabet[h%n])
		h /= n
	}
	return b.String()
}

// FormatShortCode renders a code as XXX-XXX
func FormatShortCode(code string) string {
	code = CleanShortCode(code)
	if len(code) != ShortCodeLength {
		return code
	}
	return code[:3] + "-" + code[3:]
}

// CleanShortCode strips spaces and hyphens and uppercases user input
func CleanShortCode(input string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '\t':
			return -1
		}
		return r
	}, strings.ToUpper(input))
}

// ValidShortCode reports whether a cleaned code could have been produced by ShortCode
func ValidShortCode(code string) bool {
	if len(code) != ShortCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(ShortCodeAlphabet, rune(code[i])) {
			return false
		}
	}
	return true
}

// AssignShortCode returns the first derived code for eventID that exists reports as free.
// Attempt 0 is the plain hash; later attempts salt the seed with the attempt number.
func AssignShortCode(ctx context.Context, eventID string, exists func(ctx context.Context, code string) (bool, error)) (string, error) {
	for attempt := 0; attempt < MaxShortCodeAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		code := shortCode(eventID, attempt)
		taken, err := exists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check short code %s: %w", code, err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", ErrShortCodeExhausted
}
