package usecase

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxErrorMessageBytes = 500

// sanitizeMessage flattens an error message for storage on a job record.
func sanitizeMessage(msg, secret string) string {
	if secret != "" {
		msg = strings.ReplaceAll(msg, secret, "[redacted]")
	}
	msg = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, msg)
	msg = strings.Join(strings.Fields(msg), " ")
	if len(msg) <= maxErrorMessageBytes {
		return msg
	}
	return string(trimPartialRune([]byte(msg[:maxErrorMessageBytes-3]))) + "..."
}

// trimPartialRune drops a trailing incomplete UTF-8 sequence.
func trimPartialRune(b []byte) []byte {
	for i := 1; i <= utf8.UTFMax && i <= len(b); i++ {
		if utf8.RuneStart(b[len(b)-i]) {
			if !utf8.FullRune(b[len(b)-i:]) {
				return b[:len(b)-i]
			}
			return b
		}
	}
	return b
}
