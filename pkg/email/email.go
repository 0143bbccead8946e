package email

import (
	"net/mail"
	"strings"

	dErrors "aegis/pkg/domain-errors"
)

const maxLen = 254

// Normalize validates a bare address and returns it trimmed and lowercased.
// Display names ("Ann <ann@example.com>") are rejected.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "email is required")
	}
	if len(raw) > maxLen {
		return "", dErrors.New(dErrors.CodeInvalidInput, "email is too long")
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Name != "" || addr.Address != raw {
		return "", dErrors.New(dErrors.CodeInvalidInput, "email has an invalid format")
	}
	at := strings.LastIndexByte(addr.Address, '@')
	if at < 1 || !strings.Contains(addr.Address[at+1:], ".") {
		return "", dErrors.New(dErrors.CodeInvalidInput, "email has an invalid format")
	}
	return strings.ToLower(addr.Address), nil
}

// Domain returns the part after the last '@', or "" when there is none.
func Domain(address string) string {
	at := strings.LastIndexByte(address, '@')
	if at < 0 {
		return ""
	}
	return address[at+1:]
}
