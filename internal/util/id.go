package util

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

const sessionCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewSessionCode returns a short shareable session code. Codes are
// upper-case alphanumerics so they survive being read aloud at the table.
func NewSessionCode() string {
	bytes := make([]byte, 6)
	_, _ = rand.Read(bytes)
	var b strings.Builder
	for _, c := range bytes {
		b.WriteByte(sessionCodeAlphabet[int(c)%len(sessionCodeAlphabet)])
	}
	return b.String()
}

// NormalizeSessionCode upper-cases and trims a user-supplied session code.
func NormalizeSessionCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
