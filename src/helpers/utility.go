// Package helpers collects small formatting/generation utilities shared
// across the engine packages, kept separate from any one component so
// they don't pull codec/config/etc. into each other.
package helpers

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateUUID produces a correlation id for one open/create instance of
// a file (btreefile, bitmap.Overlay): logged alongside every subsequent
// message from that instance so multiple opens of the same path can be
// told apart in a shared log stream.
func GenerateUUID() string {
	return uuid.New().String()
}

// StripQuotes removes a single matching pair of leading/trailing quotes
// from a hint token value, e.g. fileid's hint parser applies this to
// normalizingMethod='nfc' so the stored method id is nfc, not 'nfc'.
func StripQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// TimeNow returns the current time as an RFC3339 string, used by log
// sinks that want a human-readable timestamp alongside time.Time fields.
func TimeNow() string {
	return time.Now().Format(time.RFC3339)
}
