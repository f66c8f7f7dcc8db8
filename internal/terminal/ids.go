package terminal

import (
	"strings"

	"github.com/google/uuid"
)

func randomHex(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

// newTerminalID returns an 8 hex character terminal id.
func newTerminalID() string {
	return randomHex(8)
}

func newSessionName(prefix string) string {
	return prefix + randomHex(8)
}

// newWindowName returns "<profile>-<4 hex>".
func newWindowName(profile string) string {
	if profile == "" {
		profile = "agent"
	}
	return profile + "-" + randomHex(4)
}
