// Package id provides unique identifier generation for containers and
// scratch files.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Generate creates a unique identifier with the given prefix.
// Format: <prefix>-<12 hex chars> (e.g., "bun-runner-3f9a1c0b7d2e",
// "code-a1b2c3d4e5f6"). The hyphenated form is safe for container names
// and filenames alike.
func Generate(prefix string) string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is effectively fatal elsewhere; a timestamp
		// keeps names unique enough to proceed.
		return fmt.Sprintf("%s-%012d", prefix, time.Now().UnixNano()%1e12)
	}
	return prefix + "-" + hex.EncodeToString(b)
}
