package vclock

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// DeriveClientID derives the stable per-user client identifier from the
// lowercased username: the first 16 bytes of its SHA-256 digest reshaped
// into a 36-character UUID-form string. Every device of the same user yields
// the same identifier, so version vectors track users, not devices. The
// derivation is part of the wire format and must not change.
func DeriveClientID(username string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(username)))
	hexed := hex.EncodeToString(sum[:16])
	return fmt.Sprintf("%s-%s-%s-%s-%s", hexed[0:8], hexed[8:12], hexed[12:16], hexed[16:20], hexed[20:32])
}
