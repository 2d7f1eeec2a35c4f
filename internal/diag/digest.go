package diag

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// SourceDigest returns a short SHA-3 hex digest of a source file's
// bytes, printed by the CLI's `version` command (spec §1
// "SHA-3 hashing of source", out of scope for the core but still part
// of the driver this repo supplies in cmd/dwt).
func SourceDigest(src []byte) string {
	sum := sha3.Sum256(src)
	return hex.EncodeToString(sum[:8])
}
