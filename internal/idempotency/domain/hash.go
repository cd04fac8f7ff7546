package domain

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/smallbiznis/creditmeter/pkg/jsonvalue"
)

// RequestHash is the hex SHA-256 of body's canonical encoding. Bodies that
// differ only in key order or whitespace hash the same.
func RequestHash(body jsonvalue.Value) string {
	sum := sha256.Sum256(body.Canonical())
	return hex.EncodeToString(sum[:])
}
