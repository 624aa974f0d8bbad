package ingest

import (
	"encoding/hex"

	"github.com/go-crypt/x/blake2b"
)

// ContentHash is the hex BLAKE2b-256 digest of raw source bytes.
func ContentHash(data []byte) string {
	h, _ := blake2b.New(32, nil) // only errors on invalid size or key
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
