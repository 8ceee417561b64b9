package models

import (
	"crypto/rand"
	"math/big"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
const idLength = 8

// NewID returns an opaque 8-char base36 token, collision-resistant
// within a single session. Collisions within a session are a bug per
// spec; callers needing a guaranteed-unique id across a larger scope
// should use google/uuid instead (see internal/sessiongate).
func NewID() string {
	b := make([]byte, idLength)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failure is not recoverable in a way that
			// preserves the collision-resistance guarantee; panic
			// rather than silently degrade to a weaker generator.
			panic("models: crypto/rand unavailable: " + err.Error())
		}
		b[i] = idAlphabet[n.Int64()]
	}
	return string(b)
}
