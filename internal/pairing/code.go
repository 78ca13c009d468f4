// Package pairing issues human-enterable pairing codes and verifies
// code+phone pairing requests against the registry.
package pairing

import (
	"crypto/rand"
	"math/big"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// CodeLength is the number of characters in a pairing code.
const CodeLength = 8

// GenerateCode draws a pairing code uniformly from the 36-symbol alphabet.
// Uniqueness is the registry's problem: it rejects colliding inserts and the
// caller draws again.
func GenerateCode() string {
	max := big.NewInt(int64(len(codeAlphabet)))
	b := make([]byte, CodeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failing means the platform RNG is gone;
			// nothing sensible to do but abort.
			panic(err)
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b)
}
