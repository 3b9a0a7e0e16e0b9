package keygen

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/sheikh-saqib/keygated-ledger/internal/apperr"
	interfaces "github.com/sheikh-saqib/keygated-ledger/internal/interfaces"
)

// fingerprintBytes is how much of the digest a fingerprint keeps (20 hex chars).
const fingerprintBytes = 10

// Generator turns entropy into key material.
type Generator struct {
	source interfaces.EntropySource
}

// NewGenerator returns a Generator reading from source.
func NewGenerator(source interfaces.EntropySource) *Generator {
	return &Generator{source: source}
}

// Generate returns a key of exactly length characters over the alphabet {0,1}.
func (g *Generator) Generate(length int) (string, error) {
	if length <= 0 {
		return "", apperr.ErrInvalidKeyLength
	}

	bits, err := g.source.RandomBits(length)
	if err != nil {
		return "", err
	}
	if len(bits) != length {
		return "", apperr.Wrap(apperr.KindUnavailable, apperr.CodeEntropyUnavailable,
			apperr.ErrEntropyUnavailable.Message, fmt.Errorf("short read: got %d of %d bits", len(bits), length))
	}

	var b strings.Builder
	b.Grow(length)
	for _, bit := range bits {
		switch bit {
		case 0:
			b.WriteByte('0')
		case 1:
			b.WriteByte('1')
		default:
			return "", apperr.Wrap(apperr.KindUnavailable, apperr.CodeEntropyUnavailable,
				apperr.ErrEntropyUnavailable.Message, fmt.Errorf("source produced non-bit value %d", bit))
		}
	}
	return b.String(), nil
}

// Digest returns the hex BLAKE2b-256 digest of key material.
func Digest(material string) string {
	sum := blake2b.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns a short identifier derived from the digest. It is safe
// to store alongside transfers and to log.
func Fingerprint(material string) string {
	sum := blake2b.Sum256([]byte(material))
	return hex.EncodeToString(sum[:fingerprintBytes])
}

// Matches compares submitted material against a stored digest in constant time.
func Matches(digest, submitted string) bool {
	return subtle.ConstantTimeCompare([]byte(digest), []byte(Digest(submitted))) == 1
}
