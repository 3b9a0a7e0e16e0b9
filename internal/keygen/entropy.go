package keygen

import (
	"crypto/rand"
	"io"

	"github.com/sheikh-saqib/keygated-ledger/internal/apperr"
	interfaces "github.com/sheikh-saqib/keygated-ledger/internal/interfaces"
)

// CryptoSource reads bits from a cryptographically secure reader.
type CryptoSource struct {
	r io.Reader
}

// NewCryptoSource returns a source backed by r, or crypto/rand when r is nil.
func NewCryptoSource(r io.Reader) *CryptoSource {
	if r == nil {
		r = rand.Reader
	}
	return &CryptoSource{r: r}
}

// RandomBits returns n values, each 0 or 1.
func (s *CryptoSource) RandomBits(n int) ([]byte, error) {
	if n <= 0 {
		return nil, apperr.ErrInvalidKeyLength
	}

	packed := make([]byte, (n+7)/8)
	if _, err := io.ReadFull(s.r, packed); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, apperr.CodeEntropyUnavailable,
			apperr.ErrEntropyUnavailable.Message, err)
	}

	bits := make([]byte, n)
	for i := range bits {
		bits[i] = (packed[i/8] >> (7 - uint(i%8))) & 1
	}
	return bits, nil
}

var _ interfaces.EntropySource = (*CryptoSource)(nil)
