package interfaces

// EntropySource produces unpredictable bits. RandomBits returns n bytes, each
// holding a single bit value of 0 or 1.
type EntropySource interface {
	RandomBits(n int) ([]byte, error)
}
