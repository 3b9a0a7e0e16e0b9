// Package keygen produces single-use key material.
//
// Keys are bit strings drawn one bit at a time from an EntropySource, the same
// shape as a key obtained by measuring qubits in superposition. The default
// source is crypto/rand; anything weaker makes keys guessable and breaks
// transfer authorisation.
package keygen
