// Package algorithm selects the proof-of-work hash function a Job or
// the solo-mining path hashes block headers with.
package algorithm

import (
	"crypto/sha256"
	"errors"

	x11 "gitlab.com/samli88/go-x11-hash"
	"golang.org/x/crypto/scrypt"
)

// Algorithm names a supported proof-of-work hash function.
type Algorithm string

const (
	SHA256d Algorithm = "sha256d"
	Scrypt  Algorithm = "scrypt"
	X11     Algorithm = "x11"
)

func (a Algorithm) String() string {
	return string(a)
}

// HashFunc returns the hash function the algorithm names.
func (a Algorithm) HashFunc() func([]byte) []byte {
	switch a {
	case SHA256d:
		return DoubleSHA256
	case Scrypt:
		return ScryptHash
	case X11:
		return X11Hash
	}
	panic("algorithm hash function not defined in switch above")
}

// Parse parses the -a flag value into an Algorithm.
func Parse(s string) (Algorithm, error) {
	switch s {
	case SHA256d.String():
		return SHA256d, nil
	case Scrypt.String():
		return Scrypt, nil
	case X11.String():
		return X11, nil
	}
	return Algorithm(""), errors.New("unknown algorithm: " + s)
}

// DoubleSHA256 is SHA-256(SHA-256(data)) — the Bitcoin proof-of-work primitive.
func DoubleSHA256(data []byte) []byte {
	h1 := sha256.Sum256(data)
	h2 := sha256.Sum256(h1[:])
	return h2[:]
}

// ScryptHash is the Litecoin-parameterized scrypt hash: N=1024, r=1, p=1,
// salt equal to the 80-byte input, 256-bit output.
func ScryptHash(data []byte) []byte {
	out, err := scrypt.Key(data, data, 1024, 1, 1, 32)
	if err != nil {
		panic(err)
	}
	return out
}

// X11Hash chains the eleven hash functions of the X11 algorithm.
func X11Hash(data []byte) []byte {
	out := make([]byte, 32)
	x11.New().Hash(data, out)
	return out
}
