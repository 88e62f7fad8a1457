package algorithm

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Algorithm
	}{
		{"sha256d", SHA256d},
		{"scrypt", Scrypt},
		{"x11", X11},
	} {
		got, err := Parse(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	_, err := Parse("unknown")
	assert.Error(t, err)
}

func TestDoubleSHA256(t *testing.T) {
	h := DoubleSHA256([]byte{})
	assert.Equal(t, "5df6e0e2761359d30a8275058e299fcc0381534545f55cf43e41983f5d4c9456", hex.EncodeToString(h))
}

func TestDoubleSHA256Deterministic(t *testing.T) {
	data := []byte("deterministic input")
	assert.Equal(t, DoubleSHA256(data), DoubleSHA256(data))
}

func TestHashFuncSelection(t *testing.T) {
	assert.NotPanics(t, func() {
		SHA256d.HashFunc()([]byte("x"))
	})
}
