package header

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReverse4Involution(t *testing.T) {
	w := []byte{0x01, 0x02, 0x03, 0x04}
	assert.Equal(t, w, Reverse4(Reverse4(w)))
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, Reverse4(w))
}

func TestReverseWords4Involution(t *testing.T) {
	s := make([]byte, 32)
	for i := range s {
		s[i] = byte(i)
	}
	assert.Equal(t, s, ReverseWords4(ReverseWords4(s)))
}

func TestReverseWords4PreservesWordOrder(t *testing.T) {
	s := []byte{
		0x00, 0x01, 0x02, 0x03,
		0x10, 0x11, 0x12, 0x13,
	}
	got := ReverseWords4(s)
	assert.Equal(t, []byte{0x03, 0x02, 0x01, 0x00}, got[0:4])
	assert.Equal(t, []byte{0x13, 0x12, 0x11, 0x10}, got[4:8])
}

func TestNonceLittleEndian(t *testing.T) {
	b := Nonce(0x01020304)
	assert.Equal(t, uint32(0x01020304), binary.LittleEndian.Uint32(b))
}

func TestBuild(t *testing.T) {
	prefix := make([]byte, PrefixLen)
	full := Build(prefix, 7)
	require.Len(t, full, Len)
	assert.Equal(t, Nonce(7), full[PrefixLen:])
}

func TestPrefixRejectsBadSizes(t *testing.T) {
	assert.Panics(t, func() {
		Prefix(make([]byte, 3), make([]byte, 32), make([]byte, 32), make([]byte, 4), make([]byte, 4))
	})
}
