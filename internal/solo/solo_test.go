package solo

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boomstarternetwork/btcminer/internal/header"
)

func TestEncodeCoinbaseHeight(t *testing.T) {
	for _, tc := range []struct {
		height uint32
		want   string
	}{
		{0, "0100"},
		{1, "0101"},
		{127, "017f"},
		{128, "028000"},
	} {
		assert.Equal(t, tc.want, hex.EncodeToString(encodeCoinbaseHeight(tc.height)))
	}
}

func TestUintToVarIntHex(t *testing.T) {
	assert.Equal(t, "05", uintToVarIntHex(5))
	assert.Equal(t, "fd0001", uintToVarIntHex(256))
	assert.Equal(t, "fe00000100", uintToVarIntHex(65536))
}

func TestDecodeTargetBits(t *testing.T) {
	target, err := decodeTargetBits("1d00ffff")
	require.NoError(t, err)
	assert.Len(t, target, 32)
	assert.Equal(t, byte(0x00), target[0])
	assert.Equal(t, byte(0xff), target[4])
}

func TestMakeCoinbaseTxWellFormed(t *testing.T) {
	tx := makeCoinbaseTx(0, "2N8uc47SFPvDanB66jaVaCUWA44353AEjr8", 5000000000, 123456)
	b, err := hex.DecodeString(tx)
	require.NoError(t, err)
	assert.Greater(t, len(b), 40)
	// version prefix
	assert.Equal(t, []byte{0x01, 0x00, 0x00, 0x00}, b[0:4])
}

func TestReachesTarget(t *testing.T) {
	assert.True(t, reachesTarget([]byte{0, 1}, []byte{0, 1}))
	assert.False(t, reachesTarget([]byte{0, 2}, []byte{0, 1}))
}

// TestPrevHashEndsUpInInternalByteOrder guards against a regression where
// the decoded previousblockhash (conventional display order) and
// header.Prefix's own ReverseWords4 cancel back out to raw display order
// instead of true internal order. It reproduces exactly the composition
// MineOnce performs and checks the bytes header.Prefix actually embeds.
func TestPrevHashEndsUpInInternalByteOrder(t *testing.T) {
	displayOrder := "4c7017982323ca89332c6f126aa2de237f5bb3a96550e1640b6fdaf7a6c7be6b"

	prevHash, err := resolvePrevHash(displayOrder)
	require.NoError(t, err)

	version := make([]byte, 4)
	merkleRoot := make([]byte, 32)
	ntime := make([]byte, 4)
	nbits := make([]byte, 4)

	prefix := header.Prefix(version, header.ReverseWords4(prevHash), merkleRoot, ntime, nbits)

	wantInternal, err := hex.DecodeString(displayOrder)
	require.NoError(t, err)
	wantInternal = reverseBytes(wantInternal)

	// prevhash occupies bytes [4:36) of the prefix, right after the
	// 4-byte version field.
	assert.Equal(t, wantInternal, prefix[4:36])
}
