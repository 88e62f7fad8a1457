package merkle

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boomstarternetwork/btcminer/internal/algorithm"
)

// block 123,456's coinbase and its 12 sibling transaction ids, ground
// truth for the expected root below.
const (
	coinbaseHex = "01000000010000000000000000000000000000000000000000000000000000000000000000ffffffff0704b3936a1a017cffffffff01403d522a01000000434104563053b8900762f3d3e8725012d617d177e3c4af3275c3265a1908b434e0df91ec75603d0d8955ef040e5f68d5c36989efe21a59f4ef94a5cc95c99794a84492ac00000000"
	wantRoot    = "0e60651a9934e8f0decd1c5fde39309e48fca0cd1c84a21ddfde95033762d86c"
)

var siblingTXIDs = []string{
	"e3d0425ab346dd5b76f44c222a4bb5d16640a4247050ef82462ab17e229c83b4",
	"137d247eca8b99dee58e1e9232014183a5c5a9e338001a0109df32794cdcc92e",
	"5fd167f7b8c417e59106ef5acfe181b09d71b8353a61a55a2f01aa266af5412d",
	"60925f1948b71f429d514ead7ae7391e0edf965bf5a60331398dae24c6964774",
	"d4d5fc1529487527e9873256934dfb1e4cdcb39f4c0509577ca19bfad6c5d28f",
	"7b29d65e5018c56a33652085dbb13f2df39a1a9942bfe1f7e78e97919a6bdea2",
	"0b89e120efd0a4674c127a76ff5f7590ca304e6a064fbc51adffbd7ce3a3deef",
	"603f2044da9656084174cfb5812feaf510f862d3addcf70cacce3dc55dab446e",
	"9a4ed892b43a4df916a7a1213b78e83cd83f5695f635d535c94b2b65ffb144d3",
	"dda726e3dad9504dce5098dfab5064ecd4a7650bfe854bb2606da3152b60e427",
	"e46ea8b4d68719b65ead930f07f1f3804cb3701014f8e6d76c4bdbc390893b94",
	"864a102aeedf53dd9b2baab4eeb898c5083fde6141113e0606b664c41fe15e1f",
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

func TestRootFromTXIDsBlock123456(t *testing.T) {
	coinbaseBin, err := hex.DecodeString(coinbaseHex)
	require.NoError(t, err)

	txids := [][]byte{algorithm.DoubleSHA256(coinbaseBin)}
	for _, s := range siblingTXIDs {
		b, err := hex.DecodeString(s)
		require.NoError(t, err)
		txids = append(txids, reverse(b))
	}

	root := RootFromTXIDs(txids, algorithm.DoubleSHA256)
	assert.Equal(t, wantRoot, hex.EncodeToString(reverse(root)))
}

func TestRootFromTXIDsSingle(t *testing.T) {
	txid := []byte{1, 2, 3, 4}
	assert.Equal(t, txid, RootFromTXIDs([][]byte{txid}, algorithm.DoubleSHA256))
}

func TestRootFromTXIDsEmpty(t *testing.T) {
	assert.Nil(t, RootFromTXIDs(nil, algorithm.DoubleSHA256))
}

func TestRootNoBranches(t *testing.T) {
	coinb1 := []byte("coinb1-")
	coinb2 := []byte("-coinb2")
	root := Root(coinb1, nil, nil, coinb2, nil, algorithm.DoubleSHA256)
	assert.Equal(t, algorithm.DoubleSHA256(append(append([]byte{}, coinb1...), coinb2...)), root)
}
