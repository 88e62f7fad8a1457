package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boomstarternetwork/btcminer/internal/algorithm"
	"github.com/boomstarternetwork/btcminer/internal/hasher"
)

func testFields(t *testing.T) Fields {
	t.Helper()
	return Fields{
		ID:             "job-1",
		PrevHash:       make([]byte, 32),
		Coinb1:         []byte("coinb1"),
		Coinb2:         []byte("coinb2"),
		MerkleBranches: nil,
		Version:        make([]byte, 4),
		NBits:          make([]byte, 4),
		NTime:          make([]byte, 4),
		Target:         make([]byte, 32),
		ExtraNonce1:    []byte{0x01, 0x02},
		ExtraNonce2Len: 4,
		HashFunc:       algorithm.DoubleSHA256,
		Hasher:         hasher.Software{HashFunc: algorithm.DoubleSHA256},
	}
}

func TestNewRejectsMissingHasher(t *testing.T) {
	f := testFields(t)
	f.Hasher = nil
	_, err := New(f)
	assert.ErrorIs(t, err, ErrMissingHasher)
}

func TestNewRejectsShortExtraNonce2(t *testing.T) {
	f := testFields(t)
	f.ExtraNonce2Len = 2
	_, err := New(f)
	assert.ErrorIs(t, err, ErrBadExtraNonce2Len)
}

func TestStopIdempotent(t *testing.T) {
	f := testFields(t)
	j, err := New(f)
	require.NoError(t, err)

	j.Stop()
	j.Stop()
	assert.True(t, j.StopRequested())
}

func TestMineStopsPromptly(t *testing.T) {
	f := testFields(t)
	// an all-zero target is unreachable, forcing the search to run
	// until stopped rather than finding a share immediately.
	f.Target = make([]byte, 32)

	j, err := New(f)
	require.NoError(t, err)

	shares := j.Mine(0, 1)

	go func() {
		time.Sleep(50 * time.Millisecond)
		j.Stop()
	}()

	select {
	case _, ok := <-shares:
		assert.False(t, ok, "channel should close without a share")
	case <-time.After(5 * time.Second):
		t.Fatal("Mine did not stop within 5s")
	}

	hashes, elapsed := j.Telemetry()
	assert.Greater(t, hashes, uint64(0))
	assert.Greater(t, elapsed, time.Duration(0))
}

func TestMineFindsShareQuickly(t *testing.T) {
	f := testFields(t)
	f.Target[0] = 0xff // the maximum target once filled below; the first nonce tried reaches it
	for i := range f.Target {
		f.Target[i] = 0xff
	}

	j, err := New(f)
	require.NoError(t, err)

	select {
	case share, ok := <-j.Mine(0, 1):
		require.True(t, ok)
		assert.Equal(t, "job-1", share.JobID)
		assert.Len(t, share.Nonce, 8)
		assert.Len(t, share.ExtraNonce2, 8)
	case <-time.After(5 * time.Second):
		t.Fatal("Mine did not find a share against a maximal target")
	}
}
