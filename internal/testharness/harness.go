// Package testharness replays canonical Stratum wire data through the
// lower-level packages (merkle, header, hasher, job, subscription)
// offline, without a live pool connection. It backs the CLI's -t flag
// and is exercised directly by this module's own tests.
package testharness

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/boomstarternetwork/btcminer/internal/algorithm"
	"github.com/boomstarternetwork/btcminer/internal/hasher"
	"github.com/boomstarternetwork/btcminer/internal/merkle"
	"github.com/boomstarternetwork/btcminer/internal/subscription"
)

// block 123,456's coinbase and the 12 sibling transaction ids it is
// known to produce a specific Merkle root against.
const (
	block123456Coinbase = "01000000010000000000000000000000000000000000000000000000000000000000000000ffffffff0704b3936a1a017cffffffff01403d522a01000000434104563053b8900762f3d3e8725012d617d177e3c4af3275c3265a1908b434e0df91ec75603d0d8955ef040e5f68d5c36989efe21a59f4ef94a5cc95c99794a84492ac00000000"
	block123456Root      = "0e60651a9934e8f0decd1c5fde39309e48fca0cd1c84a21ddfde95033762d86c"
)

var block123456TXIDs = []string{
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

// golden nonce scenario: a notify job whose nonce space has a known hit
// 5 nonces after a known starting point, taken from this module's
// original offline test fixture.
const (
	goldenPrevHash  = "3ac400955224c625ad00510bf9b92cf824fd72dabc96a44700000b6000000000"
	goldenCoinb1    = "01000000010000000000000000000000000000000000000000000000000000000000000000ffffffff0704b3936a1a017cffffffff01403d522a01000000434104563053b8900762f3d3e8725012d617d177e3c4af3275c3265a1908b434e0df91ec75603d0d8955ef040e5f68d5c36989efe21a59f4ef94a5cc95c99794a84492ac"
	goldenCoinb2    = ""
	goldenVersion   = "00000001"
	goldenNBits     = "1a6a93b3"
	goldenNTime     = "4dcbc8a6"
	goldenJobID     = "1d987a1338"
	goldenDiff      = 32768
	goldenNonceWant = 2436437219
	goldenStart     = goldenNonceWant - 5
)

var goldenBranches = []string{
	"b4839c227eb12a4682ef507024a44066d1b54b2a224cf4765bdd46b35a42d0e3",
	"ff55ad590268952712d3586af4f4619eb5f280ed671e2a7dca766076994e19ff",
	"d8adfb1856bc923a6da4e83914013405334915d4ece1eb36d09cef8119850ea4",
	"ce28b22ba91639d5ae35d0f7a17e02b422fa251c372cb600daf62b7f3df0bdbd",
}

// Run executes every offline scenario and returns the first failure.
func Run() error {
	if err := checkMerkleRoot123456(); err != nil {
		return fmt.Errorf("merkle root scenario: %w", err)
	}
	if err := checkGoldenNonce(); err != nil {
		return fmt.Errorf("golden nonce scenario: %w", err)
	}
	if err := checkSubscriptionReplay(); err != nil {
		return fmt.Errorf("subscription replay scenario: %w", err)
	}
	if err := checkDifficultyOne(); err != nil {
		return fmt.Errorf("difficulty 1 scenario: %w", err)
	}
	if err := checkDifficultyZero(); err != nil {
		return fmt.Errorf("difficulty 0 scenario: %w", err)
	}
	if err := checkStopDuringMine(); err != nil {
		return fmt.Errorf("stop-during-mine scenario: %w", err)
	}
	return nil
}

func checkMerkleRoot123456() error {
	coinbaseBin, err := hex.DecodeString(block123456Coinbase)
	if err != nil {
		return err
	}

	coinbaseHash := algorithm.DoubleSHA256(coinbaseBin)

	// The coinbase hash enters the tree in raw sha256d byte order; the
	// sibling txids below are given in conventional (reversed) display
	// order and must be flipped to internal order to match it.
	txids := [][]byte{coinbaseHash}
	for _, txidHex := range block123456TXIDs {
		b, err := hex.DecodeString(txidHex)
		if err != nil {
			return err
		}
		txids = append(txids, reverseBytes(b))
	}

	root := merkle.RootFromTXIDs(txids, algorithm.DoubleSHA256)
	gotHex := hex.EncodeToString(reverseBytes(root))

	if gotHex != block123456Root {
		return fmt.Errorf("got root %s, want %s", gotHex, block123456Root)
	}
	return nil
}

func checkGoldenNonce() error {
	sub := subscription.New()
	if err := sub.SetSubscription("1", "", 4); err != nil {
		return err
	}
	if err := sub.SetDifficulty(goldenDiff); err != nil {
		return err
	}

	jf := subscription.JobFields{
		JobID:          goldenJobID,
		PrevHash:       goldenPrevHash,
		Coinb1:         goldenCoinb1,
		Coinb2:         goldenCoinb2,
		MerkleBranches: goldenBranches,
		Version:        goldenVersion,
		NBits:          goldenNBits,
		NTime:          goldenNTime,
	}

	h := hasher.Software{HashFunc: algorithm.DoubleSHA256}
	j, err := sub.CreateJob(jf, algorithm.DoubleSHA256, h)
	if err != nil {
		return err
	}

	shares := j.Mine(goldenStart, 1)
	share, ok := <-shares
	j.Stop()
	if !ok {
		return fmt.Errorf("mine produced no share within the scanned range")
	}

	wantNonceHex := fmt.Sprintf("%08x", reverseUint32Bytes(goldenNonceWant))
	if share.Nonce != wantNonceHex {
		return fmt.Errorf("got nonce %s, want %s", share.Nonce, wantNonceHex)
	}
	if share.ExtraNonce2 != "00000000" {
		return fmt.Errorf("got extranonce2 %s, want 00000000", share.ExtraNonce2)
	}
	if share.JobID != goldenJobID {
		return fmt.Errorf("got job id %s, want %s", share.JobID, goldenJobID)
	}
	return nil
}

// reverseUint32Bytes packs n little-endian then reverses it, matching
// how job.Mine derives the wire nonce from a found candidate.
func reverseUint32Bytes(n uint32) uint32 {
	b := []byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}
	r := []byte{b[3], b[2], b[1], b[0]}
	return uint32(r[0])<<24 | uint32(r[1])<<16 | uint32(r[2])<<8 | uint32(r[3])
}

func checkSubscriptionReplay() error {
	sub := subscription.New()
	// Mirrors {"id":1,"result":[[["mining.set_difficulty","1"],
	// ["mining.notify","1"]],"",8],"error":null}
	subscriptionID := "1"
	extraNonce1 := ""
	extraNonce2Size := 8

	if err := sub.SetSubscription(subscriptionID, extraNonce1, extraNonce2Size); err != nil {
		return err
	}
	if sub.ExtraNonce1() != "" {
		return fmt.Errorf("got extranonce1 %q, want empty", sub.ExtraNonce1())
	}
	if sub.ExtraNonce2Size() != 8 {
		return fmt.Errorf("got extranonce2_size %d, want 8", sub.ExtraNonce2Size())
	}
	if sub.ID() != "1" {
		return fmt.Errorf("got subscription id %q, want 1", sub.ID())
	}
	return nil
}

func checkDifficultyOne() error {
	sub := subscription.New()
	if err := sub.SetDifficulty(1); err != nil {
		return err
	}
	if !strings.HasPrefix(sub.Target(), "00000000ffff0000") {
		return fmt.Errorf("got target %s, want prefix 00000000ffff0000", sub.Target())
	}
	return nil
}

func checkDifficultyZero() error {
	sub := subscription.New()
	if err := sub.SetDifficulty(0); err != nil {
		return err
	}
	want := strings.Repeat("f", 64)
	if sub.Target() != want {
		return fmt.Errorf("got target %s, want %s", sub.Target(), want)
	}
	return nil
}

func checkStopDuringMine() error {
	sub := subscription.New()
	if err := sub.SetSubscription("1", "", 4); err != nil {
		return err
	}
	// difficulty far beyond what 100ms of software hashing can reach,
	// so the search is still running when Stop fires.
	if err := sub.SetDifficulty(1 << 40); err != nil {
		return err
	}

	jf := subscription.JobFields{
		JobID:          goldenJobID,
		PrevHash:       goldenPrevHash,
		Coinb1:         goldenCoinb1,
		Coinb2:         goldenCoinb2,
		MerkleBranches: goldenBranches,
		Version:        goldenVersion,
		NBits:          goldenNBits,
		NTime:          goldenNTime,
	}

	h := hasher.Software{HashFunc: algorithm.DoubleSHA256}
	j, err := sub.CreateJob(jf, algorithm.DoubleSHA256, h)
	if err != nil {
		return err
	}

	shares := j.Mine(0, 1)

	go func() {
		time.Sleep(100 * time.Millisecond)
		j.Stop()
	}()

	select {
	case _, ok := <-shares:
		if ok {
			return fmt.Errorf("mine unexpectedly found a share before stopping")
		}
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mine did not terminate within 5s of Stop()")
	}

	hashes, elapsed := j.Telemetry()
	if hashes == 0 {
		return fmt.Errorf("telemetry reported zero hashes")
	}
	if elapsed <= 0 {
		return fmt.Errorf("telemetry reported non-positive elapsed time")
	}
	return nil
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
