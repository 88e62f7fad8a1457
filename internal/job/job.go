// Package job implements the restartable proof-of-work search engine: it
// assembles block headers from Stratum job fields, drives a hasher,
// honors cooperative stop requests, and emits shares that meet a moving
// target.
package job

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boomstarternetwork/btcminer/internal/hasher"
	"github.com/boomstarternetwork/btcminer/internal/header"
	"github.com/boomstarternetwork/btcminer/internal/merkle"
)

// extranonce2Ceiling bounds the extranonce2 search space at 2^31, per the
// Stratum convention of treating it as a signed 32-bit counter.
const extranonce2Ceiling = 1 << 31

// Share is a mining result ready to submit as mining.submit params.
type Share struct {
	JobID       string
	ExtraNonce2 string
	Ntime       string
	Nonce       string
}

// Fields are the decoded mining.notify job fields plus the subscription
// state snapshotted at job creation.
type Fields struct {
	ID             string
	PrevHash       []byte // 32 bytes, wire (little-endian-word) order
	Coinb1         []byte
	Coinb2         []byte
	MerkleBranches [][]byte
	Version        []byte // 4 bytes, big-endian word
	NBits          []byte // 4 bytes, big-endian word
	NTime          []byte // 4 bytes, big-endian word
	Target         []byte // 32 bytes, big-endian
	ExtraNonce1    []byte
	ExtraNonce2Len int
	HashFunc       func([]byte) []byte
	Hasher         hasher.Hasher
}

// Job is an immutable-once-created unit of mining work, together with
// mutable per-job telemetry and a one-way stop flag.
type Job struct {
	f Fields

	stopped atomic.Bool

	mu       sync.Mutex
	hashes   uint64
	elapsed  time.Duration
}

var (
	// ErrMissingHasher is returned by New when no hasher is supplied.
	ErrMissingHasher = errors.New("job: hasher must not be nil")
	// ErrBadExtraNonce2Len is returned by New when the extranonce2 width
	// is too small to hold the search counter.
	ErrBadExtraNonce2Len = errors.New("job: extranonce2_size must be >= 4")
)

// New validates and wraps Fields into a Job ready to mine.
func New(f Fields) (*Job, error) {
	if f.Hasher == nil {
		return nil, ErrMissingHasher
	}
	if f.ExtraNonce2Len < 4 {
		return nil, ErrBadExtraNonce2Len
	}
	if f.HashFunc == nil {
		return nil, errors.New("job: HashFunc must not be nil")
	}
	return &Job{f: f}, nil
}

// ID returns the server-assigned job id.
func (j *Job) ID() string { return j.f.ID }

// StopRequested implements hasher.StopHandle.
func (j *Job) StopRequested() bool {
	return j.stopped.Load()
}

// Stop requests the mining goroutine terminate after its current hash
// cycle. Idempotent: calling it any number of times has the same
// observable effect as calling it once.
func (j *Job) Stop() {
	j.stopped.Store(true)
}

// Telemetry reports accumulated hash count and elapsed search time.
func (j *Job) Telemetry() (hashes uint64, elapsed time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.hashes, j.elapsed
}

// Hashrate is hashes/second accumulated so far, or 0 if no time has
// elapsed yet.
func (j *Job) Hashrate() float64 {
	hashes, elapsed := j.Telemetry()
	if elapsed <= 0 {
		return 0
	}
	return float64(hashes) / elapsed.Seconds()
}

func (j *Job) addTelemetry(hashes uint64, elapsed time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.hashes += hashes
	j.elapsed += elapsed
}

// merkleRoot computes the Merkle root for a given extranonce2.
func (j *Job) merkleRoot(extranonce2 []byte) []byte {
	return merkle.Root(j.f.Coinb1, j.f.ExtraNonce1, extranonce2, j.f.Coinb2, j.f.MerkleBranches, j.f.HashFunc)
}

// headerPrefix computes the 76-byte header prefix for a given extranonce2.
func (j *Job) headerPrefix(extranonce2 []byte) []byte {
	root := j.merkleRoot(extranonce2)
	return header.Prefix(j.f.Version, j.f.PrevHash, root, j.f.NTime, j.f.NBits)
}

func packExtraNonce2(v uint32, size int) []byte {
	b := make([]byte, size)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// Mine returns a channel of shares found while iterating the extranonce2
// x nonce space starting at nonceStart with the given nonceStride (useful
// for splitting the nonce space across N concurrent searches: nonceStart
// = 0..N-1, nonceStride = N). The channel is closed when the search
// terminates, either by exhausting the extranonce2 space or by Stop().
func (j *Job) Mine(nonceStart, nonceStride uint32) <-chan Share {
	shares := make(chan Share)

	go func() {
		defer close(shares)

		curStart := nonceStart

		for extranonce2 := uint32(0); extranonce2 < extranonce2Ceiling; {
			if j.StopRequested() {
				return
			}

			extranonce2Bytes := packExtraNonce2(extranonce2, j.f.ExtraNonce2Len)
			prefix := j.headerPrefix(extranonce2Bytes)

			t0 := time.Now()
			res := j.f.Hasher.Search(prefix, j.f.Target, curStart, nonceStride, j)
			j.addTelemetry(res.Count, time.Since(t0))

			switch res.Outcome {
			case hasher.Found:
				shares <- Share{
					JobID:       j.f.ID,
					ExtraNonce2: hex.EncodeToString(extranonce2Bytes),
					Ntime:       hex.EncodeToString(j.f.NTime),
					Nonce:       hex.EncodeToString(reverseBytes(header.Nonce(res.Nonce))),
				}

				if res.Resumable && res.Nonce <= 0xffffffff-nonceStride {
					curStart = res.Nonce + nonceStride
					continue
				}

				curStart = nonceStart
				extranonce2++

			case hasher.Exhausted:
				curStart = nonceStart
				extranonce2++

			case hasher.Stopped:
				return
			}
		}
	}()

	return shares
}
