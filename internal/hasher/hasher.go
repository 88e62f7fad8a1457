// Package hasher hides the software and hardware proof-of-work search
// implementations behind one interface, so the search engine in
// package job never knows which it is driving.
package hasher

import (
	"bytes"
	"crypto/sha256"
	"encoding"
	"fmt"

	"github.com/boomstarternetwork/btcminer/internal/header"
)

// Outcome is the result of one Search call.
type Outcome int

const (
	// Found means a qualifying nonce was located within the 32-bit range.
	Found Outcome = iota
	// Exhausted means the full 32-bit nonce range was searched with no hit.
	Exhausted
	// Stopped means the stop handle fired before a hit or exhaustion.
	Stopped
)

// Result reports how a Search call ended.
type Result struct {
	Outcome Outcome
	Nonce   uint32
	Count   uint64
	// Resumable is true when the same extranonce2 can be searched again
	// starting from Nonce+nonceStride after a Found result (the software hasher
	// supports this; the hardware hasher always advances extranonce2
	// instead, per its register contract).
	Resumable bool
}

// StopHandle reports whether the current job has been asked to stop.
// job.Job's stop flag implements this.
type StopHandle interface {
	StopRequested() bool
}

// Hasher searches the 32-bit nonce space of one header prefix for a hash
// meeting target, honoring cooperative stop requests.
type Hasher interface {
	Search(headerPrefix []byte, target []byte, nonceStart uint32, nonceStride uint32, stop StopHandle) Result
}

// reachesTarget reports whether hash, treated as a big-endian 256-bit
// integer, is <= target (both already left-zero-padded to full width, so
// lexicographic byte comparison is equivalent to numeric comparison).
func reachesTarget(hash, target []byte) bool {
	return bytes.Compare(hash, target) <= 0
}

// Software is the default hasher: a tight loop over the nonce space
// driving an injected hash function (sha256d by default, but any
// algorithm.Algorithm works).
type Software struct {
	HashFunc func([]byte) []byte
}

// Search implements Hasher.
func (s Software) Search(prefix, target []byte, nonceStart, nonceStride uint32, stop StopHandle) Result {
	if s.HashFunc == nil {
		panic("hasher: Software.HashFunc must be set")
	}

	var count uint64

	for nonce := nonceStart; ; nonce += nonceStride {
		if stop.StopRequested() {
			return Result{Outcome: Stopped, Count: count}
		}

		h := s.HashFunc(header.Build(prefix, nonce))
		reversed := reverse(h)
		count++

		if reachesTarget(reversed, target) {
			return Result{Outcome: Found, Nonce: nonce, Count: count, Resumable: true}
		}

		if nonce > 0xffffffff-nonceStride {
			return Result{Outcome: Exhausted, Count: count}
		}
	}
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// RegisterBank is the four-register-bank contract an FPGA proof-of-work
// accelerator exposes as memory-mapped 32-bit words. Implementations of
// this interface are the external, hardware-specific collaborator; this
// package only depends on the contract.
type RegisterBank interface {
	// SetMidState loads the SHA-256 state after hashing the header's
	// first 64-byte chunk.
	SetMidState(state [8]uint32)
	// SetResidualData loads the 12 bytes of header preceding the nonce.
	SetResidualData(data [3]uint32)
	// SetTarget loads the 256-bit target.
	SetTarget(target [8]uint32)
	// Start begins a search run.
	Start()
	// Status reads the current run status: 0=busy, 1=found, 2=exhausted.
	Status() uint32
	// Nonce reads the winning nonce once Status()==1.
	Nonce() uint32
	// Abort requests the current run stop.
	Abort()
	// Count reads attempts performed so far in this run.
	Count() uint64
	// Reset quiesces the hasher after an abort.
	Reset()
}

const (
	statusBusy      = 0
	statusFound     = 1
	statusExhausted = 2
)

// Hardware drives an FPGA accelerator through the RegisterBank contract.
// It always charges a full 2^32 attempts on exhaustion and never resumes
// mid-extranonce2 after a find, per the register contract's shape. The
// register bank's MID_STATE is always a SHA-256 compression state (that's
// what every sha256d FPGA board in the wild resumes from), independent of
// whatever Algorithm the rest of the session is configured with.
type Hardware struct {
	Bank RegisterBank
}

// Search implements Hasher.
func (h Hardware) Search(prefix, target []byte, nonceStart, nonceStride uint32, stop StopHandle) Result {
	midState := computeMidState(prefix)
	residual := residualWords(prefix)
	targetWords, err := wordsFromBigEndian(target)
	if err != nil {
		panic(fmt.Sprintf("hasher: malformed target: %v", err))
	}

	h.Bank.SetMidState(midState)
	h.Bank.SetResidualData(residual)
	h.Bank.SetTarget(targetWords)
	h.Bank.Start()

	for {
		if stop.StopRequested() {
			h.Bank.Abort()
			count := h.Bank.Count()
			h.Bank.Reset()
			return Result{Outcome: Stopped, Count: count}
		}

		switch h.Bank.Status() {
		case statusFound:
			return Result{Outcome: Found, Nonce: h.Bank.Nonce(), Count: h.Bank.Count() + 1, Resumable: false}
		case statusExhausted:
			return Result{Outcome: Exhausted, Count: 1 << 32}
		case statusBusy:
			continue
		}
	}
}

// computeMidState runs SHA-256's compression step over the header's first
// 64-byte chunk and returns the resulting internal state words — the
// MID_STATE a sha256d FPGA loads and resumes hashing the second (nonce-
// bearing) chunk from. crypto/sha256's digest implements
// encoding.BinaryMarshaler; after writing exactly one full block its
// marshaled form is a 4-byte magic prefix followed by the eight h[i]
// state words, so there's no need to reimplement the compression
// function by hand.
func computeMidState(prefix []byte) [8]uint32 {
	h := sha256.New()
	h.Write(prefix[:64])

	marshaler, ok := h.(encoding.BinaryMarshaler)
	if !ok {
		panic("hasher: crypto/sha256 digest does not implement encoding.BinaryMarshaler")
	}
	state, err := marshaler.MarshalBinary()
	if err != nil {
		panic(fmt.Sprintf("hasher: marshal sha256 state: %v", err))
	}

	var out [8]uint32
	for i := 0; i < 8; i++ {
		out[i] = be32(state[4+i*4 : 4+i*4+4])
	}
	return out
}

func residualWords(prefix []byte) [3]uint32 {
	var out [3]uint32
	residual := prefix[64:]
	for i := 0; i < 3; i++ {
		out[i] = be32(residual[i*4 : i*4+4])
	}
	return out
}

func wordsFromBigEndian(target []byte) ([8]uint32, error) {
	var out [8]uint32
	if len(target) != 32 {
		return out, fmt.Errorf("target must be 32 bytes, got %d", len(target))
	}
	for i := 0; i < 8; i++ {
		out[i] = be32(target[i*4 : i*4+4])
	}
	return out, nil
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
