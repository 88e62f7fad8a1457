// Package subscription holds Stratum subscription state: the
// server-assigned extranonce1/extranonce2 size, worker identity, and the
// target derived from the pool's current difficulty. It is the
// authoritative factory for Job values — a Job snapshots subscription
// state at creation and is never retroactively mutated by a later
// set_difficulty call.
package subscription

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/boomstarternetwork/btcminer/internal/hasher"
	"github.com/boomstarternetwork/btcminer/internal/job"
)

var (
	// ErrAlreadySubscribed is returned by SetSubscription when called a
	// second time.
	ErrAlreadySubscribed = errors.New("subscription: already subscribed")
	// ErrAlreadyAuthorized is returned by SetWorkerName when called a
	// second time.
	ErrAlreadyAuthorized = errors.New("subscription: worker name already set")
	// ErrNegativeDifficulty is returned by SetDifficulty for d < 0.
	ErrNegativeDifficulty = errors.New("subscription: difficulty must be non-negative")
	// ErrNotSubscribed is returned by CreateJob before SetSubscription.
	ErrNotSubscribed = errors.New("subscription: not subscribed")
)

// maxTarget is 2^256 - 1, the ceiling every computed target is clamped to.
func maxTarget() *big.Int {
	t := new(big.Int).Lsh(big.NewInt(1), 256)
	return t.Sub(t, big.NewInt(1))
}

// diff1Numerator is 0xffff0000 * 2^192, the difficulty-1 target numerator.
func diff1Numerator() *big.Float {
	n := new(big.Float).SetPrec(256).SetInt64(0xffff0000)
	shift := new(big.Float).SetPrec(256).SetMantExp(big.NewFloat(1), 192)
	return n.Mul(n, shift)
}

// Subscription is guarded by an external mutex supplied by the caller
// (the transport/orchestrator serializes all access under its own lock,
// per the concurrency model); it holds no lock of its own.
type Subscription struct {
	id                string
	extraNonce1       string
	extraNonce2Size   int
	set               bool
	workerName        string
	authorized        bool
	difficulty        float64
	target            string // 64-hex, zero-padded
	difficultySet     bool
}

// New returns an empty Subscription, target defaulting to the
// difficulty-0 ceiling until SetDifficulty is called.
func New() *Subscription {
	return &Subscription{target: fmt.Sprintf("%064x", maxTarget())}
}

// SetSubscription records the server-assigned subscription id,
// extranonce1 and extranonce2 size. Fails if already set.
func (s *Subscription) SetSubscription(id, extraNonce1 string, extraNonce2Size int) error {
	if s.set {
		return ErrAlreadySubscribed
	}
	s.id = id
	s.extraNonce1 = extraNonce1
	s.extraNonce2Size = extraNonce2Size
	s.set = true
	return nil
}

// ID returns the subscription id, empty until SetSubscription.
func (s *Subscription) ID() string { return s.id }

// ExtraNonce1 returns the server-assigned extranonce1 hex prefix.
func (s *Subscription) ExtraNonce1() string { return s.extraNonce1 }

// ExtraNonce2Size returns the byte width of the client-chosen extranonce2.
func (s *Subscription) ExtraNonce2Size() int { return s.extraNonce2Size }

// SetWorkerName records the authorized worker name. Fails if already set.
func (s *Subscription) SetWorkerName(name string) error {
	if s.authorized {
		return ErrAlreadyAuthorized
	}
	s.workerName = name
	s.authorized = true
	return nil
}

// WorkerName returns the authorized worker name, empty until authorized.
func (s *Subscription) WorkerName() string { return s.workerName }

// Authorized reports whether SetWorkerName has been called.
func (s *Subscription) Authorized() bool { return s.authorized }

// Subscribed reports whether SetSubscription has been called.
func (s *Subscription) Subscribed() bool { return s.set }

// Difficulty returns the most recently set difficulty.
func (s *Subscription) Difficulty() float64 { return s.difficulty }

// Target returns the current 64-hex zero-padded target. It has no effect
// on Jobs already created — they snapshot their own target at creation.
func (s *Subscription) Target() string { return s.target }

// SetDifficulty recomputes the target for all future Jobs. Fails if d < 0.
//
//	d = 0  -> target = 2^256 - 1
//	d > 0  -> target = min(floor((0xffff0000*2^192+1)/d - 1 + 0.5), 2^256-1)
func (s *Subscription) SetDifficulty(d float64) error {
	if d < 0 {
		return ErrNegativeDifficulty
	}

	s.difficulty = d
	s.difficultySet = true

	if d == 0 {
		s.target = fmt.Sprintf("%064x", maxTarget())
		return nil
	}

	// (0xffff0000*2^192 + 1)/d - 1 + 0.5, which collapses to
	// (...)/d - 0.5; truncated toward zero, matching the reference
	// Python's int() semantics.
	ftarget := new(big.Float).SetPrec(256).Copy(diff1Numerator())
	ftarget.Add(ftarget, big.NewFloat(1))
	ftarget.Quo(ftarget, new(big.Float).SetPrec(256).SetFloat64(d))
	ftarget.Sub(ftarget, big.NewFloat(0.5))

	target, _ := ftarget.Int(nil)

	if target.Cmp(maxTarget()) > 0 {
		target = maxTarget()
	}

	s.target = fmt.Sprintf("%064x", target)
	return nil
}

// JobFields are the nine mining.notify parameters, still hex-encoded.
type JobFields struct {
	JobID          string
	PrevHash       string
	Coinb1         string
	Coinb2         string
	MerkleBranches []string
	Version        string
	NBits          string
	NTime          string
}

// CreateJob decodes notify fields, snapshots the current target,
// extranonce1 and extranonce2 size, and wraps them into a Job driven by
// the given hasher and hash function. Fails unless SetSubscription has
// already been called.
func (s *Subscription) CreateJob(jf JobFields, hashFunc func([]byte) []byte, h hasher.Hasher) (*job.Job, error) {
	if !s.set {
		return nil, ErrNotSubscribed
	}

	decode := func(name, hexStr string) ([]byte, error) {
		b, err := hex.DecodeString(hexStr)
		if err != nil {
			return nil, fmt.Errorf("subscription: decode %s: %w", name, err)
		}
		return b, nil
	}

	prevHash, err := decode("prevhash", jf.PrevHash)
	if err != nil {
		return nil, err
	}
	coinb1, err := decode("coinb1", jf.Coinb1)
	if err != nil {
		return nil, err
	}
	coinb2, err := decode("coinb2", jf.Coinb2)
	if err != nil {
		return nil, err
	}
	version, err := decode("version", jf.Version)
	if err != nil {
		return nil, err
	}
	nbits, err := decode("nbits", jf.NBits)
	if err != nil {
		return nil, err
	}
	ntime, err := decode("ntime", jf.NTime)
	if err != nil {
		return nil, err
	}
	target, err := decode("target", s.target)
	if err != nil {
		return nil, err
	}
	extraNonce1, err := decode("extranonce1", s.extraNonce1)
	if err != nil {
		return nil, err
	}

	branches := make([][]byte, 0, len(jf.MerkleBranches))
	for _, mb := range jf.MerkleBranches {
		b, err := decode("merkle_branch", mb)
		if err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}

	return job.New(job.Fields{
		ID:             jf.JobID,
		PrevHash:       prevHash,
		Coinb1:         coinb1,
		Coinb2:         coinb2,
		MerkleBranches: branches,
		Version:        version,
		NBits:          nbits,
		NTime:          ntime,
		Target:         target,
		ExtraNonce1:    extraNonce1,
		ExtraNonce2Len: s.extraNonce2Size,
		HashFunc:       hashFunc,
		Hasher:         h,
	})
}
