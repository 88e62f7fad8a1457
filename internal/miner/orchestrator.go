// Package miner orchestrates a Stratum mining session: it binds the
// line-JSON-RPC transport to subscription state and Job lifecycle,
// dispatching each inbound reply/notification to the right transition.
package miner

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/boomstarternetwork/btcminer/internal/algorithm"
	"github.com/boomstarternetwork/btcminer/internal/hasher"
	"github.com/boomstarternetwork/btcminer/internal/job"
	"github.com/boomstarternetwork/btcminer/internal/metrics"
	"github.com/boomstarternetwork/btcminer/internal/rpc"
	"github.com/boomstarternetwork/btcminer/internal/subscription"
)

const defaultPort = "9333"

const (
	methodSubscribe     = "mining.subscribe"
	methodAuthorize     = "mining.authorize"
	methodNotify        = "mining.notify"
	methodSetDifficulty = "mining.set_difficulty"
	methodSubmit        = "mining.submit"
)

// ErrAuthenticationFailed is fatal: the pool rejected our credentials.
var ErrAuthenticationFailed = errors.New("miner: authentication failed")

// Config configures one mining session.
type Config struct {
	PoolURL   string
	Login     string
	Password  string
	UserAgent string
	Algorithm algorithm.Algorithm
	Hasher    hasher.Hasher
}

// Miner drives one Stratum session: one transport, one Subscription, and
// at most one in-flight Job.
type Miner struct {
	cfg       Config
	transport *rpc.Transport
	sub       *subscription.Subscription

	mu         sync.Mutex
	currentJob *job.Job

	subscribeReqID uint64
	authorizeReqID uint64

	connectedAt time.Time

	fatal chan error
	done  chan struct{}
}

// New returns a Miner ready to Serve. cfg.Hasher must be supplied by the
// caller (a hasher.Software wrapping cfg.Algorithm's hash function, or a
// hasher.Hardware bound to a real accelerator).
func New(cfg Config) *Miner {
	m := &Miner{
		cfg:   cfg,
		sub:   subscription.New(),
		fatal: make(chan error, 1),
		done:  make(chan struct{}),
	}
	m.transport = rpc.New(m.dispatch)
	return m
}

func resolveAddr(poolURL string) (string, error) {
	host, port, err := net.SplitHostPort(poolURL)
	if err != nil {
		// no port present; use the whole string as host
		return net.JoinHostPort(poolURL, defaultPort), nil
	}
	if port == "" {
		port = defaultPort
	}
	return net.JoinHostPort(host, port), nil
}

// ServeForever connects to the pool, subscribes, and blocks until the
// connection is lost or a fatal protocol error occurs. It returns that
// terminal error; callers (the CLI) treat it as fatal, per this
// transport's no-auto-reconnect contract.
func (m *Miner) ServeForever() error {
	addr, err := resolveAddr(m.cfg.PoolURL)
	if err != nil {
		return fmt.Errorf("miner: resolve pool address: %w", err)
	}

	readErrs, err := m.transport.Connect(addr)
	if err != nil {
		return fmt.Errorf("miner: connect: %w", err)
	}

	if err := m.start(readErrs); err != nil {
		return err
	}

	return <-m.fatal
}

// Attach wires an already-established connection (typically one half of
// a net.Pipe) as the session's transport and kicks off the subscribe
// handshake, without blocking. It exists for offline replay: a harness
// can hold the other half of the pipe and feed canned pool responses
// directly at the dispatch path.
func (m *Miner) Attach(conn net.Conn) error {
	readErrs, err := m.transport.AttachConn(conn)
	if err != nil {
		return fmt.Errorf("miner: attach: %w", err)
	}
	return m.start(readErrs)
}

func (m *Miner) start(readErrs <-chan error) error {
	m.mu.Lock()
	m.connectedAt = time.Now()
	m.mu.Unlock()

	go func() {
		err := <-readErrs
		m.fail(fmt.Errorf("miner: transport closed: %w", err))
	}()

	go m.reportConnectionUptime()

	req, err := m.transport.Send(methodSubscribe, m.cfg.UserAgent)
	if err != nil {
		return fmt.Errorf("miner: send subscribe: %w", err)
	}
	m.mu.Lock()
	m.subscribeReqID = req.ID
	m.mu.Unlock()

	return nil
}

// Wait blocks until the session ends (transport closed or a fatal
// protocol error) and returns that terminal error.
func (m *Miner) Wait() error {
	return <-m.fatal
}

func (m *Miner) fail(err error) {
	select {
	case m.fatal <- err:
	default:
	}
	select {
	case <-m.done:
	default:
		close(m.done)
	}
}

// reportConnectionUptime keeps metrics.ConnectionUptimeSeconds current
// for as long as the session runs, so a scrape mid-session reflects
// elapsed connection time rather than a stale zero.
func (m *Miner) reportConnectionUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			connectedAt := m.connectedAt
			m.mu.Unlock()
			metrics.ConnectionUptimeSeconds.Set(time.Since(connectedAt).Seconds())
		case <-m.done:
			return
		}
	}
}

// dispatch is the rpc.Handler bound to the transport. The transport
// invokes it without holding its own lock, so handlers (e.g.
// handleSubscribeReply below) may call m.transport.Send from within
// themselves without deadlocking.
func (m *Miner) dispatch(req *rpc.Request, reply rpc.Reply) {
	if req == nil {
		m.dispatchNotification(reply)
		return
	}

	switch req.Method {
	case methodSubscribe:
		m.handleSubscribeReply(reply)
	case methodAuthorize:
		m.handleAuthorizeReply(reply)
	case methodSubmit:
		m.handleSubmitReply(reply)
	default:
		logrus.WithField("method", req.Method).Warn("miner: reply to unexpected method")
	}
}

func (m *Miner) dispatchNotification(reply rpc.Reply) {
	switch reply.Method {
	case methodNotify:
		m.handleNotify(reply)
	case methodSetDifficulty:
		m.handleSetDifficulty(reply)
	default:
		if reply.Method != "" {
			logrus.WithField("method", reply.Method).Warn("miner: unsupported notification")
		} else {
			logrus.Warn("miner: reply with unrecognized id and no method, discarding")
		}
	}
}

func (m *Miner) handleSubscribeReply(reply rpc.Reply) {
	if reply.Error != nil {
		m.fail(fmt.Errorf("miner: subscribe error: %s", reply.Error.Message))
		return
	}

	var result []interface{}
	if err := json.Unmarshal(reply.Result, &result); err != nil || len(result) != 3 {
		logrus.WithError(err).Warn("miner: malformed subscribe reply shape")
		return
	}

	idPairs, ok := result[0].([]interface{})
	if !ok || len(idPairs) == 0 {
		logrus.Warn("miner: malformed subscription id array")
		return
	}
	firstPair, ok := idPairs[0].([]interface{})
	if !ok || len(firstPair) != 2 {
		logrus.Warn("miner: malformed subscription id pair")
		return
	}
	subID, ok := firstPair[1].(string)
	if !ok {
		logrus.Warn("miner: malformed subscription id")
		return
	}

	extraNonce1, ok := result[1].(string)
	if !ok {
		logrus.Warn("miner: malformed extranonce1")
		return
	}

	extraNonce2Size, ok := result[2].(float64)
	if !ok {
		logrus.Warn("miner: malformed extranonce2_size")
		return
	}

	if err := m.sub.SetSubscription(subID, extraNonce1, int(extraNonce2Size)); err != nil {
		logrus.WithError(err).Warn("miner: set_subscription rejected")
		return
	}

	req, err := m.transport.Send(methodAuthorize, m.cfg.Login, m.cfg.Password)
	if err != nil {
		m.fail(fmt.Errorf("miner: send authorize: %w", err))
		return
	}
	m.mu.Lock()
	m.authorizeReqID = req.ID
	m.mu.Unlock()
}

func (m *Miner) handleAuthorizeReply(reply rpc.Reply) {
	if reply.Error != nil {
		m.fail(fmt.Errorf("%w: %s", ErrAuthenticationFailed, reply.Error.Message))
		return
	}

	var ok bool
	if err := json.Unmarshal(reply.Result, &ok); err != nil || !ok {
		m.fail(ErrAuthenticationFailed)
		return
	}

	if err := m.sub.SetWorkerName(m.cfg.Login); err != nil {
		logrus.WithError(err).Warn("miner: set_worker_name rejected")
	}
}

func (m *Miner) handleSetDifficulty(reply rpc.Reply) {
	if len(reply.Params) != 1 {
		logrus.Warn("miner: set_difficulty with unexpected param count")
		return
	}
	d, ok := reply.Params[0].(float64)
	if !ok {
		logrus.Warn("miner: set_difficulty with non-numeric difficulty")
		return
	}
	if err := m.sub.SetDifficulty(d); err != nil {
		logrus.WithError(err).Warn("miner: set_difficulty rejected")
		return
	}
	metrics.Difficulty.Set(d)
}

func (m *Miner) handleNotify(reply rpc.Reply) {
	if len(reply.Params) != 9 {
		logrus.Warn("miner: mining.notify with unexpected param count")
		return
	}

	jf, err := parseNotifyParams(reply.Params)
	if err != nil {
		logrus.WithError(err).Warn("miner: malformed mining.notify")
		return
	}

	hashFunc := m.cfg.Algorithm.HashFunc()

	newJob, err := m.sub.CreateJob(jf, hashFunc, m.cfg.Hasher)
	if err != nil {
		logrus.WithError(err).Warn("miner: create_job rejected")
		return
	}

	m.mu.Lock()
	if m.currentJob != nil {
		m.currentJob.Stop()
	}
	m.currentJob = newJob
	m.mu.Unlock()

	metrics.JobsStarted.Inc()

	go m.runJob(newJob)
}

func (m *Miner) runJob(j *job.Job) {
	for share := range j.Mine(0, 1) {
		workerName := m.sub.WorkerName()
		_, err := m.transport.Send(methodSubmit, workerName, share.JobID,
			share.ExtraNonce2, share.Ntime, share.Nonce)
		if err != nil {
			logrus.WithError(err).Error("miner: failed to send mining.submit")
			return
		}
		metrics.Hashrate.Set(j.Hashrate())
	}
}

func (m *Miner) handleSubmitReply(reply rpc.Reply) {
	if reply.Error != nil {
		metrics.SharesRejected.WithLabelValues(strconv.Itoa(reply.Error.Code)).Inc()
		logrus.WithFields(logrus.Fields{
			"code":    reply.Error.Code,
			"message": reply.Error.Message,
		}).Warn("miner: share rejected")
		return
	}

	var accepted bool
	if err := json.Unmarshal(reply.Result, &accepted); err != nil || !accepted {
		metrics.SharesRejected.WithLabelValues("false").Inc()
		logrus.Warn("miner: share rejected by pool (result=false)")
		return
	}

	metrics.SharesAccepted.Inc()
}

func parseNotifyParams(params []interface{}) (subscription.JobFields, error) {
	var jf subscription.JobFields

	str := func(i int, name string) (string, error) {
		s, ok := params[i].(string)
		if !ok {
			return "", fmt.Errorf("miner: notify param %d (%s) is not a string", i, name)
		}
		return s, nil
	}

	var err error
	if jf.JobID, err = str(0, "job_id"); err != nil {
		return jf, err
	}
	if jf.PrevHash, err = str(1, "prevhash"); err != nil {
		return jf, err
	}
	if jf.Coinb1, err = str(2, "coinb1"); err != nil {
		return jf, err
	}
	if jf.Coinb2, err = str(3, "coinb2"); err != nil {
		return jf, err
	}

	branches, ok := params[4].([]interface{})
	if !ok {
		return jf, errors.New("miner: notify param 4 (merkle_branch) is not an array")
	}
	for _, b := range branches {
		s, ok := b.(string)
		if !ok {
			return jf, errors.New("miner: merkle_branch entry is not a string")
		}
		jf.MerkleBranches = append(jf.MerkleBranches, s)
	}

	if jf.Version, err = str(5, "version"); err != nil {
		return jf, err
	}
	if jf.NBits, err = str(6, "nbits"); err != nil {
		return jf, err
	}
	if jf.NTime, err = str(7, "ntime"); err != nil {
		return jf, err
	}
	// params[8] (clean_jobs) is always honored as if true: this
	// orchestrator keeps only one Job at a time, so a stale job is
	// already stopped regardless of the flag's value.

	return jf, nil
}
