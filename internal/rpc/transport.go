// Package rpc implements the line-delimited JSON-RPC transport Stratum
// runs over: framing, send/reply correlation, and notification delivery.
// It knows nothing about mining — the miner package binds it to
// subscription state and job lifecycle.
package rpc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// Request is one JSON-RPC request/notification frame.
type Request struct {
	ID     uint64        `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Reply is one JSON-RPC response/notification frame. A server-initiated
// notification has Method set and ID unset; a reply to our own request
// has ID set and Result/Error populated.
type Reply struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method"`
	Params []interface{}   `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

// Handler is invoked once per received line, after framing and JSON
// decoding. req is the original outstanding request when reply.ID
// correlates to one we sent; it is nil for server-initiated
// notifications. Handlers run one at a time on the reader goroutine,
// without the transport's mutex held; they are not serialized with Send
// calls made from other goroutines.
type Handler func(req *Request, reply Reply)

// ErrNotConnected is returned by Send before Connect/AttachConn has
// established a connection.
var ErrNotConnected = errors.New("rpc: not connected")

// Transport frames, sends, and receives newline-delimited JSON-RPC
// messages over a net.Conn, correlating replies to requests by id.
//
// mu guards only conn/nextID/requests, never a Handler invocation itself:
// the reader loop calls the Handler unlocked, so a Handler may safely call
// Send from within itself (exactly what the miner package's subscribe
// handler does to send mining.authorize) without deadlocking on its own
// goroutine. The reader loop is single-goroutine, so notifications are
// still delivered to the Handler in wire order; Send's own locking
// guarantees the wire order of outgoing requests matches increasing id
// order regardless of what else calls Send concurrently.
type Transport struct {
	mu       sync.Mutex
	conn     net.Conn
	nextID   uint64
	requests map[uint64]Request

	handler Handler
}

// New returns a Transport with no connection yet; call Connect (or
// AttachConn) to connect and start reading.
func New(handler Handler) *Transport {
	return &Transport{
		nextID:   1,
		requests: make(map[uint64]Request),
		handler:  handler,
	}
}

// Outstanding returns the request previously sent under id, if any. Per
// the protocol's lack of a multi-reply convention, entries are never
// removed — they stay around for diagnostics and for later lookup (e.g.
// matching a mining.submit error back to the request that caused it).
func (t *Transport) Outstanding(id uint64) (Request, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	req, ok := t.requests[id]
	return req, ok
}

// Send serializes {id, method, params}, records it in the outstanding
// table, writes it newline-terminated, and advances the id counter. It
// holds the transport's mutex across id assignment and the write, so the
// wire order of sends always matches increasing id order.
func (t *Transport) Send(method string, params ...interface{}) (Request, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return Request{}, ErrNotConnected
	}

	req := Request{ID: t.nextID, Method: method, Params: params}

	line, err := json.Marshal(req)
	if err != nil {
		return Request{}, fmt.Errorf("rpc: marshal request: %w", err)
	}
	line = append(line, '\n')

	logrus.WithFields(logrus.Fields{"method": method, "id": req.ID}).Debug("rpc: send")

	if _, err := writeFull(t.conn, line); err != nil {
		return Request{}, fmt.Errorf("rpc: write: %w", err)
	}

	t.requests[req.ID] = req
	t.nextID++

	return req, nil
}

func writeFull(w io.Writer, b []byte) (int, error) {
	written := 0
	for written < len(b) {
		n, err := w.Write(b[written:])
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

// Connect dials addr and attaches it as the active connection.
// readErrs receives exactly one error (possibly io.EOF-wrapped) when the
// connection is lost — callers should treat any send on it as fatal, per
// the transport's no-auto-reconnect contract.
func (t *Transport) Connect(addr string) (readErrs <-chan error, err error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", addr, err)
	}
	return t.AttachConn(conn)
}

// AttachConn wires an already-established connection (e.g. one half of a
// net.Pipe, for offline replay testing) as the transport's active
// connection and starts its reader loop. Same readErrs contract as
// Connect.
func (t *Transport) AttachConn(conn net.Conn) (readErrs <-chan error, err error) {
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	errCh := make(chan error, 1)
	go t.readLoop(conn, errCh)

	return errCh, nil
}

func (t *Transport) readLoop(conn net.Conn, errCh chan<- error) {
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			errCh <- fmt.Errorf("rpc: read: %w", err)
			return
		}

		var reply Reply
		if err := json.Unmarshal(line, &reply); err != nil {
			logrus.WithError(err).WithField("line", string(line)).
				Warn("rpc: malformed JSON line, skipping")
			continue
		}

		var req *Request
		if reply.ID != nil {
			if r, ok := t.Outstanding(*reply.ID); ok {
				req = &r
			}
		}

		t.handler(req, reply)
	}
}
