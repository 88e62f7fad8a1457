package rpc

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendWithoutConnection(t *testing.T) {
	tr := New(func(*Request, Reply) {})
	_, err := tr.Send("mining.subscribe")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSendRecordsOutstanding(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	tr := New(func(*Request, Reply) {})
	_, err := tr.AttachConn(client)
	require.NoError(t, err)

	go func() {
		buf := make([]byte, 4096)
		server.Read(buf)
	}()

	req, err := tr.Send("mining.subscribe", "agent/1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), req.ID)

	got, ok := tr.Outstanding(1)
	require.True(t, ok)
	assert.Equal(t, "mining.subscribe", got.Method)

	// still present after a "reply": this transport never evicts.
	_, ok = tr.Outstanding(1)
	assert.True(t, ok)
}

func TestDispatchNotification(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	received := make(chan Reply, 1)
	tr := New(func(req *Request, reply Reply) {
		if req == nil {
			received <- reply
		}
	})
	_, err := tr.AttachConn(client)
	require.NoError(t, err)

	line, err := json.Marshal(map[string]interface{}{
		"id":     nil,
		"method": "mining.set_difficulty",
		"params": []interface{}{32768},
	})
	require.NoError(t, err)
	line = append(line, '\n')

	go func() {
		server.Write(line)
	}()

	select {
	case reply := <-received:
		assert.Equal(t, "mining.set_difficulty", reply.Method)
	case <-time.After(2 * time.Second):
		t.Fatal("notification was never dispatched")
	}
}

func TestMalformedLineSkipped(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	received := make(chan Reply, 1)
	tr := New(func(req *Request, reply Reply) {
		received <- reply
	})
	_, err := tr.AttachConn(client)
	require.NoError(t, err)

	good, _ := json.Marshal(map[string]interface{}{"method": "mining.notify", "params": []interface{}{}})

	go func() {
		server.Write([]byte("{not json}\n"))
		server.Write(append(good, '\n'))
	}()

	select {
	case reply := <-received:
		assert.Equal(t, "mining.notify", reply.Method)
	case <-time.After(2 * time.Second):
		t.Fatal("malformed line should be skipped, not block the reader")
	}
}

// TestHandlerCanSendFromWithinItself guards against a regression to a
// self-deadlock: a Handler invoked from the reader loop must be able to
// call Send without blocking on its own goroutine, since the miner
// package's subscribe handler does exactly that to send mining.authorize.
func TestHandlerCanSendFromWithinItself(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	serverReads := make(chan []byte, 2)
	go func() {
		r := make([]byte, 4096)
		for {
			n, err := server.Read(r)
			if err != nil {
				return
			}
			b := make([]byte, n)
			copy(b, r[:n])
			serverReads <- b
		}
	}()

	var tr *Transport
	sent := make(chan struct{}, 1)
	tr = New(func(req *Request, reply Reply) {
		if req == nil {
			return
		}
		if _, err := tr.Send("mining.authorize", "worker", "pass"); err != nil {
			t.Errorf("Send from within handler: %v", err)
		}
		sent <- struct{}{}
	})
	_, err := tr.AttachConn(client)
	require.NoError(t, err)

	req, err := tr.Send("mining.subscribe", "agent/1")
	require.NoError(t, err)
	<-serverReads // the subscribe line itself

	reply, err := json.Marshal(map[string]interface{}{
		"id":     req.ID,
		"result": []interface{}{},
		"error":  nil,
	})
	require.NoError(t, err)
	reply = append(reply, '\n')
	_, err = server.Write(reply)
	require.NoError(t, err)

	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatal("handler's own Send call deadlocked")
	}

	select {
	case <-serverReads:
	case <-time.After(2 * time.Second):
		t.Fatal("authorize request was never written to the wire")
	}
}
