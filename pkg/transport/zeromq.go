package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pebbe/zmq4"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("zeromq round tripper is closed")

// ZMQRoundTripper exchanges messages over a REQ socket. A REQ socket
// that missed a reply cannot send again, so any failure discards the
// socket and the next call reconnects.
type ZMQRoundTripper struct {
	mu       sync.Mutex
	endpoint string
	ctx      *zmq4.Context
	socket   *zmq4.Socket
	closed   bool
}

// NewZMQRoundTripper prepares a client for endpoint, e.g.
// tcp://localhost:5556. The connection is made on first use.
func NewZMQRoundTripper(endpoint string) (*ZMQRoundTripper, error) {
	ctx, err := zmq4.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ context: %w", err)
	}
	return &ZMQRoundTripper{endpoint: endpoint, ctx: ctx}, nil
}

func (t *ZMQRoundTripper) connect() (*zmq4.Socket, error) {
	if t.socket != nil {
		return t.socket, nil
	}
	socket, err := t.ctx.NewSocket(zmq4.REQ)
	if err != nil {
		return nil, fmt.Errorf("failed to create REQ socket: %w", err)
	}
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set linger option: %w", err)
	}
	if err := socket.Connect(t.endpoint); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", t.endpoint, err)
	}
	t.socket = socket
	return socket, nil
}

func (t *ZMQRoundTripper) discard() {
	if t.socket != nil {
		t.socket.Close()
		t.socket = nil
	}
}

// RoundTrip sends body and waits for one reply until the context
// deadline. Replies are always reported as status 200.
func (t *ZMQRoundTripper) RoundTrip(ctx context.Context, body []byte) (int, []byte, error) {
	timeout, err := remaining(ctx)
	if err != nil {
		return 0, nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, nil, ErrClosed
	}

	socket, err := t.connect()
	if err != nil {
		return 0, nil, err
	}
	if err := socket.SetSndtimeo(timeout); err != nil {
		t.discard()
		return 0, nil, fmt.Errorf("failed to set send timeout: %w", err)
	}
	if err := socket.SetRcvtimeo(timeout); err != nil {
		t.discard()
		return 0, nil, fmt.Errorf("failed to set receive timeout: %w", err)
	}

	if _, err := socket.SendBytes(body, 0); err != nil {
		t.discard()
		return 0, nil, fmt.Errorf("failed to send request: %w", err)
	}
	reply, err := socket.RecvBytes(0)
	if err != nil {
		t.discard()
		return 0, nil, fmt.Errorf("failed to receive reply from %s: %w", t.endpoint, err)
	}
	return 200, reply, nil
}

// Close releases the socket and terminates the context.
func (t *ZMQRoundTripper) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.discard()
	return t.ctx.Term()
}
