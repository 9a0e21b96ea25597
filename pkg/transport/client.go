// Package transport carries payloads to the decision service and brings
// back its commands.
//
// A RoundTripper moves raw bytes (HTTP through the fiber client, or a
// ZeroMQ REQ socket). Client layers the exchange semantics on top: one
// attempt per call, no retry, every failure classified as a transport,
// protocol or decode Error.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/open-teleop/dronesim/pkg/log"
	"github.com/open-teleop/dronesim/pkg/protocol"
)

// DefaultTimeout bounds one exchange when the context has no deadline.
const DefaultTimeout = 2 * time.Second

// RoundTripper sends one request body and returns the reply.
type RoundTripper interface {
	RoundTrip(ctx context.Context, body []byte) (status int, reply []byte, err error)
	Close() error
}

// Exchanger is what the worker needs from a decision client.
type Exchanger interface {
	Exchange(ctx context.Context, payload []byte) (protocol.Command, error)
	Reset(ctx context.Context) error
}

var _ Exchanger = (*Client)(nil)

// Client talks to the decision service.
type Client struct {
	rt      RoundTripper
	timeout time.Duration
	logger  log.Logger
}

// NewClient wraps rt. A zero timeout uses DefaultTimeout.
func NewClient(rt RoundTripper, timeout time.Duration, logger log.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Client{rt: rt, timeout: timeout, logger: logger}
}

// Timeout returns the per-exchange timeout.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

func (c *Client) roundTrip(ctx context.Context, payload []byte) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	status, reply, err := c.rt.RoundTrip(ctx, payload)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}
	if status != http.StatusOK {
		return nil, &Error{Kind: KindProtocol, StatusCode: status, Err: bodyError(reply)}
	}
	return reply, nil
}

// Exchange performs a single request/response and decodes the command.
func (c *Client) Exchange(ctx context.Context, payload []byte) (protocol.Command, error) {
	reply, err := c.roundTrip(ctx, payload)
	if err != nil {
		return protocol.Command{}, err
	}
	cmd, err := protocol.DecodeCommand(reply)
	if err != nil {
		return protocol.Command{}, &Error{Kind: KindDecode, StatusCode: http.StatusOK, Err: err}
	}
	return cmd, nil
}

// Reset sends the teardown message. The reply is parsed and then ignored.
func (c *Client) Reset(ctx context.Context) error {
	body, err := protocol.EncodeReset()
	if err != nil {
		return fmt.Errorf("encoding reset message: %w", err)
	}
	reply, err := c.roundTrip(ctx, body)
	if err != nil {
		return err
	}
	if cmd, err := protocol.DecodeCommand(reply); err != nil {
		c.logger.Debugf("Reset reply ignored: %v", err)
	} else {
		c.logger.Debugf("Reset acknowledged with (%.1f, %.1f)", cmd.X, cmd.Y)
	}
	return nil
}

// Close releases the underlying transport.
func (c *Client) Close() error {
	return c.rt.Close()
}

// New builds a RoundTripper for kind "http" or "zmq".
func New(kind, endpoint string) (RoundTripper, error) {
	switch strings.ToLower(kind) {
	case "", "http":
		return NewHTTPRoundTripper(endpoint), nil
	case "zmq", "zeromq":
		return NewZMQRoundTripper(endpoint)
	default:
		return nil, fmt.Errorf("unknown decision transport %q", kind)
	}
}

func bodyError(reply []byte) error {
	s := strings.TrimSpace(string(reply))
	if s == "" {
		return nil
	}
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return fmt.Errorf("%s", s)
}

func remaining(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return DefaultTimeout, nil
	}
	d := time.Until(deadline)
	if d <= 0 {
		return 0, context.DeadlineExceeded
	}
	return d, nil
}
