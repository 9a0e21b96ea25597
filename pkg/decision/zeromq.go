package decision

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	customlog "github.com/open-teleop/dronesim/pkg/log"
	"github.com/pebbe/zmq4"
)

const pollInterval = 500 * time.Millisecond

// ReplyServer serves the engine on a ZeroMQ REP socket. Error replies
// carry the same body as the HTTP front end; REP has no status code.
type ReplyServer struct {
	ctx     *zmq4.Context
	socket  *zmq4.Socket
	poller  *zmq4.Poller
	engine  *Engine
	logger  customlog.Logger
	address string

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// NewReplyServer binds a REP socket on address.
func NewReplyServer(address string, engine *Engine, logger customlog.Logger) (*ReplyServer, error) {
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	ctx, err := zmq4.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create ZeroMQ context: %w", err)
	}
	socket, err := ctx.NewSocket(zmq4.REP)
	if err != nil {
		ctx.Term()
		return nil, fmt.Errorf("failed to create REP socket: %w", err)
	}
	fail := func(err error) (*ReplyServer, error) {
		socket.Close()
		ctx.Term()
		return nil, err
	}

	if err := socket.SetLinger(0); err != nil {
		return fail(fmt.Errorf("failed to set linger option: %w", err))
	}
	if err := socket.SetSndtimeo(time.Second); err != nil {
		return fail(fmt.Errorf("failed to set send timeout: %w", err))
	}
	if err := socket.Bind(address); err != nil {
		return fail(fmt.Errorf("failed to bind to %s: %w", address, err))
	}
	bound, err := socket.GetLastEndpoint()
	if err != nil {
		bound = address
	}

	poller := zmq4.NewPoller()
	poller.Add(socket, zmq4.POLLIN)

	logger.Infof("Decision REP server bound on %s", bound)
	return &ReplyServer{ctx: ctx, socket: socket, poller: poller, engine: engine, logger: logger, address: bound}, nil
}

// Address returns the bound endpoint.
func (s *ReplyServer) Address() string {
	return s.address
}

// Start begins the receive loop.
func (s *ReplyServer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.wg.Add(1)
	go s.loop()
}

func (s *ReplyServer) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *ReplyServer) loop() {
	defer s.wg.Done()
	for s.isRunning() {
		// Poll with a timeout so Stop is noticed.
		sockets, err := s.poller.Poll(pollInterval)
		if err != nil {
			if s.isRunning() {
				s.logger.Errorf("Error polling socket: %v", err)
			}
			continue
		}
		if len(sockets) == 0 {
			continue
		}

		msg, err := s.socket.RecvBytes(0)
		if err != nil {
			if s.isRunning() {
				s.logger.Errorf("Error receiving message: %v", err)
			}
			continue
		}

		status, body := s.engine.Reply(msg)
		if status != 200 {
			s.logger.Warnf("Rejected request: %v", body)
		}
		data, err := json.Marshal(body)
		if err != nil {
			data = []byte(`{"error":"internal error"}`)
		}
		if _, err := s.socket.SendBytes(data, 0); err != nil && s.isRunning() {
			s.logger.Errorf("Error sending response: %v", err)
		}
	}
}

// Close stops the loop, waits for it and releases the socket.
func (s *ReplyServer) Close() error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.wg.Wait()

	s.socket.Close()
	return s.ctx.Term()
}
