package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	customlog "github.com/open-teleop/dronesim/pkg/log"
	"github.com/pebbe/zmq4"
)

// Topics used on the PUB socket.
const (
	TopicScan     = "telemetry.scan"
	TopicExchange = "telemetry.exchange"
	TopicScenario = "config.scenario_updated"
)

// ErrPublisherClosed is returned after Close.
var ErrPublisherClosed = errors.New("telemetry publisher is closed")

// Publisher sends topic-prefixed multipart messages on a PUB socket.
type Publisher struct {
	ctx     *zmq4.Context
	socket  *zmq4.Socket
	address string
	logger  customlog.Logger
	running bool
	mu      sync.Mutex
}

// NewPublisher binds a PUB socket on address, e.g. tcp://*:5557.
func NewPublisher(address string, logger customlog.Logger) (*Publisher, error) {
	ctx, err := zmq4.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ context: %w", err)
	}

	socket, err := ctx.NewSocket(zmq4.PUB)
	if err != nil {
		ctx.Term()
		return nil, fmt.Errorf("failed to create PUB socket: %w", err)
	}
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		ctx.Term()
		return nil, fmt.Errorf("failed to set linger option: %w", err)
	}
	if err := socket.Bind(address); err != nil {
		socket.Close()
		ctx.Term()
		return nil, fmt.Errorf("failed to bind to %s: %w", address, err)
	}

	bound, err := socket.GetLastEndpoint()
	if err != nil {
		bound = address
	}
	logger.Infof("Telemetry publisher bound on %s", bound)

	return &Publisher{
		ctx:     ctx,
		socket:  socket,
		address: bound,
		logger:  logger,
		running: true,
	}, nil
}

// Address returns the bound endpoint.
func (p *Publisher) Address() string {
	return p.address
}

// PublishMessage sends the topic frame followed by the payload frame.
func (p *Publisher) PublishMessage(topic string, message []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return ErrPublisherClosed
	}

	if _, err := p.socket.Send(topic, zmq4.SNDMORE); err != nil {
		return fmt.Errorf("failed to send topic: %w", err)
	}
	if _, err := p.socket.SendBytes(message, 0); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// RenderFrame publishes f as a ScanFrame on TopicScan.
func (p *Publisher) RenderFrame(f Frame) error {
	return p.PublishMessage(TopicScan, EncodeFrame(f))
}

// PublishScenarioUpdated announces a new scenario on TopicScenario.
func (p *Publisher) PublishScenarioUpdated(scenarioID string) error {
	msg, err := json.Marshal(map[string]interface{}{
		"scenario_id": scenarioID,
		"timestamp":   time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	return p.PublishMessage(TopicScenario, msg)
}

// Close releases the socket and context.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	p.running = false
	p.socket.Close()
	p.socket = nil
	return p.ctx.Term()
}
