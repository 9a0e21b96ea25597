// Package worker runs the background exchange loop: snapshot the drone,
// scan the terrain, build a payload, exchange it with the decision
// service and queue the returned command.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/open-teleop/dronesim/pkg/geom"
	"github.com/open-teleop/dronesim/pkg/lidar"
	customlog "github.com/open-teleop/dronesim/pkg/log"
	"github.com/open-teleop/dronesim/pkg/protocol"
	"github.com/open-teleop/dronesim/pkg/transport"
)

const (
	DefaultThrottle        = 250 * time.Millisecond
	DefaultExchangeTimeout = transport.DefaultTimeout
)

// State is the lifecycle state of a ControlWorker.
type State int32

const (
	Idle State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Scanner produces the lidar grid for a position.
type Scanner interface {
	Scan(pos geom.Vec3) lidar.Grid
}

// Sink receives decoded commands.
type Sink interface {
	Push(cmd protocol.Command) error
}

// Config tunes the loop cadence.
type Config struct {
	Name            string
	Throttle        time.Duration
	ExchangeTimeout time.Duration
}

// Deps are the collaborators of a ControlWorker.
type Deps struct {
	Session  *protocol.Session
	Client   transport.Exchanger
	Snapshot func() protocol.State
	Scanner  Scanner
	Sink     Sink
	Logger   customlog.Logger
}

// ControlWorker owns one background goroutine per scene.
type ControlWorker struct {
	name     string
	throttle time.Duration
	timeout  time.Duration

	session  *protocol.Session
	client   transport.Exchanger
	snapshot func() protocol.State
	scanner  Scanner
	sink     Sink
	logger   customlog.Logger

	mu        sync.Mutex
	state     State
	stop      chan struct{}
	done      chan struct{}
	observers []Observer
	seq       uint64

	metrics *Metrics
}

// New creates an Idle worker.
func New(cfg Config, deps Deps) *ControlWorker {
	if cfg.Name == "" {
		cfg.Name = "control"
	}
	if cfg.Throttle <= 0 {
		cfg.Throttle = DefaultThrottle
	}
	if cfg.ExchangeTimeout <= 0 {
		cfg.ExchangeTimeout = DefaultExchangeTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	return &ControlWorker{
		name:     cfg.Name,
		throttle: cfg.Throttle,
		timeout:  cfg.ExchangeTimeout,
		session:  deps.Session,
		client:   deps.Client,
		snapshot: deps.Snapshot,
		scanner:  deps.Scanner,
		sink:     deps.Sink,
		logger:   logger.WithField("worker", cfg.Name),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		metrics:  &Metrics{},
	}
}

// AddObserver registers o for every exchange record. Observers run on the
// worker goroutine and must not block.
func (w *ControlWorker) AddObserver(o Observer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.observers = append(w.observers, o)
}

// State returns the current lifecycle state.
func (w *ControlWorker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start launches the loop. It reports false, doing nothing, unless the
// worker is Idle.
func (w *ControlWorker) Start() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != Idle {
		return false
	}
	w.state = Running
	w.logger.Infof("Starting %s worker (throttle=%v, timeout=%v)", w.name, w.throttle, w.timeout)

	go w.run()
	return true
}

// Stop signals the loop to exit. An exchange in flight completes first.
// Stopping an Idle worker moves it straight to Stopped.
func (w *ControlWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case Idle:
		w.state = Stopped
		close(w.stop)
		close(w.done)
	case Running:
		w.state = Stopping
		close(w.stop)
		w.logger.Infof("Stopping %s worker", w.name)
	}
}

// Wait blocks until the loop has exited. It returns immediately for a
// worker that was never started and has been stopped.
func (w *ControlWorker) Wait() {
	<-w.done
}

// Shutdown stops the worker and waits for it, up to ctx.
func (w *ControlWorker) Shutdown(ctx context.Context) error {
	w.Stop()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s worker: %w", w.name, ctx.Err())
	}
}

// Done is closed once the loop has exited.
func (w *ControlWorker) Done() <-chan struct{} {
	return w.done
}

func (w *ControlWorker) run() {
	defer func() {
		w.mu.Lock()
		w.state = Stopped
		w.mu.Unlock()
		w.logger.Infof("%s worker stopped", w.name)
		w.logMetrics()
		close(w.done)
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		select {
		case <-w.stop:
			return
		default:
		}

		w.cycle()

		timer.Reset(w.throttle)
		select {
		case <-w.stop:
			return
		case <-timer.C:
		}
	}
}

func (w *ControlWorker) cycle() {
	rec := &Record{Started: time.Now()}
	w.mu.Lock()
	w.seq++
	rec.Seq = w.seq
	w.mu.Unlock()

	rec.State = w.snapshot()
	if w.session.Phase() == protocol.PhasePolling {
		rec.Grid = w.scanner.Scan(rec.State.Position)
	}

	payload, phase, err := w.session.Encode(rec.State, rec.Grid)
	rec.Phase = phase
	if err != nil {
		rec.Err = err
		w.logger.Errorf("Failed to build %s payload: %v", phase, err)
		w.finish(rec)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	cmd, err := w.client.Exchange(ctx, payload)
	cancel()
	rec.Duration = time.Since(rec.Started)

	if err != nil {
		rec.Err = err
		if phase == protocol.PhaseHandshake {
			w.session.Rewind()
		}
		kind, _ := transport.KindOf(err)
		w.logger.WithField("kind", kind).Warnf("%s exchange %d failed: %v", phase, rec.Seq, err)
		w.finish(rec)
		return
	}

	rec.Command = cmd
	if err := w.sink.Push(cmd); err != nil {
		rec.Err = fmt.Errorf("queueing command: %w", err)
		w.logger.Warnf("Dropped command (%.1f, %.1f): %v", cmd.X, cmd.Y, err)
	} else {
		rec.Queued = true
		w.logger.Debugf("%s exchange %d -> (%.1f, %.1f) in %v", phase, rec.Seq, cmd.X, cmd.Y, rec.Duration)
	}
	w.finish(rec)
}

func (w *ControlWorker) finish(rec *Record) {
	w.metrics.record(rec)

	w.mu.Lock()
	observers := w.observers
	w.mu.Unlock()
	for _, o := range observers {
		o.Observe(rec)
	}
}

// Metrics returns a copy of the exchange metrics.
func (w *ControlWorker) Metrics() Metrics {
	return w.metrics.snapshot()
}

func (w *ControlWorker) logMetrics() {
	m := w.Metrics()
	w.logger.Infof("%s worker metrics: exchanges=%d, queued=%d, errors=%d, avg_time=%dµs, max_time=%dµs",
		w.name, m.ExchangeCount, m.QueuedCount, m.ErrorCount, m.ExchangeTimeAvg, m.ExchangeTimeMax)
}

// Record describes one loop iteration.
type Record struct {
	Seq      uint64
	Phase    protocol.Phase
	State    protocol.State
	Grid     lidar.Grid
	Command  protocol.Command
	Queued   bool
	Err      error
	Started  time.Time
	Duration time.Duration
}

// OK reports whether a command came back and was queued.
func (r *Record) OK() bool {
	return r.Err == nil && r.Queued
}

// Observer is notified after every loop iteration.
type Observer interface {
	Observe(rec *Record)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(rec *Record)

// Observe calls f.
func (f ObserverFunc) Observe(rec *Record) { f(rec) }

// Metrics tracks exchange outcomes.
type Metrics struct {
	ExchangeCount    int64 `json:"exchange_count"`
	QueuedCount      int64 `json:"queued_count"`
	ErrorCount       int64 `json:"error_count"`
	TransportErrors  int64 `json:"transport_errors"`
	ProtocolErrors   int64 `json:"protocol_errors"`
	DecodeErrors     int64 `json:"decode_errors"`
	HandshakeCount   int64 `json:"handshake_count"`
	LastExchangeTime int64 `json:"last_exchange_time"`
	ExchangeTimeAvg  int64 `json:"exchange_time_avg_us"`
	ExchangeTimeMax  int64 `json:"exchange_time_max_us"`

	exchangeTimeTotal int64
	mu                sync.Mutex
}

func (m *Metrics) record(rec *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ExchangeCount++
	m.LastExchangeTime = rec.Started.UnixNano()
	if rec.Phase == protocol.PhaseHandshake {
		m.HandshakeCount++
	}

	elapsed := rec.Duration.Microseconds()
	m.exchangeTimeTotal += elapsed
	m.ExchangeTimeAvg = m.exchangeTimeTotal / m.ExchangeCount
	if elapsed > m.ExchangeTimeMax {
		m.ExchangeTimeMax = elapsed
	}

	if rec.Queued {
		m.QueuedCount++
	}
	if rec.Err == nil {
		return
	}
	m.ErrorCount++
	switch {
	case errors.Is(rec.Err, transport.ErrTransport):
		m.TransportErrors++
	case errors.Is(rec.Err, transport.ErrProtocol):
		m.ProtocolErrors++
	case errors.Is(rec.Err, transport.ErrDecode):
		m.DecodeErrors++
	}
}

func (m *Metrics) snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{
		ExchangeCount:    m.ExchangeCount,
		QueuedCount:      m.QueuedCount,
		ErrorCount:       m.ErrorCount,
		TransportErrors:  m.TransportErrors,
		ProtocolErrors:   m.ProtocolErrors,
		DecodeErrors:     m.DecodeErrors,
		HandshakeCount:   m.HandshakeCount,
		LastExchangeTime: m.LastExchangeTime,
		ExchangeTimeAvg:  m.ExchangeTimeAvg,
		ExchangeTimeMax:  m.ExchangeTimeMax,
	}
}
