// Package scene ties one simulation session together: the terrain, the
// drone state, the control worker that talks to the decision service and
// the per-frame loop that consumes its commands.
//
// A Scene only exposes three capabilities (update, render and UI render);
// the host drives them from a single goroutine and feeds operator input in
// as Event values.
package scene

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/open-teleop/dronesim/pkg/config"
	"github.com/open-teleop/dronesim/pkg/geom"
	"github.com/open-teleop/dronesim/pkg/lidar"
	customlog "github.com/open-teleop/dronesim/pkg/log"
	"github.com/open-teleop/dronesim/pkg/protocol"
	"github.com/open-teleop/dronesim/pkg/queue"
	"github.com/open-teleop/dronesim/pkg/sim"
	"github.com/open-teleop/dronesim/pkg/telemetry"
	"github.com/open-teleop/dronesim/pkg/terrain"
	"github.com/open-teleop/dronesim/pkg/transport"
	"github.com/open-teleop/dronesim/pkg/worker"
)

const DefaultResetTimeout = transport.DefaultTimeout

var (
	ErrClosed       = errors.New("scene is closed")
	ErrTargetsFixed = errors.New("scene does not accept targets")
)

// Renderer consumes the drone pose and latest scan once per frame.
type Renderer interface {
	RenderFrame(f telemetry.Frame) error
}

// Panel displays operator status.
type Panel interface {
	ShowStatus(st Status) error
}

// Scene is what the host loop drives.
type Scene interface {
	OnUpdate(dt float64)
	OnRender(r Renderer) error
	OnUIRender(p Panel) error
}

var _ Scene = (*DroneScene)(nil)

// Kind selects scene behaviour.
type Kind int

const (
	// Survey flies a generated lawnmower pattern; targets are fixed.
	Survey Kind = iota
	// Waypoints visits operator-picked targets in 3D.
	Waypoints
	// Planar is the side-on 2D scene with a scrolling view.
	Planar
)

// ParseKind maps a scenario kind name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case config.KindSurvey:
		return Survey, nil
	case config.KindWaypoints:
		return Waypoints, nil
	case config.KindPlanar:
		return Planar, nil
	default:
		return 0, fmt.Errorf("unknown scene kind '%s'", s)
	}
}

func (k Kind) String() string {
	switch k {
	case Survey:
		return config.KindSurvey
	case Waypoints:
		return config.KindWaypoints
	case Planar:
		return config.KindPlanar
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// AcceptsTargets reports whether operators may add waypoints.
func (k Kind) AcceptsTargets() bool {
	return k != Survey
}

// Options configure a DroneScene.
type Options struct {
	// SessionID defaults to a random UUID.
	SessionID string
	Scenario  *config.Scenario
	// Terrain defaults to the scenario's terrain.
	Terrain *terrain.Model
	Client  transport.Exchanger

	Worker        worker.Config
	QueuePolicy   queue.Policy
	QueueCapacity int
	// Loop defaults to sim.DefaultConfig when SmoothingRate is zero.
	Loop         sim.Config
	LidarSize    int
	LidarSpacing float64
	ResetTimeout time.Duration

	Logger customlog.Logger
}

// Status is the operator view of a scene.
type Status struct {
	Session    string           `json:"session"`
	Kind       string           `json:"kind"`
	Mode       string           `json:"mode"`
	Worker     string           `json:"worker"`
	Phase      string           `json:"phase"`
	State      sim.Snapshot     `json:"state"`
	Targets    []protocol.Point `json:"targets"`
	QueueDepth int              `json:"queue_depth"`
	Dropped    uint64           `json:"dropped"`
	Frames     uint64           `json:"frames"`
	Lidar      *lidar.Stats     `json:"lidar,omitempty"`
}

// DroneScene is the single Scene implementation; Kind switches the few
// behaviours that differ.
type DroneScene struct {
	id       string
	kind     Kind
	mode     string
	logger   customlog.Logger
	terrain  *terrain.Model
	sampler  *lidar.Sampler
	session  *protocol.Session
	client   transport.Exchanger
	commands *queue.Queue[protocol.Command]
	events   *queue.Queue[Event]
	state    *sim.State
	loop     *sim.ControlLoop
	worker   *worker.ControlWorker

	resetTimeout time.Duration

	mu     sync.Mutex
	last   sim.TickResult
	grid   lidar.Grid
	frames uint64

	// obsMu gates observer calls so none runs during or after Close.
	obsMu     sync.RWMutex
	obsClosed bool
	closers   []io.Closer

	closeOnce sync.Once
	closeErr  error
}

// New builds a scene in the Idle state. Nothing talks to the decision
// service until a StartComms event is applied.
func New(opts Options) (*DroneScene, error) {
	if opts.Scenario == nil {
		return nil, fmt.Errorf("scene: scenario is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("scene: decision client is required")
	}
	sc := opts.Scenario

	kind, err := ParseKind(sc.ResolvedKind())
	if err != nil {
		return nil, err
	}

	model := opts.Terrain
	if model == nil {
		if model, err = sc.BuildTerrain(); err != nil {
			return nil, fmt.Errorf("building terrain: %w", err)
		}
	}

	id := opts.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	logger = logger.WithFields(map[string]interface{}{"session": id, "scene": kind.String()})

	sampler := lidar.NewSampler(model)
	if opts.LidarSize > 0 {
		sampler.Size = opts.LidarSize
	}
	if opts.LidarSpacing > 0 {
		sampler.Spacing = opts.LidarSpacing
	}

	loopCfg := opts.Loop
	if loopCfg.SmoothingRate == 0 {
		loopCfg = sim.DefaultConfig()
	}
	if kind == Planar {
		if loopCfg.ViewBoundary == nil {
			loopCfg.ViewBoundary = sc.ViewBoundary
		}
	} else {
		loopCfg.ViewBoundary = nil
	}

	resetTimeout := opts.ResetTimeout
	if resetTimeout <= 0 {
		resetTimeout = DefaultResetTimeout
	}

	s := &DroneScene{
		id:           id,
		kind:         kind,
		mode:         sc.Mode,
		logger:       logger,
		terrain:      model,
		sampler:      sampler,
		session:      protocol.NewSession(sc.Mode, sc.StartVec(), sc.Waypoints()),
		client:       opts.Client,
		commands:     queue.New[protocol.Command](opts.QueuePolicy, opts.QueueCapacity),
		events:       queue.NewUnbounded[Event](),
		state:        sim.NewState(sc.Initial.Vec()),
		resetTimeout: resetTimeout,
	}
	s.loop = sim.NewControlLoop(s.state, s.commands, loopCfg)

	wcfg := opts.Worker
	if wcfg.Name == "" {
		wcfg.Name = kind.String()
	}
	s.worker = worker.New(wcfg, worker.Deps{
		Session:  s.session,
		Client:   s.client,
		Snapshot: s.state.ProtocolState,
		Scanner:  sampler,
		Sink:     s.commands,
		Logger:   logger,
	})
	s.worker.AddObserver(worker.ObserverFunc(s.keepGrid))

	logger.Infof("Scene ready: mode=%s, %d triangles, %d targets, queue=%s",
		sc.Mode, model.Len(), len(s.session.Targets()), opts.QueuePolicy)
	return s, nil
}

func (s *DroneScene) keepGrid(rec *worker.Record) {
	if rec.Grid == nil {
		return
	}
	s.mu.Lock()
	s.grid = rec.Grid
	s.mu.Unlock()
}

// ID returns the session identifier.
func (s *DroneScene) ID() string { return s.id }

// Kind returns the scene kind.
func (s *DroneScene) Kind() Kind { return s.kind }

// Terrain returns the shared read-only terrain.
func (s *DroneScene) Terrain() *terrain.Model { return s.terrain }

// Worker returns the control worker.
func (s *DroneScene) Worker() *worker.ControlWorker { return s.worker }

// Snapshot returns a copy of the drone state.
func (s *DroneScene) Snapshot() sim.Snapshot { return s.state.Snapshot() }

// QueueDepth returns the number of commands waiting for the loop.
func (s *DroneScene) QueueDepth() int { return s.commands.Len() }

// AddObserver registers o on the worker. Observers that implement
// io.Closer are closed with the scene; o is not called after that.
func (s *DroneScene) AddObserver(o worker.Observer) {
	s.worker.AddObserver(worker.ObserverFunc(func(rec *worker.Record) {
		s.obsMu.RLock()
		defer s.obsMu.RUnlock()
		if !s.obsClosed {
			o.Observe(rec)
		}
	}))
	c, ok := o.(io.Closer)
	if !ok {
		return
	}
	s.obsMu.Lock()
	closed := s.obsClosed
	if !closed {
		s.closers = append(s.closers, c)
	}
	s.obsMu.Unlock()
	if closed {
		_ = c.Close()
	}
}

// CanAddTargets reports whether an AddTarget or PickTarget would be
// accepted right now.
func (s *DroneScene) CanAddTargets() bool {
	return s.kind.AcceptsTargets() && s.session.Phase() == protocol.PhaseHandshake
}

// Dispatch queues ev for the next OnUpdate. It is safe to call from any
// goroutine.
func (s *DroneScene) Dispatch(ev Event) error {
	if err := s.events.Push(ev); err != nil {
		return ErrClosed
	}
	return nil
}

// OnUpdate applies pending events then advances the drone by dt seconds.
func (s *DroneScene) OnUpdate(dt float64) {
	for {
		ev, ok := s.events.TryPop()
		if !ok {
			break
		}
		s.apply(ev)
	}

	res := s.loop.Tick(dt)
	if res.Applied {
		s.logger.Debugf("New target (%.1f, %.1f, %.1f)", res.Target.X(), res.Target.Y(), res.Target.Z())
	}

	s.mu.Lock()
	s.last = res
	s.frames++
	s.mu.Unlock()
}

func (s *DroneScene) apply(ev Event) {
	switch e := ev.(type) {
	case StartComms:
		if s.worker.Start() {
			s.logger.Infof("Comms on")
		}
	case ToggleEmergencyStop:
		on := s.state.ToggleEmergencyStop()
		s.logger.Infof("Emergency stop %s", onOff(on))
	case SetEmergencyStop:
		s.state.SetEmergencyStop(e.On)
		s.logger.Infof("Emergency stop %s", onOff(e.On))
	case AddTarget:
		if err := s.addTarget(e.Point); err != nil {
			s.logger.Warnf("Ignoring %s: %v", e, err)
		}
	case PickTarget:
		hit, ok := s.terrain.Raycast(e.Ray)
		if !ok {
			s.logger.Debugf("Pick ray missed the terrain")
			return
		}
		if err := s.addTarget(hit.Point); err != nil {
			s.logger.Warnf("Ignoring picked target: %v", err)
		}
	default:
		s.logger.Warnf("Unknown event %T", ev)
	}
}

func (s *DroneScene) addTarget(p geom.Vec3) error {
	if !s.kind.AcceptsTargets() {
		return ErrTargetsFixed
	}
	if err := s.session.AddTarget(p); err != nil {
		return err
	}
	s.logger.Infof("Target added (%.1f, %.1f, %.1f)", p.X(), p.Y(), p.Z())
	return nil
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// Lidar returns the grid from the latest polling exchange, or a fresh scan
// at the current position when there is none yet.
func (s *DroneScene) Lidar() lidar.Grid {
	s.mu.Lock()
	g := s.grid
	s.mu.Unlock()
	if g != nil {
		return g.Clone()
	}
	return s.sampler.Scan(s.state.Position())
}

// OnRender hands the latest pose and scan to r.
func (s *DroneScene) OnRender(r Renderer) error {
	s.mu.Lock()
	last := s.last
	grid := s.grid
	s.mu.Unlock()

	return r.RenderFrame(telemetry.Frame{
		Timestamp:     time.Now(),
		Session:       s.id,
		Position:      last.Position,
		Grid:          grid,
		Roll:          last.Roll,
		Pitch:         last.Pitch,
		EmergencyStop: last.EmergencyStop,
	})
}

// OnUIRender hands the operator status to p.
func (s *DroneScene) OnUIRender(p Panel) error {
	return p.ShowStatus(s.Status())
}

// Status collects the operator view.
func (s *DroneScene) Status() Status {
	s.mu.Lock()
	frames := s.frames
	grid := s.grid
	s.mu.Unlock()

	targets := s.session.Targets()
	st := Status{
		Session:    s.id,
		Kind:       s.kind.String(),
		Mode:       s.mode,
		Worker:     s.worker.State().String(),
		Phase:      s.session.Phase().String(),
		State:      s.state.Snapshot(),
		Targets:    make([]protocol.Point, len(targets)),
		QueueDepth: s.commands.Len(),
		Dropped:    s.commands.Dropped(),
		Frames:     frames,
	}
	for i, t := range targets {
		st.Targets[i] = protocol.PointOf(t)
	}
	if grid != nil {
		stats := grid.Stats()
		st.Lidar = &stats
	}
	return st
}

// Close stops and joins the worker, sends the reset message once if comms
// were started, then closes observers and the client. Only the first call
// does any work.
//
// When ctx ends before the worker has joined, the reset is skipped, the
// observers are closed at once and the client is closed as soon as the
// in-flight exchange returns. The join error is returned.
func (s *DroneScene) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.close(ctx)
	})
	return s.closeErr
}

func (s *DroneScene) close(ctx context.Context) error {
	s.events.Close()

	started := s.worker.State() != worker.Idle
	s.worker.Stop()
	// A producer blocked on a full queue must see the close to exit.
	s.commands.Close()
	joinErr := s.worker.Shutdown(ctx)

	switch {
	case joinErr != nil:
		s.logger.Errorf("Worker did not stop, skipping reset: %v", joinErr)
	case started:
		rctx, cancel := context.WithTimeout(ctx, s.resetTimeout)
		if err := s.client.Reset(rctx); err != nil {
			s.logger.Warnf("Reset message failed: %v", err)
		} else {
			s.logger.Infof("Reset message sent")
		}
		cancel()
	}

	errs := []error{joinErr}
	errs = append(errs, s.closeObservers()...)
	if joinErr == nil {
		errs = append(errs, s.closeClient())
	} else {
		// The client is still in use by the exchange that outlived ctx.
		go func() {
			<-s.worker.Done()
			if err := s.closeClient(); err != nil {
				s.logger.Warnf("Closing decision client: %v", err)
			}
		}()
	}

	s.logger.Infof("Scene closed after %d frames", s.Status().Frames)
	return errors.Join(errs...)
}

func (s *DroneScene) closeObservers() []error {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.obsClosed = true
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errs
}

func (s *DroneScene) closeClient() error {
	if c, ok := s.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Metrics returns the worker exchange metrics.
func (s *DroneScene) Metrics() worker.Metrics {
	return s.worker.Metrics()
}
