package scene

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/open-teleop/dronesim/pkg/config"
	"github.com/open-teleop/dronesim/pkg/geom"
	"github.com/open-teleop/dronesim/pkg/protocol"
	"github.com/open-teleop/dronesim/pkg/telemetry"
	"github.com/open-teleop/dronesim/pkg/worker"
)

type fakeClient struct {
	mu       sync.Mutex
	cmd      protocol.Command
	payloads [][]byte
	resets   int
	closed   bool
	// hold, when set, keeps every exchange in flight until it is closed.
	hold chan struct{}
}

func (f *fakeClient) Exchange(ctx context.Context, payload []byte) (protocol.Command, error) {
	f.mu.Lock()
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	cmd, hold := f.cmd, f.hold
	f.mu.Unlock()
	if hold != nil {
		<-hold
	}
	return cmd, nil
}

func (f *fakeClient) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeClient) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeClient) exchanges() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeClient) payload(i int) map[string]json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var m map[string]json.RawMessage
	_ = json.Unmarshal(f.payloads[i], &m)
	return m
}

type closingObserver struct {
	mu     sync.Mutex
	seen   int
	closed bool
}

func (o *closingObserver) Observe(rec *worker.Record) {
	o.mu.Lock()
	o.seen++
	o.mu.Unlock()
}

func (o *closingObserver) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	return nil
}

type fakeRenderer struct{ frames []telemetry.Frame }

func (r *fakeRenderer) RenderFrame(f telemetry.Frame) error {
	r.frames = append(r.frames, f)
	return nil
}

type fakePanel struct{ last *Status }

func (p *fakePanel) ShowStatus(st Status) error {
	p.last = &st
	return nil
}

// flatScenario is a 1000 x 1000 slab whose top is at y=1. The drone starts
// off the slab diagonals so no lidar ray lands on a shared edge.
func flatScenario(mode string) *config.Scenario {
	return &config.Scenario{
		Mode:    mode,
		Initial: config.Point{X: 7, Y: 100, Z: -3},
		Terrain: config.TerrainConfig{Boxes: []config.BoxShape{{
			Center: config.Point{X: 0, Y: 0, Z: 0},
			Half:   config.Point{X: 500, Y: 1, Z: 500},
		}}},
	}
}

func newTestScene(t *testing.T, sc *config.Scenario, client *fakeClient) *DroneScene {
	t.Helper()
	s, err := New(Options{
		SessionID: "test-session",
		Scenario:  sc,
		Client:    client,
		Worker:    worker.Config{Throttle: 5 * time.Millisecond, ExchangeTimeout: time.Second},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

// pump runs frames until cond holds or the deadline passes.
func pump(t *testing.T, s *DroneScene, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for scene")
		}
		s.OnUpdate(1.0 / 60)
		time.Sleep(2 * time.Millisecond)
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{config.KindSurvey, Survey, false},
		{config.KindWaypoints, Waypoints, false},
		{config.KindPlanar, Planar, false},
		{"orbit", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestNewRequiresScenarioAndClient(t *testing.T) {
	if _, err := New(Options{Client: &fakeClient{}}); err == nil {
		t.Error("Expected error without scenario")
	}
	if _, err := New(Options{Scenario: flatScenario("3DA")}); err == nil {
		t.Error("Expected error without client")
	}
}

func TestNewGeneratesSessionID(t *testing.T) {
	s, err := New(Options{Scenario: flatScenario("3DA"), Client: &fakeClient{}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Close(context.Background())
	if len(s.ID()) != 36 {
		t.Errorf("Expected a UUID session id, got %q", s.ID())
	}
}

func TestCommsDriveTheDrone(t *testing.T) {
	client := &fakeClient{cmd: protocol.Command{X: 32, Y: 100, Z: -21, HasZ: true}}
	s := newTestScene(t, flatScenario("3DA"), client)

	if err := s.Dispatch(StartComms{}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	pump(t, s, func() bool { return s.Snapshot().Position == geom.Vec3{32, 100, -21} })

	first := client.payload(0)
	if string(first["test"]) != `"3DA"` {
		t.Errorf("Expected handshake with mode, got %s", first["test"])
	}
	pump(t, s, func() bool { return client.exchanges() >= 2 })
	second := client.payload(1)
	if _, ok := second["lidar_below_drone"]; !ok {
		t.Error("Expected lidar grid in the polling message")
	}
	if _, ok := second["test"]; ok {
		t.Error("Polling message repeated the mode")
	}

	st := s.Status()
	if st.Worker != worker.Running.String() || st.Phase != protocol.PhasePolling.String() {
		t.Errorf("Unexpected status worker=%s phase=%s", st.Worker, st.Phase)
	}
	if st.Lidar == nil || st.Lidar.Missing != 0 {
		t.Errorf("Expected a full lidar grid over the slab, got %+v", st.Lidar)
	}
}

func TestStartCommsTwiceIsNoop(t *testing.T) {
	client := &fakeClient{cmd: protocol.Command{X: 1, Y: 100}}
	s := newTestScene(t, flatScenario("3DA"), client)

	s.Dispatch(StartComms{})
	s.Dispatch(StartComms{})
	s.OnUpdate(0)

	if s.Worker().State() != worker.Running {
		t.Errorf("Expected running worker, got %v", s.Worker().State())
	}
}

func TestTargetsOnlyBeforeHandshake(t *testing.T) {
	client := &fakeClient{cmd: protocol.Command{X: 0, Y: 100}}
	s := newTestScene(t, flatScenario("3DA"), client)

	if !s.CanAddTargets() {
		t.Fatal("Expected targets to be accepted before comms")
	}
	s.Dispatch(AddTarget{Point: geom.Vec3{100, 20, -100}})
	s.OnUpdate(0)
	if got := len(s.Status().Targets); got != 1 {
		t.Fatalf("Expected 1 target, got %d", got)
	}

	s.Dispatch(StartComms{})
	pump(t, s, func() bool { return client.exchanges() >= 1 })

	var targets []protocol.Point
	if err := json.Unmarshal(client.payload(0)["targets"], &targets); err != nil {
		t.Fatalf("Handshake targets: %v", err)
	}
	if len(targets) != 1 || targets[0].X != 100 {
		t.Errorf("Unexpected handshake targets %+v", targets)
	}

	if s.CanAddTargets() {
		t.Error("Expected targets to be locked after the handshake")
	}
	s.Dispatch(AddTarget{Point: geom.Vec3{200, 20, -200}})
	s.OnUpdate(0)
	if got := len(s.Status().Targets); got != 1 {
		t.Errorf("Expected target list unchanged, got %d", got)
	}
}

func TestPickTarget(t *testing.T) {
	s := newTestScene(t, flatScenario("3DA"), &fakeClient{})

	s.Dispatch(PickTarget{Ray: geom.Ray{Origin: geom.Vec3{10, 50, -20}, Dir: geom.Down}})
	s.Dispatch(PickTarget{Ray: geom.Ray{Origin: geom.Vec3{10, 50, -20}, Dir: geom.Vec3{0, 1, 0}}})
	s.OnUpdate(0)

	targets := s.Status().Targets
	if len(targets) != 1 {
		t.Fatalf("Expected one picked target, got %d", len(targets))
	}
	if math.Abs(targets[0].Y-1) > 1e-9 || targets[0].X != 10 || targets[0].Z != -20 {
		t.Errorf("Expected pick at (10, 1, -20), got %+v", targets[0])
	}
}

func TestSurveyTargetsAreFixed(t *testing.T) {
	sc := config.DefaultScenario()
	s := newTestScene(t, sc, &fakeClient{})

	if s.Kind() != Survey {
		t.Fatalf("Expected survey scene, got %v", s.Kind())
	}
	if s.CanAddTargets() {
		t.Error("Survey scene should not accept targets")
	}
	before := len(s.Status().Targets)
	s.Dispatch(AddTarget{Point: geom.Vec3{1, 2, 3}})
	s.OnUpdate(0)
	if after := len(s.Status().Targets); after != before || before != 46 {
		t.Errorf("Expected 46 fixed targets, got %d then %d", before, after)
	}
}

func TestEmergencyEvents(t *testing.T) {
	s := newTestScene(t, flatScenario("3DA"), &fakeClient{})

	s.Dispatch(ToggleEmergencyStop{})
	s.OnUpdate(0)
	if !s.Snapshot().EmergencyStop {
		t.Error("Expected emergency stop after toggle")
	}
	s.Dispatch(SetEmergencyStop{On: true})
	s.OnUpdate(0)
	if !s.Snapshot().EmergencyStop {
		t.Error("Set on should keep emergency stop on")
	}
	s.Dispatch(ToggleEmergencyStop{})
	s.OnUpdate(0)
	if s.Snapshot().EmergencyStop {
		t.Error("Expected emergency stop cleared by second toggle")
	}
}

func TestPlanarViewShift(t *testing.T) {
	boundary := 910.0
	sc := flatScenario("2DMT")
	sc.Initial = config.Point{X: 200, Y: 200, Z: 0}
	sc.ViewBoundary = &boundary

	client := &fakeClient{cmd: protocol.Command{X: 1000, Y: 200}}
	s := newTestScene(t, sc, client)
	if s.Kind() != Planar {
		t.Fatalf("Expected planar scene, got %v", s.Kind())
	}

	s.Dispatch(StartComms{})
	pump(t, s, func() bool { return s.Snapshot().ViewOffset.X() < 0 })
}

func TestRenderAndUI(t *testing.T) {
	s := newTestScene(t, flatScenario("3DA"), &fakeClient{})
	s.OnUpdate(1.0 / 60)

	r := &fakeRenderer{}
	if err := s.OnRender(r); err != nil {
		t.Fatalf("OnRender failed: %v", err)
	}
	if len(r.frames) != 1 || r.frames[0].Session != "test-session" {
		t.Fatalf("Unexpected frames %+v", r.frames)
	}
	if r.frames[0].Position != (geom.Vec3{7, 100, -3}) {
		t.Errorf("Unexpected frame position %v", r.frames[0].Position)
	}

	p := &fakePanel{}
	if err := s.OnUIRender(p); err != nil {
		t.Fatalf("OnUIRender failed: %v", err)
	}
	if p.last == nil || p.last.Frames != 1 || p.last.Worker != worker.Idle.String() {
		t.Errorf("Unexpected panel status %+v", p.last)
	}
}

func TestLidarBeforeComms(t *testing.T) {
	s := newTestScene(t, flatScenario("3DA"), &fakeClient{})
	grid := s.Lidar()
	if grid.Size() != 5 {
		t.Fatalf("Expected 5x5 grid, got %d", grid.Size())
	}
	if math.Abs(grid[2][2]-1) > 1e-9 {
		t.Errorf("Expected ground at 1, got %f", grid[2][2])
	}
}

func TestCloseSendsResetOnce(t *testing.T) {
	client := &fakeClient{cmd: protocol.Command{X: 0, Y: 100}}
	s := newTestScene(t, flatScenario("3DA"), client)
	obs := &closingObserver{}
	s.AddObserver(obs)

	s.Dispatch(StartComms{})
	pump(t, s, func() bool { return client.exchanges() >= 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}

	client.mu.Lock()
	resets, closed := client.resets, client.closed
	client.mu.Unlock()
	if resets != 1 {
		t.Errorf("Expected one reset, got %d", resets)
	}
	if !closed {
		t.Error("Expected client to be closed")
	}
	if !obs.closed {
		t.Error("Expected observer to be closed")
	}
	if s.Worker().State() != worker.Stopped {
		t.Errorf("Expected stopped worker, got %v", s.Worker().State())
	}

	n := client.exchanges()
	time.Sleep(20 * time.Millisecond)
	if client.exchanges() != n {
		t.Error("Exchanges continued after close")
	}

	if err := s.Dispatch(StartComms{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestCloseAfterJoinTimeoutStillReleases(t *testing.T) {
	client := &fakeClient{cmd: protocol.Command{X: 32, Y: 100}, hold: make(chan struct{})}
	s := newTestScene(t, flatScenario("3DA"), client)
	obs := &closingObserver{}
	s.AddObserver(obs)

	if err := s.Dispatch(StartComms{}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	pump(t, s, func() bool { return client.exchanges() >= 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := s.Close(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected a join timeout, got %v", err)
	}

	obs.mu.Lock()
	closed := obs.closed
	obs.mu.Unlock()
	if !closed {
		t.Error("Expected observers to be closed after a join timeout")
	}
	if client.isClosed() {
		t.Error("Client must stay open while the exchange is in flight")
	}
	client.mu.Lock()
	resets := client.resets
	client.mu.Unlock()
	if resets != 0 {
		t.Errorf("Expected no reset after a join timeout, got %d", resets)
	}

	close(client.hold)
	select {
	case <-s.Worker().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Worker did not exit after the exchange returned")
	}
	deadline := time.Now().Add(2 * time.Second)
	for !client.isClosed() {
		if time.Now().After(deadline) {
			t.Fatal("Client was not closed after the worker exited")
		}
		time.Sleep(5 * time.Millisecond)
	}

	obs.mu.Lock()
	seen := obs.seen
	obs.mu.Unlock()
	if seen != 0 {
		t.Errorf("Observer called %d times after Close", seen)
	}
	if err := s.Close(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Second Close should report the first result, got %v", err)
	}
}

func TestAddObserverAfterClose(t *testing.T) {
	s := newTestScene(t, flatScenario("3DA"), &fakeClient{})
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	obs := &closingObserver{}
	s.AddObserver(obs)
	if !obs.closed {
		t.Error("Observer added after Close should be closed at once")
	}
}

func TestCloseWithoutCommsSkipsReset(t *testing.T) {
	client := &fakeClient{}
	s := newTestScene(t, flatScenario("3DA"), client)
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if client.resets != 0 {
		t.Errorf("Expected no reset, got %d", client.resets)
	}
}
