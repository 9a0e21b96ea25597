// Package decision is a development stand-in for the external decision
// service. It answers the same wire protocol: a handshake opens a mission
// (mode, targets, start), polling messages report position and lidar, and
// every reply is the next position to fly to.
package decision

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/open-teleop/dronesim/pkg/geom"
	"github.com/open-teleop/dronesim/pkg/lidar"
	customlog "github.com/open-teleop/dronesim/pkg/log"
	"github.com/open-teleop/dronesim/pkg/protocol"
)

// Mode identifiers with dedicated behaviour. Anything else flies the 3D
// pickup mission.
const (
	ModeSurvey = "SURVEY"
	Mode2DCT   = "2DCT"
	Mode2DMT   = "2DMT"
)

var ErrMissingCurrent = errors.New("'current' field missing")

// Config tunes the flight planner.
type Config struct {
	Step3D       float64
	Step2D       float64
	CruiseHeight float64
	SurveyHeight float64
	// Wait is how long the drone holds after reaching a target.
	Wait        time.Duration
	HistorySize int
	Spacing     float64
	// FlatTolerance and MinLandingHeight select emergency landing cells.
	FlatTolerance    float64
	MinLandingHeight float64
}

// DefaultConfig matches the reference service.
func DefaultConfig() Config {
	return Config{
		Step3D:           50,
		Step2D:           10,
		CruiseHeight:     100,
		SurveyHeight:     200,
		Wait:             2 * time.Second,
		HistorySize:      10,
		Spacing:          lidar.DefaultSpacing,
		FlatTolerance:    3,
		MinLandingHeight: -20,
	}
}

type flightPhase int

const (
	phaseCruise flightPhase = iota
	phaseDescend
	phaseAscend
)

type scan struct {
	pos  geom.Vec3
	grid lidar.Grid
}

// Engine holds one mission at a time. A request with a different mode
// identifier replaces the mission.
type Engine struct {
	cfg    Config
	logger customlog.Logger
	now    func() time.Time

	mu        sync.Mutex
	mode      string
	targets   []geom.Vec3
	start     geom.Vec3
	history   []scan
	phase     flightPhase
	waitUntil time.Time
	landing   *geom.Vec3
}

// NewEngine creates an engine with no mission.
func NewEngine(cfg Config, logger customlog.Logger) *Engine {
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 1
	}
	return &Engine{cfg: cfg, logger: logger, now: time.Now}
}

// Mode returns the current mission mode.
func (e *Engine) Mode() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Targets returns the remaining targets in visiting order.
func (e *Engine) Targets() []geom.Vec3 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]geom.Vec3(nil), e.targets...)
}

// Compute returns the next position for req.
func (e *Engine) Compute(req protocol.Request) (geom.Vec3, error) {
	if req.Current == nil {
		return geom.Vec3{}, ErrMissingCurrent
	}
	cur := req.Current.Vec()

	e.mu.Lock()
	defer e.mu.Unlock()

	if req.Test != nil && *req.Test != e.mode {
		e.begin(*req.Test, req, cur)
	}
	if req.Lidar != nil {
		e.remember(cur, req.Lidar)
	}

	switch e.mode {
	case "", protocol.ResetMode:
		return e.start, nil
	case ModeSurvey:
		return e.survey(cur), nil
	case Mode2DCT, Mode2DMT:
		return e.planar(cur, req.EmergencyStop), nil
	default:
		return e.flight(cur, req.EmergencyStop), nil
	}
}

func (e *Engine) begin(mode string, req protocol.Request, cur geom.Vec3) {
	e.mode = mode
	e.start = cur
	if req.Start != nil {
		e.start = req.Start.Vec()
	}
	e.targets = make([]geom.Vec3, len(req.Targets))
	for i, t := range req.Targets {
		e.targets[i] = t.Vec()
	}
	if mode != ModeSurvey && mode != protocol.ResetMode {
		e.targets = orderTargets(e.targets, e.start)
	}
	e.history = e.history[:0]
	e.phase = phaseCruise
	e.waitUntil = time.Time{}
	e.landing = nil
	e.logger.Infof("New mission %s: %d targets from (%.1f, %.1f, %.1f)",
		mode, len(e.targets), e.start.X(), e.start.Y(), e.start.Z())
}

func (e *Engine) remember(pos geom.Vec3, grid [][]float64) {
	e.history = append([]scan{{pos: pos, grid: grid}}, e.history...)
	if len(e.history) > e.cfg.HistorySize {
		e.history = e.history[:e.cfg.HistorySize]
	}
}

func (e *Engine) waiting() bool {
	return e.now().Before(e.waitUntil)
}

func (e *Engine) hold() {
	e.waitUntil = e.now().Add(e.cfg.Wait)
}

func (e *Engine) pop() {
	e.targets = e.targets[1:]
}

func (e *Engine) survey(cur geom.Vec3) geom.Vec3 {
	if len(e.targets) == 0 {
		return e.start
	}
	next, reached := moveHorizontal(cur, e.targets[0], e.cfg.Step3D, e.cfg.SurveyHeight)
	if reached {
		e.pop()
	}
	return next
}

func (e *Engine) planar(cur geom.Vec3, emergency bool) geom.Vec3 {
	if e.waiting() {
		return cur
	}
	if emergency || len(e.targets) == 0 {
		next, reached := movePlanar(cur, e.start, e.cfg.Step2D)
		if reached {
			e.hold()
		}
		return next
	}
	next, reached := movePlanar(cur, e.targets[0], e.cfg.Step2D)
	if reached {
		e.hold()
		e.pop()
	}
	return next
}

func (e *Engine) flight(cur geom.Vec3, emergency bool) geom.Vec3 {
	if e.waiting() {
		return cur
	}
	if emergency {
		if e.landing == nil {
			spot := e.findLanding()
			e.landing = &spot
			e.logger.Infof("Emergency landing at (%.1f, %.1f, %.1f)", spot.X(), spot.Y(), spot.Z())
		}
		next, reached := moveToward(cur, *e.landing, e.cfg.Step3D)
		if reached {
			e.hold()
		}
		return next
	}
	if len(e.targets) == 0 {
		return e.start
	}
	e.landing = nil
	target := e.targets[0]

	switch e.phase {
	case phaseCruise:
		cruise := e.cfg.CruiseHeight
		if len(e.history) > 0 {
			if g := e.history[0].grid; len(g) > 0 {
				mid := len(g) / 2
				if h := g[mid][mid]; h != lidar.NoGround && h > 0 {
					cruise += h
				}
			}
		}
		hover := geom.Vec3{target.X(), cruise, target.Z()}
		next, reached := moveHorizontal(cur, hover, e.cfg.Step3D, cruise)
		if reached {
			e.phase = phaseDescend
		}
		return next
	case phaseDescend:
		next, reached := moveVertical(cur, target.Y(), e.cfg.Step3D)
		if reached {
			e.hold()
			e.phase = phaseAscend
			e.pop()
		}
		return next
	default:
		next, reached := moveVertical(cur, e.cfg.CruiseHeight, e.cfg.Step3D)
		if reached {
			e.phase = phaseCruise
		}
		return next
	}
}

// findLanding returns the first flat measured patch in the scan history,
// newest scan first, or the mission start when there is none.
func (e *Engine) findLanding() geom.Vec3 {
	for _, s := range e.history {
		n := len(s.grid)
		for i := 0; i+1 < n; i++ {
			for j := 0; j+1 < n && j+1 < len(s.grid[i]) && j+1 < len(s.grid[i+1]); j++ {
				h := s.grid[i][j]
				if h < e.cfg.MinLandingHeight || math.Abs(h-s.grid[i+1][j+1]) > e.cfg.FlatTolerance {
					continue
				}
				return geom.Vec3{
					s.pos.X() + lidar.Offset(j, n, e.cfg.Spacing),
					h,
					s.pos.Z() + lidar.Offset(i, n, e.cfg.Spacing),
				}
			}
		}
	}
	return e.start
}

// orderTargets visits the nearest unvisited target first and returns home
// at the end.
func orderTargets(targets []geom.Vec3, start geom.Vec3) []geom.Vec3 {
	if len(targets) == 0 {
		return targets
	}
	left := append([]geom.Vec3(nil), targets...)
	out := make([]geom.Vec3, 0, len(targets)+1)
	at := start
	for len(left) > 0 {
		best := 0
		for i := 1; i < len(left); i++ {
			if left[i].Sub(at).Len() < left[best].Sub(at).Len() {
				best = i
			}
		}
		at = left[best]
		out = append(out, at)
		left = append(left[:best], left[best+1:]...)
	}
	return append(out, start)
}

// moveToward steps up to step units toward target in 3D.
func moveToward(cur, target geom.Vec3, step float64) (geom.Vec3, bool) {
	d := target.Sub(cur)
	dist := d.Len()
	if dist <= step {
		return target, true
	}
	return cur.Add(d.Mul(step / dist)), false
}

// movePlanar steps in the XY plane and keeps z.
func movePlanar(cur, target geom.Vec3, step float64) (geom.Vec3, bool) {
	dx, dy := target.X()-cur.X(), target.Y()-cur.Y()
	dist := math.Hypot(dx, dy)
	if dist <= step {
		return target, true
	}
	r := step / dist
	return geom.Vec3{cur.X() + dx*r, cur.Y() + dy*r, cur.Z()}, false
}

// moveHorizontal steps in the XZ plane at height y. On arrival the height
// is left unchanged.
func moveHorizontal(cur, target geom.Vec3, step, y float64) (geom.Vec3, bool) {
	dx, dz := target.X()-cur.X(), target.Z()-cur.Z()
	dist := math.Hypot(dx, dz)
	if dist <= step {
		return geom.Vec3{target.X(), cur.Y(), target.Z()}, true
	}
	r := step / dist
	return geom.Vec3{cur.X() + dx*r, y, cur.Z() + dz*r}, false
}

func moveVertical(cur geom.Vec3, y, step float64) (geom.Vec3, bool) {
	dy := y - cur.Y()
	if math.Abs(dy) <= step {
		return geom.Vec3{cur.X(), y, cur.Z()}, true
	}
	return geom.Vec3{cur.X(), cur.Y() + math.Copysign(step, dy), cur.Z()}, false
}
