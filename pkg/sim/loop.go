package sim

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/open-teleop/dronesim/pkg/geom"
	"github.com/open-teleop/dronesim/pkg/protocol"
)

// Defaults for Config.
const (
	DefaultSmoothingRate = 4.0
	DefaultSnapEpsilon   = 1.0
	DefaultVelocityBlend = 0.2
	DefaultTiltGain      = 0.05
	DefaultMaxTilt       = 0.3
	DefaultTiltRate      = 5.0

	minDt = 1e-4
)

// Config tunes the per-frame smoothing.
type Config struct {
	SmoothingRate float64
	SnapEpsilon   float64
	VelocityBlend float64
	TiltGain      float64
	MaxTilt       float64
	TiltRate      float64

	// ViewBoundary enables the view shift: a command whose x exceeds it
	// moves the view by the distance the drone is about to travel.
	ViewBoundary *float64
}

// DefaultConfig returns the stock tuning with the view shift disabled.
func DefaultConfig() Config {
	return Config{
		SmoothingRate: DefaultSmoothingRate,
		SnapEpsilon:   DefaultSnapEpsilon,
		VelocityBlend: DefaultVelocityBlend,
		TiltGain:      DefaultTiltGain,
		MaxTilt:       DefaultMaxTilt,
		TiltRate:      DefaultTiltRate,
	}
}

// CommandSource is polled once per tick and must never block.
type CommandSource interface {
	TryPop() (protocol.Command, bool)
}

// TickResult is what a renderer needs after one frame.
type TickResult struct {
	Snapshot
	Applied   bool
	Command   protocol.Command
	Snapped   bool
	ViewShift geom.Vec3
}

// ControlLoop advances State once per frame.
type ControlLoop struct {
	state  *State
	source CommandSource
	cfg    Config
}

// NewControlLoop binds a loop to state and source.
func NewControlLoop(state *State, source CommandSource, cfg Config) *ControlLoop {
	return &ControlLoop{state: state, source: source, cfg: cfg}
}

// State returns the state the loop writes to.
func (l *ControlLoop) State() *State {
	return l.state
}

// Tick consumes at most one command and smooths position, velocity and
// tilt over dt seconds.
func (l *ControlLoop) Tick(dt float64) TickResult {
	var res TickResult
	if l.source != nil {
		res.Command, res.Applied = l.source.TryPop()
	}

	res.Snapshot = l.state.update(func(s *Snapshot) {
		if res.Applied {
			if l.cfg.ViewBoundary != nil && res.Command.X > *l.cfg.ViewBoundary {
				res.ViewShift = geom.Vec3{s.Position.X() - res.Command.X, 0, 0}
				s.ViewOffset = s.ViewOffset.Add(res.ViewShift)
			}
			s.Target = res.Command.Apply(s.Target)
		}

		prev := s.Position
		// A long frame lands on the target instead of overshooting it.
		step := mgl64.Clamp(l.cfg.SmoothingRate*dt, 0, 1)
		s.Position = s.Position.Add(s.Target.Sub(s.Position).Mul(step))

		diff := s.Target.Sub(s.Position)
		if math.Abs(diff.X()) < l.cfg.SnapEpsilon &&
			math.Abs(diff.Y()) < l.cfg.SnapEpsilon &&
			math.Abs(diff.Z()) < l.cfg.SnapEpsilon {
			res.Snapped = s.Position != s.Target
			s.Position = s.Target
		}

		newVel := s.Position.Sub(prev).Mul(1 / math.Max(dt, minDt))
		s.Velocity = geom.Mix(s.Velocity, newVel, l.cfg.VelocityBlend)

		rollTarget := mgl64.Clamp(-s.Velocity.X()*l.cfg.TiltGain, -l.cfg.MaxTilt, l.cfg.MaxTilt)
		pitchTarget := mgl64.Clamp(s.Velocity.Z()*l.cfg.TiltGain, -l.cfg.MaxTilt, l.cfg.MaxTilt)
		k := mgl64.Clamp(l.cfg.TiltRate*dt, 0, 1)
		s.Roll = geom.MixScalar(s.Roll, rollTarget, k)
		s.Pitch = geom.MixScalar(s.Pitch, pitchTarget, k)
	})
	return res
}
