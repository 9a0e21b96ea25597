// Package sim holds the drone's simulated physical state and the per-frame
// update that consumes commands from the decision service.
package sim

import (
	"sync"

	"github.com/open-teleop/dronesim/pkg/geom"
	"github.com/open-teleop/dronesim/pkg/protocol"
)

// Snapshot is a consistent copy of State.
type Snapshot struct {
	Position      geom.Vec3 `json:"position"`
	Target        geom.Vec3 `json:"target"`
	Velocity      geom.Vec3 `json:"velocity"`
	Roll          float64   `json:"roll"`
	Pitch         float64   `json:"pitch"`
	EmergencyStop bool      `json:"emergency_stop"`
	ViewOffset    geom.Vec3 `json:"view_offset"`
}

// State is written by the control loop and read from other goroutines
// through Snapshot.
type State struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewState places the drone at initial with no pending motion.
func NewState(initial geom.Vec3) *State {
	return &State{snap: Snapshot{Position: initial, Target: initial}}
}

// Snapshot returns a copy taken under the lock.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// ProtocolState is the part of the snapshot sent to the decision service.
func (s *State) ProtocolState() protocol.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return protocol.State{Position: s.snap.Position, EmergencyStop: s.snap.EmergencyStop}
}

// Position returns the current position.
func (s *State) Position() geom.Vec3 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Position
}

// SetTarget overwrites the target position.
func (s *State) SetTarget(v geom.Vec3) {
	s.mu.Lock()
	s.snap.Target = v
	s.mu.Unlock()
}

// SetEmergencyStop sets the flag reported to the decision service.
func (s *State) SetEmergencyStop(on bool) {
	s.mu.Lock()
	s.snap.EmergencyStop = on
	s.mu.Unlock()
}

// ToggleEmergencyStop flips the flag and returns the new value.
func (s *State) ToggleEmergencyStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.EmergencyStop = !s.snap.EmergencyStop
	return s.snap.EmergencyStop
}

func (s *State) update(fn func(*Snapshot)) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.snap)
	return s.snap
}
