// Package protocol builds the JSON messages exchanged with the decision
// service and parses its replies.
//
// A Session moves through two explicit phases. The first message carries
// the mode identifier and the waypoint list (Handshake); every later
// message carries the latest lidar grid instead (Polling).
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/open-teleop/dronesim/pkg/geom"
	"github.com/open-teleop/dronesim/pkg/lidar"
)

var (
	// ErrMalformedCommand is returned when a reply is not a valid command.
	ErrMalformedCommand = errors.New("malformed command")

	// ErrSessionStarted is returned when targets are added after the handshake.
	ErrSessionStarted = errors.New("session already past handshake")
)

// Phase is the protocol state of a Session.
type Phase int

const (
	PhaseHandshake Phase = iota
	PhasePolling
)

func (p Phase) String() string {
	switch p {
	case PhaseHandshake:
		return "handshake"
	case PhasePolling:
		return "polling"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is the part of the simulation a message is built from.
type State struct {
	Position      geom.Vec3
	EmergencyStop bool
}

// Session holds the per-scene protocol state.
type Session struct {
	mu      sync.Mutex
	mode    string
	start   *geom.Vec3
	targets []geom.Vec3
	phase   Phase
}

// NewSession creates a session in the Handshake phase. start may be nil.
func NewSession(mode string, start *geom.Vec3, targets []geom.Vec3) *Session {
	s := &Session{mode: mode, targets: append([]geom.Vec3(nil), targets...)}
	if start != nil {
		st := *start
		s.start = &st
	}
	return s
}

// Mode returns the mode identifier sent in the handshake.
func (s *Session) Mode() string {
	return s.mode
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// AddTarget appends a waypoint. Only valid before the handshake is sent.
func (s *Session) AddTarget(v geom.Vec3) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseHandshake {
		return ErrSessionStarted
	}
	s.targets = append(s.targets, v)
	return nil
}

// Targets returns a copy of the waypoint list.
func (s *Session) Targets() []geom.Vec3 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]geom.Vec3(nil), s.targets...)
}

// Rewind returns the session to the Handshake phase so the next Encode
// resends mode and targets.
func (s *Session) Rewind() {
	s.mu.Lock()
	s.phase = PhaseHandshake
	s.mu.Unlock()
}

// Build returns the message for the current phase and advances a
// Handshake session to Polling. grid is ignored during the handshake.
func (s *Session) Build(st State, grid lidar.Grid) (interface{}, Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseHandshake {
		msg := HandshakeMessage{
			Test:          s.mode,
			Current:       PointOf(st.Position),
			Targets:       make([]Point, len(s.targets)),
			EmergencyStop: st.EmergencyStop,
		}
		for i, t := range s.targets {
			msg.Targets[i] = PointOf(t)
		}
		if s.start != nil {
			p := PointOf(*s.start)
			msg.Start = &p
		}
		s.phase = PhasePolling
		return msg, PhaseHandshake
	}

	if grid == nil {
		grid = lidar.Grid{}
	}
	return PollingMessage{
		Current:       PointOf(st.Position),
		EmergencyStop: st.EmergencyStop,
		Lidar:         grid.Clone(),
	}, PhasePolling
}

// Encode is Build followed by JSON encoding. The returned phase is the
// phase of the encoded message.
func (s *Session) Encode(st State, grid lidar.Grid) ([]byte, Phase, error) {
	msg, phase := s.Build(st, grid)
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, phase, fmt.Errorf("encoding %s message: %w", phase, err)
	}
	return data, phase, nil
}

// EncodeReset returns the teardown message body.
func EncodeReset() ([]byte, error) {
	return json.Marshal(NewResetMessage())
}

// Command is a target position requested by the decision service.
type Command struct {
	X, Y, Z float64
	HasZ    bool
}

// Apply overwrites target with the command. Z is kept when absent.
func (c Command) Apply(target geom.Vec3) geom.Vec3 {
	z := target.Z()
	if c.HasZ {
		z = c.Z
	}
	return geom.Vec3{c.X, c.Y, z}
}

// Vec returns the command as a vector, using z when the command has none.
func (c Command) Vec(z float64) geom.Vec3 {
	return c.Apply(geom.Vec3{0, 0, z})
}

// DecodeCommand parses a reply. x and y are required, z is optional.
func DecodeCommand(data []byte) (Command, error) {
	var raw struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
		Z *float64 `json:"z"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	if raw.X == nil || raw.Y == nil {
		return Command{}, fmt.Errorf("%w: missing x or y in %q", ErrMalformedCommand, truncate(data, 128))
	}
	cmd := Command{X: *raw.X, Y: *raw.Y}
	if raw.Z != nil {
		cmd.Z, cmd.HasZ = *raw.Z, true
	}
	return cmd, nil
}

// EncodeCommand is the reply side of DecodeCommand.
func EncodeCommand(c Command) ([]byte, error) {
	msg := CommandMessage{X: c.X, Y: c.Y}
	if c.HasZ {
		z := c.Z
		msg.Z = &z
	}
	return json.Marshal(msg)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
