package protocol

import "github.com/open-teleop/dronesim/pkg/geom"

// ResetMode is the mode identifier of the teardown message.
const ResetMode = "RESET"

// Point is the wire form of a position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// PointOf converts a vector to its wire form.
func PointOf(v geom.Vec3) Point {
	return Point{X: v.X(), Y: v.Y(), Z: v.Z()}
}

// Vec returns p as a vector.
func (p Point) Vec() geom.Vec3 {
	return geom.Vec3{p.X, p.Y, p.Z}
}

// HandshakeMessage opens a session: mode, waypoints and optional start.
type HandshakeMessage struct {
	Test          string  `json:"test"`
	Current       Point   `json:"current"`
	Targets       []Point `json:"targets"`
	EmergencyStop bool    `json:"emergency_stop"`
	Start         *Point  `json:"start,omitempty"`
}

// PollingMessage is sent on every exchange after the handshake.
type PollingMessage struct {
	Current       Point       `json:"current"`
	EmergencyStop bool        `json:"emergency_stop"`
	Lidar         [][]float64 `json:"lidar_below_drone"`
}

// ResetMessage is sent once when a scene is torn down.
type ResetMessage struct {
	Test    string  `json:"test"`
	Current Point   `json:"current"`
	Targets []Point `json:"targets"`
}

// NewResetMessage returns the fixed teardown message.
func NewResetMessage() ResetMessage {
	return ResetMessage{Test: ResetMode, Targets: []Point{}}
}

// Request is the union of every outbound shape, as seen by a decision
// service decoding it.
type Request struct {
	Test          *string     `json:"test,omitempty"`
	Current       *Point      `json:"current,omitempty"`
	Targets       []Point     `json:"targets,omitempty"`
	EmergencyStop bool        `json:"emergency_stop"`
	Start         *Point      `json:"start,omitempty"`
	Lidar         [][]float64 `json:"lidar_below_drone,omitempty"`
}

// CommandMessage is the inbound shape. Z is optional.
type CommandMessage struct {
	X float64  `json:"x"`
	Y float64  `json:"y"`
	Z *float64 `json:"z,omitempty"`
}
