package api

import (
	"fmt"

	"github.com/open-teleop/dronesim/domain/scene"
	"github.com/open-teleop/dronesim/pkg/geom"
	"github.com/open-teleop/dronesim/pkg/lidar"
	"github.com/open-teleop/dronesim/pkg/protocol"
)

// Controller is the part of a scene the API drives.
type Controller interface {
	Dispatch(ev scene.Event) error
	Status() scene.Status
	Lidar() lidar.Grid
	CanAddTargets() bool
}

// RayRequest is a pick ray in world space.
type RayRequest struct {
	Origin protocol.Point `json:"origin"`
	Dir    protocol.Point `json:"dir"`
}

// TargetRequest adds a waypoint, either explicitly or by picking.
type TargetRequest struct {
	Point *protocol.Point `json:"point,omitempty"`
	Ray   *RayRequest     `json:"ray,omitempty"`
}

// EmergencyRequest sets the emergency flag; a missing On toggles it.
type EmergencyRequest struct {
	On *bool `json:"on,omitempty"`
}

// LidarResponse is the body of GET /api/v1/lidar.
type LidarResponse struct {
	Size  int         `json:"size"`
	Grid  lidar.Grid  `json:"grid"`
	Stats lidar.Stats `json:"stats"`
}

// ControlMessage is an operator command received over the websocket.
type ControlMessage struct {
	Type  string          `json:"type"`
	On    *bool           `json:"on,omitempty"`
	Point *protocol.Point `json:"point,omitempty"`
	Ray   *RayRequest     `json:"ray,omitempty"`
}

// Event converts the request to a scene event.
func (r TargetRequest) Event() (scene.Event, error) {
	switch {
	case r.Point != nil && r.Ray != nil:
		return nil, fmt.Errorf("give either point or ray, not both")
	case r.Point != nil:
		return scene.AddTarget{Point: r.Point.Vec()}, nil
	case r.Ray != nil:
		dir := r.Ray.Dir.Vec()
		if dir.Len() == 0 {
			return nil, fmt.Errorf("ray direction must be non-zero")
		}
		return scene.PickTarget{Ray: geom.Ray{Origin: r.Ray.Origin.Vec(), Dir: dir.Normalize()}}, nil
	default:
		return nil, fmt.Errorf("missing point or ray")
	}
}

// Event converts the request to a scene event.
func (r EmergencyRequest) Event() scene.Event {
	if r.On == nil {
		return scene.ToggleEmergencyStop{}
	}
	return scene.SetEmergencyStop{On: *r.On}
}

// Event converts the message to a scene event.
func (m ControlMessage) Event() (scene.Event, error) {
	switch m.Type {
	case "start":
		return scene.StartComms{}, nil
	case "emergency":
		return EmergencyRequest{On: m.On}.Event(), nil
	case "target":
		return TargetRequest{Point: m.Point, Ray: m.Ray}.Event()
	default:
		return nil, fmt.Errorf("unknown control message type '%s'", m.Type)
	}
}
