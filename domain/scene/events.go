package scene

import (
	"fmt"

	"github.com/open-teleop/dronesim/pkg/geom"
)

// Event is an operator input delivered to a scene through Dispatch.
// Events are applied on the update goroutine, in arrival order.
type Event interface {
	Name() string
}

// StartComms starts the control worker. Repeated starts are ignored.
type StartComms struct{}

// ToggleEmergencyStop flips the emergency flag.
type ToggleEmergencyStop struct{}

// SetEmergencyStop forces the emergency flag.
type SetEmergencyStop struct {
	On bool
}

// AddTarget appends an explicit waypoint before the handshake.
type AddTarget struct {
	Point geom.Vec3
}

// PickTarget casts Ray into the terrain and adds the closest hit as a
// waypoint. A ray that misses is ignored.
type PickTarget struct {
	Ray geom.Ray
}

func (StartComms) Name() string          { return "start_comms" }
func (ToggleEmergencyStop) Name() string { return "toggle_emergency_stop" }
func (SetEmergencyStop) Name() string    { return "set_emergency_stop" }
func (AddTarget) Name() string           { return "add_target" }
func (PickTarget) Name() string          { return "pick_target" }

func (e SetEmergencyStop) String() string {
	return fmt.Sprintf("%s(%t)", e.Name(), e.On)
}

func (e AddTarget) String() string {
	return fmt.Sprintf("%s(%.1f, %.1f, %.1f)", e.Name(), e.Point.X(), e.Point.Y(), e.Point.Z())
}
