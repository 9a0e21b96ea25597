package api

import (
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/open-teleop/dronesim/domain/scene"
	customlog "github.com/open-teleop/dronesim/pkg/log"
)

// SceneHandler holds dependencies for the state and control endpoints.
type SceneHandler struct {
	ctrl   Controller
	logger customlog.Logger
}

// NewSceneHandler creates a new handler for scene endpoints.
func NewSceneHandler(ctrl Controller, logger customlog.Logger) *SceneHandler {
	if ctrl == nil {
		panic("Controller cannot be nil in NewSceneHandler")
	}
	if logger == nil {
		panic("Logger cannot be nil in NewSceneHandler")
	}
	return &SceneHandler{ctrl: ctrl, logger: logger}
}

// RegisterSceneRoutes registers the state and control endpoints.
func RegisterSceneRoutes(app *fiber.App, ctrl Controller, logger customlog.Logger) {
	h := NewSceneHandler(ctrl, logger)

	v1 := app.Group("/api/v1")
	v1.Get("/state", h.handleGetState)
	v1.Get("/lidar", h.handleGetLidar)
	v1.Post("/control/start", h.handleStart)
	v1.Post("/control/emergency", h.handleEmergency)
	v1.Post("/targets", h.handleAddTarget)

	logger.Infof("Registered scene API endpoints under /api/v1")
}

func (h *SceneHandler) handleGetState(c *fiber.Ctx) error {
	return c.JSON(h.ctrl.Status())
}

func (h *SceneHandler) handleGetLidar(c *fiber.Ctx) error {
	grid := h.ctrl.Lidar()
	return c.JSON(LidarResponse{Size: grid.Size(), Grid: grid, Stats: grid.Stats()})
}

func (h *SceneHandler) handleStart(c *fiber.Ctx) error {
	return h.dispatch(c, scene.StartComms{})
}

func (h *SceneHandler) handleEmergency(c *fiber.Ctx) error {
	var req EmergencyRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("Invalid request body: %v", err),
			})
		}
	}
	return h.dispatch(c, req.Event())
}

func (h *SceneHandler) handleAddTarget(c *fiber.Ctx) error {
	var req TargetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("Invalid request body: %v", err),
		})
	}
	ev, err := req.Event()
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if !h.ctrl.CanAddTargets() {
		return c.Status(http.StatusConflict).JSON(fiber.Map{
			"error": "Targets can only be added to a waypoint or planar scene before comms start.",
		})
	}
	return h.dispatch(c, ev)
}

func (h *SceneHandler) dispatch(c *fiber.Ctx, ev scene.Event) error {
	if err := h.ctrl.Dispatch(ev); err != nil {
		h.logger.Errorf("Failed to dispatch %s: %v", ev.Name(), err)
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}
	h.logger.Debugf("Dispatched %s", ev.Name())
	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"message": "accepted",
		"event":   ev.Name(),
	})
}
