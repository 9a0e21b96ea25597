package decision

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	customlog "github.com/open-teleop/dronesim/pkg/log"
	"github.com/open-teleop/dronesim/pkg/protocol"
)

// ComputePath is where the simulator posts its messages.
const ComputePath = "/compute"

// ErrorResponse is the body of a rejected request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Reply computes the status and body for one raw request. It is shared by
// the HTTP and ZeroMQ front ends.
func (e *Engine) Reply(body []byte) (int, interface{}) {
	var req protocol.Request
	if err := json.Unmarshal(body, &req); err != nil {
		return fiber.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("Invalid JSON: %v", err)}
	}
	next, err := e.Compute(req)
	if errors.Is(err, ErrMissingCurrent) {
		return fiber.StatusBadRequest, ErrorResponse{Error: err.Error()}
	}
	if err != nil {
		return fiber.StatusInternalServerError, ErrorResponse{Error: err.Error()}
	}
	z := next.Z()
	return fiber.StatusOK, protocol.CommandMessage{X: next.X(), Y: next.Y(), Z: &z}
}

// Handler serves the engine over HTTP.
type Handler struct {
	engine *Engine
	logger customlog.Logger
}

// NewHandler creates a new decision handler.
func NewHandler(engine *Engine, logger customlog.Logger) *Handler {
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	return &Handler{engine: engine, logger: logger}
}

// RegisterRoutes registers the decision routes with the Fiber app.
func (h *Handler) RegisterRoutes(app *fiber.App) {
	app.Post(ComputePath, h.Compute)
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "mode": h.engine.Mode()})
	})
}

// Compute handles POST /compute.
func (h *Handler) Compute(c *fiber.Ctx) error {
	status, body := h.engine.Reply(c.Body())
	if status != fiber.StatusOK {
		h.logger.Warnf("Rejected request from %s: %v", c.IP(), body)
	}
	return c.Status(status).JSON(body)
}
