package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
	customlog "github.com/open-teleop/dronesim/pkg/log"
	"github.com/open-teleop/dronesim/services"
)

// ConfigHandler holds dependencies for the scenario configuration endpoints.
type ConfigHandler struct {
	scenarios services.ScenarioService
	logger    customlog.Logger
}

// NewConfigHandler creates a new handler for configuration endpoints.
func NewConfigHandler(scenarios services.ScenarioService, logger customlog.Logger) *ConfigHandler {
	if scenarios == nil {
		panic("ScenarioService cannot be nil in NewConfigHandler")
	}
	if logger == nil {
		panic("Logger cannot be nil in NewConfigHandler")
	}
	return &ConfigHandler{scenarios: scenarios, logger: logger}
}

// RegisterConfigRoutes registers the scenario configuration endpoints.
func RegisterConfigRoutes(app *fiber.App, scenarios services.ScenarioService, logger customlog.Logger) {
	h := NewConfigHandler(scenarios, logger)

	apiGroup := app.Group("/api/v1/config")
	apiGroup.Get("/scenario", h.handleGetScenario)
	apiGroup.Put("/scenario", h.handleUpdateScenario)

	logger.Infof("Registered scenario configuration API endpoints under /api/v1/config")
}

func (h *ConfigHandler) handleGetScenario(c *fiber.Ctx) error {
	h.logger.Debugf("Handling GET request for /api/v1/config/scenario")
	yamlData, err := h.scenarios.GetCurrentScenarioYAML()
	if err != nil {
		h.logger.Errorf("Failed to get current scenario YAML: %v", err)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Failed to retrieve scenario: %v", err),
		})
	}
	if len(yamlData) == 0 {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{
			"error": "Scenario not found or not yet set.",
		})
	}

	c.Set(fiber.HeaderContentType, "application/x-yaml")
	return c.Send(yamlData)
}

func (h *ConfigHandler) handleUpdateScenario(c *fiber.Ctx) error {
	h.logger.Debugf("Handling PUT request for /api/v1/config/scenario")

	switch ct := c.Get(fiber.HeaderContentType); ct {
	case "application/x-yaml", "application/yaml", "text/yaml":
	default:
		// Accept anyway; the body is validated by parsing.
		h.logger.Warnf("Received PUT request with unexpected Content-Type: %s", ct)
	}

	body := c.Body()
	if len(body) == 0 {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Request body cannot be empty.",
		})
	}

	if err := h.scenarios.UpdateScenario(body); err != nil {
		h.logger.Errorf("Failed to update scenario: %v", err)
		var verr *services.ValidationError
		if errors.As(err, &verr) {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("Scenario update failed: %v", err),
			})
		}
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Internal server error during scenario update: %v", err),
		})
	}

	h.logger.Infof("Scenario updated through the API")
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"message": "Scenario updated successfully. It applies to the next session.",
	})
}
