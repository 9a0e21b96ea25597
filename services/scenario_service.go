package services

import (
	"fmt"
	"os"
	"sync"

	"github.com/open-teleop/dronesim/pkg/config"
	customlog "github.com/open-teleop/dronesim/pkg/log"
)

// ScenarioPublisher announces scenario changes, e.g. on the telemetry socket.
type ScenarioPublisher interface {
	PublishScenarioUpdated(scenarioID string) error
}

// ValidationError marks an update rejected because of its content rather
// than an I/O failure.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidationError lets handlers map the error to a client error.
func (e *ValidationError) IsValidationError() bool { return true }

// ScenarioService manages the scenario file used to build the next scene.
// Updates are persisted and announced; the running scene keeps the
// scenario it was built with.
type ScenarioService interface {
	LoadScenario() error
	GetCurrentScenario() *config.Scenario
	GetCurrentScenarioYAML() ([]byte, error)
	UpdateScenario(newScenarioYAML []byte) error
	PersistScenario(yamlData []byte) error
	SetPublisher(p ScenarioPublisher)
}

type scenarioService struct {
	scenarioPath    string
	logger          customlog.Logger
	publisher       ScenarioPublisher
	currentScenario *config.Scenario
	mu              sync.RWMutex
}

// NewScenarioService creates a ScenarioService for scenarioPath. A failed
// initial load is logged and leaves the service without a scenario.
func NewScenarioService(scenarioPath string, logger customlog.Logger) (ScenarioService, error) {
	if scenarioPath == "" {
		return nil, fmt.Errorf("scenario path cannot be empty")
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}

	service := &scenarioService{
		scenarioPath: scenarioPath,
		logger:       logger,
	}

	if err := service.LoadScenario(); err != nil {
		logger.Warnf("Initial load of scenario '%s' failed: %v. Service created without a scenario.", scenarioPath, err)
		return service, nil
	}

	logger.Infof("ScenarioService initialized for path: %s", scenarioPath)
	return service, nil
}

// LoadScenario reads the scenario file from disk.
func (s *scenarioService) LoadScenario() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Infof("Loading scenario from: %s", s.scenarioPath)
	sc, err := config.LoadScenario(s.scenarioPath)
	if err != nil {
		s.currentScenario = nil
		return err
	}

	s.currentScenario = sc
	s.logger.Infof("Loaded scenario ID: %s, mode: %s", sc.ScenarioID, sc.Mode)
	return nil
}

// GetCurrentScenario returns the loaded scenario, or nil. Callers must not
// modify it.
func (s *scenarioService) GetCurrentScenario() *config.Scenario {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentScenario
}

// GetCurrentScenarioYAML returns the raw file content.
func (s *scenarioService) GetCurrentScenarioYAML() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.scenarioPath)
	if err != nil {
		s.logger.Errorf("Error reading scenario file '%s' for YAML export: %v", s.scenarioPath, err)
		return nil, fmt.Errorf("error reading scenario file '%s': %w", s.scenarioPath, err)
	}
	return data, nil
}

// UpdateScenario validates, persists and applies new scenario YAML, then
// notifies the publisher.
func (s *scenarioService) UpdateScenario(newScenarioYAML []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, err := config.ParseScenario(newScenarioYAML)
	if err != nil {
		s.logger.Errorf("Rejected scenario update: %v", err)
		return &ValidationError{Err: err}
	}
	if _, err := sc.BuildTerrain(); err != nil {
		s.logger.Errorf("Rejected scenario update: %v", err)
		return &ValidationError{Err: err}
	}

	if err := s.persistScenarioUnlocked(newScenarioYAML); err != nil {
		return err
	}

	oldID := "N/A"
	if s.currentScenario != nil {
		oldID = s.currentScenario.ScenarioID
	}
	s.currentScenario = sc
	s.logger.Infof("Scenario updated. ID %s -> %s, mode: %s", oldID, sc.ScenarioID, sc.Mode)

	if s.publisher != nil {
		go func(p ScenarioPublisher, id string) {
			if err := p.PublishScenarioUpdated(id); err != nil {
				s.logger.Warnf("Failed to publish scenario update notification: %v", err)
			}
		}(s.publisher, sc.ScenarioID)
	}
	return nil
}

// PersistScenario writes yamlData to the scenario path.
func (s *scenarioService) PersistScenario(yamlData []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistScenarioUnlocked(yamlData)
}

func (s *scenarioService) persistScenarioUnlocked(yamlData []byte) error {
	if err := os.WriteFile(s.scenarioPath, yamlData, 0644); err != nil {
		s.logger.Errorf("Error writing scenario file '%s': %v", s.scenarioPath, err)
		return fmt.Errorf("error writing scenario file '%s': %w", s.scenarioPath, err)
	}
	s.logger.Infof("Persisted scenario to %s", s.scenarioPath)
	return nil
}

// SetPublisher injects the publisher after construction.
func (s *scenarioService) SetPublisher(p ScenarioPublisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = p
}
