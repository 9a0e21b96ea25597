package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/open-teleop/dronesim/pkg/queue"
	"gopkg.in/yaml.v3"
)

// BootstrapFileName is the file LoadBootstrapConfig reads from the config directory.
const BootstrapFileName = "sim_config.yaml"

// Environment overrides.
const (
	EnvDecisionEndpoint  = "DRONESIM_DECISION_ENDPOINT"
	EnvDecisionTransport = "DRONESIM_DECISION_TRANSPORT"
	EnvHTTPPort          = "DRONESIM_HTTP_PORT"
	EnvLogLevel          = "DRONESIM_LOG_LEVEL"
)

// BootstrapConfig holds the process configuration loaded from sim_config.yaml
type BootstrapConfig struct {
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Decision  DecisionConfig  `yaml:"decision" json:"decision"`
	Worker    WorkerConfig    `yaml:"worker" json:"worker"`
	Control   ControlConfig   `yaml:"control" json:"control"`
	Lidar     LidarConfig     `yaml:"lidar" json:"lidar"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Data      DataConfig      `yaml:"data" json:"data"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level   string `yaml:"level" json:"level"`
	LogPath string `yaml:"log_path,omitempty" json:"log_path,omitempty"`
}

// ServerConfig holds the operator API settings
type ServerConfig struct {
	HTTPPort int `yaml:"http_port" json:"http_port"`
}

// DecisionConfig locates the decision service
type DecisionConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	TimeoutMs int    `yaml:"timeout_ms" json:"timeout_ms"`
}

// WorkerConfig tunes the background exchange loop
type WorkerConfig struct {
	ThrottleMs    int    `yaml:"throttle_ms" json:"throttle_ms"`
	QueuePolicy   string `yaml:"queue_policy" json:"queue_policy"`
	QueueCapacity int    `yaml:"queue_capacity" json:"queue_capacity"`
}

// ControlConfig tunes the per-frame smoothing
type ControlConfig struct {
	TickHz        int     `yaml:"tick_hz" json:"tick_hz"`
	SmoothingRate float64 `yaml:"smoothing_rate" json:"smoothing_rate"`
	SnapEpsilon   float64 `yaml:"snap_epsilon" json:"snap_epsilon"`
	VelocityBlend float64 `yaml:"velocity_blend" json:"velocity_blend"`
	TiltGain      float64 `yaml:"tilt_gain" json:"tilt_gain"`
	MaxTilt       float64 `yaml:"max_tilt" json:"max_tilt"`
	TiltRate      float64 `yaml:"tilt_rate" json:"tilt_rate"`
}

// LidarConfig sizes the scan grid
type LidarConfig struct {
	GridSize int     `yaml:"grid_size" json:"grid_size"`
	Spacing  float64 `yaml:"spacing" json:"spacing"`
}

// TelemetryConfig enables the optional outputs. Empty values disable them.
type TelemetryConfig struct {
	PublishAddress string        `yaml:"publish_address" json:"publish_address"`
	SamplesDir     string        `yaml:"samples_dir" json:"samples_dir"`
	Journal        JournalConfig `yaml:"journal" json:"journal"`
}

// JournalConfig selects the exchange journal database
type JournalConfig struct {
	Driver          string `yaml:"driver" json:"driver"`
	DSN             string `yaml:"dsn" json:"dsn"`
	FlushSize       int    `yaml:"flush_size" json:"flush_size"`
	FlushIntervalMs int    `yaml:"flush_interval_ms" json:"flush_interval_ms"`
}

// DataConfig holds data directory settings
type DataConfig struct {
	Directory    string `yaml:"directory" json:"directory"`
	ScenarioFile string `yaml:"scenario_file" json:"scenario_file"`
}

// Throttle returns the worker throttle interval.
func (c *BootstrapConfig) Throttle() time.Duration {
	return time.Duration(c.Worker.ThrottleMs) * time.Millisecond
}

// DecisionTimeout returns the per-exchange timeout.
func (c *BootstrapConfig) DecisionTimeout() time.Duration {
	return time.Duration(c.Decision.TimeoutMs) * time.Millisecond
}

// TickInterval returns the control loop period.
func (c *BootstrapConfig) TickInterval() time.Duration {
	return time.Second / time.Duration(c.Control.TickHz)
}

// ScenarioPath returns the scenario file inside the data directory.
func (c *BootstrapConfig) ScenarioPath() string {
	return filepath.Join(c.Data.Directory, c.Data.ScenarioFile)
}

// LoadEnvFiles loads .env style files into the process environment.
// Missing files are ignored.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("error loading env file '%s': %w", p, err)
		}
	}
	return nil
}

// LoadBootstrapConfig loads the bootstrap configuration from sim_config.yaml,
// applies defaults and environment overrides, then validates it.
func LoadBootstrapConfig(configDir string) (*BootstrapConfig, error) {
	bootstrapConfigPath := filepath.Join(configDir, BootstrapFileName)

	data, err := os.ReadFile(bootstrapConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error reading bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	var bootstrapCfg BootstrapConfig
	if err := yaml.Unmarshal(data, &bootstrapCfg); err != nil {
		return nil, fmt.Errorf("error parsing bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	bootstrapCfg.applyDefaults()
	if err := bootstrapCfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := bootstrapCfg.Validate(); err != nil {
		return nil, err
	}
	return &bootstrapCfg, nil
}

func (c *BootstrapConfig) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8080
	}
	if c.Decision.Transport == "" {
		c.Decision.Transport = "http"
	}
	if c.Decision.TimeoutMs == 0 {
		c.Decision.TimeoutMs = 2000
	}
	if c.Worker.ThrottleMs == 0 {
		c.Worker.ThrottleMs = 250
	}
	if c.Worker.QueuePolicy == "" {
		c.Worker.QueuePolicy = "unbounded"
	}
	if c.Control.TickHz == 0 {
		c.Control.TickHz = 60
	}
	if c.Control.SmoothingRate == 0 {
		c.Control.SmoothingRate = 4.0
	}
	if c.Control.SnapEpsilon == 0 {
		c.Control.SnapEpsilon = 1.0
	}
	if c.Control.VelocityBlend == 0 {
		c.Control.VelocityBlend = 0.2
	}
	if c.Control.TiltGain == 0 {
		c.Control.TiltGain = 0.05
	}
	if c.Control.MaxTilt == 0 {
		c.Control.MaxTilt = 0.3
	}
	if c.Control.TiltRate == 0 {
		c.Control.TiltRate = 5.0
	}
	if c.Lidar.GridSize == 0 {
		c.Lidar.GridSize = 5
	}
	if c.Lidar.Spacing == 0 {
		c.Lidar.Spacing = 25
	}
	if c.Telemetry.Journal.FlushSize == 0 {
		c.Telemetry.Journal.FlushSize = 50
	}
	if c.Telemetry.Journal.FlushIntervalMs == 0 {
		c.Telemetry.Journal.FlushIntervalMs = 5000
	}
}

func (c *BootstrapConfig) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDecisionEndpoint); ok && v != "" {
		c.Decision.Endpoint = v
	}
	if v, ok := lookup(EnvDecisionTransport); ok && v != "" {
		c.Decision.Transport = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup(EnvHTTPPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", EnvHTTPPort, v, err)
		}
		c.Server.HTTPPort = port
	}
	return nil
}

// Validate checks required fields and value ranges.
func (c *BootstrapConfig) Validate() error {
	if c.Decision.Endpoint == "" {
		return fmt.Errorf("missing required field in bootstrap config: decision.endpoint")
	}
	switch c.Decision.Transport {
	case "http", "zmq":
	default:
		return fmt.Errorf("invalid decision.transport '%s': expected http or zmq", c.Decision.Transport)
	}
	if c.Data.Directory == "" {
		return fmt.Errorf("missing required field in bootstrap config: data.directory")
	}
	if c.Data.ScenarioFile == "" {
		return fmt.Errorf("missing required field in bootstrap config: data.scenario_file")
	}
	if c.Lidar.GridSize < 1 || c.Lidar.GridSize%2 == 0 {
		return fmt.Errorf("invalid lidar.grid_size %d: must be a positive odd number", c.Lidar.GridSize)
	}
	if c.Lidar.Spacing <= 0 {
		return fmt.Errorf("invalid lidar.spacing %g: must be positive", c.Lidar.Spacing)
	}
	if c.Control.TickHz < 1 {
		return fmt.Errorf("invalid control.tick_hz %d", c.Control.TickHz)
	}
	policy, err := queue.ParsePolicy(c.Worker.QueuePolicy)
	if err != nil {
		return fmt.Errorf("invalid worker.queue_policy: %w", err)
	}
	if policy != queue.Unbounded && c.Worker.QueueCapacity <= 0 {
		return fmt.Errorf("worker.queue_capacity must be positive for policy '%s'", c.Worker.QueuePolicy)
	}
	if c.Telemetry.Journal.Driver != "" && c.Telemetry.Journal.DSN == "" {
		return fmt.Errorf("missing required field in bootstrap config: telemetry.journal.dsn")
	}
	return nil
}
