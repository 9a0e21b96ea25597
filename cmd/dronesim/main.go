// Command dronesim runs the drone LiDAR simulation headless: a fixed-rate
// control loop, the background decision worker and the operator API.
package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/open-teleop/dronesim/domain/diagnostic"
	"github.com/open-teleop/dronesim/domain/scene"
	"github.com/open-teleop/dronesim/pkg/api"
	"github.com/open-teleop/dronesim/pkg/config"
	customlog "github.com/open-teleop/dronesim/pkg/log"
	"github.com/open-teleop/dronesim/pkg/queue"
	"github.com/open-teleop/dronesim/pkg/sim"
	"github.com/open-teleop/dronesim/pkg/telemetry"
	"github.com/open-teleop/dronesim/pkg/transport"
	"github.com/open-teleop/dronesim/pkg/worker"
	"github.com/open-teleop/dronesim/services"
)

// uiInterval is how often status is pushed to websocket clients.
const uiInterval = 100 * time.Millisecond

func main() {
	configDir := flag.String("config", "config", "Directory containing sim_config.yaml")
	envFile := flag.String("env", ".env", "Optional .env file loaded before the config")
	autoStart := flag.Bool("start", false, "Start decision comms immediately")
	flag.Parse()

	if err := config.LoadEnvFiles(*envFile); err != nil {
		stdlog.Fatalf("FATAL: %v", err)
	}

	// --- Load Bootstrap Configuration ---
	bootstrapCfg, err := config.LoadBootstrapConfig(*configDir)
	if err != nil {
		stdlog.Fatalf("FATAL: Failed to load bootstrap config: %v", err)
	}

	// --- Initialize Logger ---
	appLogger, err := customlog.NewLogrusLogger(bootstrapCfg.Logging.Level, bootstrapCfg.Logging.LogPath)
	if err != nil {
		stdlog.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	appLogger.Infof("Bootstrap config loaded from %s", filepath.Join(*configDir, config.BootstrapFileName))

	// --- Scenario ---
	scenarios, err := services.NewScenarioService(bootstrapCfg.ScenarioPath(), appLogger)
	if err != nil {
		appLogger.Fatalf("Failed to create scenario service: %v", err)
	}
	scenario := scenarios.GetCurrentScenario()
	if scenario == nil {
		appLogger.Warnf("No scenario at %s, using the built-in survey", bootstrapCfg.ScenarioPath())
		scenario = config.DefaultScenario()
	}

	// --- Decision Client ---
	rt, err := transport.New(bootstrapCfg.Decision.Transport, bootstrapCfg.Decision.Endpoint)
	if err != nil {
		appLogger.Fatalf("Failed to create decision transport: %v", err)
	}
	client := transport.NewClient(rt, bootstrapCfg.DecisionTimeout(), appLogger)
	appLogger.Infof("Decision service: %s %s", bootstrapCfg.Decision.Transport, bootstrapCfg.Decision.Endpoint)

	// --- Telemetry ---
	var publisher *telemetry.Publisher
	if addr := bootstrapCfg.Telemetry.PublishAddress; addr != "" {
		publisher, err = telemetry.NewPublisher(addr, appLogger)
		if err != nil {
			appLogger.Fatalf("Failed to create telemetry publisher: %v", err)
		}
		scenarios.SetPublisher(publisher)
	}

	// --- Scene ---
	sceneCfg, err := sceneOptions(bootstrapCfg, scenario, client, appLogger)
	if err != nil {
		appLogger.Fatalf("Invalid scene options: %v", err)
	}
	drone, err := scene.New(sceneCfg)
	if err != nil {
		appLogger.Fatalf("Failed to create scene: %v", err)
	}
	if err := addObservers(drone, bootstrapCfg, publisher, appLogger); err != nil {
		appLogger.Fatalf("Failed to set up exchange observers: %v", err)
	}

	// --- Fiber App ---
	app := fiber.New(fiber.Config{
		AppName:               "dronesim",
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: true,
	})
	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "online",
			"service": "dronesim",
			"session": drone.ID(),
		})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	diagnosticService := diagnostic.NewDiagnosticService(drone)
	app.Group("/api").Group("/diagnostics").Get("/", diagnosticService.GetMetricsHandler)

	hub := api.NewHub(drone, appLogger)
	api.RegisterSceneRoutes(app, drone, appLogger)
	api.RegisterConfigRoutes(app, scenarios, appLogger)
	api.RegisterWebSocketRoutes(app, hub)

	go func() {
		addr := fmt.Sprintf(":%d", bootstrapCfg.Server.HTTPPort)
		appLogger.Infof("Operator API listening on %s", addr)
		if err := app.Listen(addr); err != nil {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	if *autoStart {
		if err := drone.Dispatch(scene.StartComms{}); err != nil {
			appLogger.Errorf("Failed to start comms: %v", err)
		}
	}

	// --- Control Loop ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	var renderer scene.Renderer
	if publisher != nil {
		renderer = publisher
	}
	runLoop(ctx, drone, renderer, hub, bootstrapCfg.TickInterval(), appLogger)

	// --- Shutdown ---
	appLogger.Infof("Shutting down simulator...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := drone.Close(shutdownCtx); err != nil {
		appLogger.Errorf("Error closing scene: %v", err)
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		appLogger.Errorf("Server forced to shutdown: %v", err)
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			appLogger.Errorf("Error closing telemetry publisher: %v", err)
		}
	}
	appLogger.Infof("Simulator exited properly")
}

func sceneOptions(cfg *config.BootstrapConfig, sc *config.Scenario, client transport.Exchanger, logger customlog.Logger) (scene.Options, error) {
	policy, err := queue.ParsePolicy(cfg.Worker.QueuePolicy)
	if err != nil {
		return scene.Options{}, err
	}
	loop := sim.DefaultConfig()
	loop.SmoothingRate = cfg.Control.SmoothingRate
	loop.SnapEpsilon = cfg.Control.SnapEpsilon
	loop.VelocityBlend = cfg.Control.VelocityBlend
	loop.TiltGain = cfg.Control.TiltGain
	loop.MaxTilt = cfg.Control.MaxTilt
	loop.TiltRate = cfg.Control.TiltRate

	return scene.Options{
		SessionID: uuid.NewString(),
		Scenario:  sc,
		Client:    client,
		Worker: worker.Config{
			Throttle:        cfg.Throttle(),
			ExchangeTimeout: cfg.DecisionTimeout(),
		},
		QueuePolicy:   policy,
		QueueCapacity: cfg.Worker.QueueCapacity,
		Loop:          loop,
		LidarSize:     cfg.Lidar.GridSize,
		LidarSpacing:  cfg.Lidar.Spacing,
		Logger:        logger,
	}, nil
}

// addObservers attaches the optional exchange outputs. The scene closes
// them on shutdown.
func addObservers(drone *scene.DroneScene, cfg *config.BootstrapConfig, publisher *telemetry.Publisher, logger customlog.Logger) error {
	var rp worker.RecordPublisher
	if publisher != nil {
		rp = publisher
	}
	drone.AddObserver(worker.NewLoggingObserver(logger, rp, telemetry.TopicExchange))

	if dir := cfg.Telemetry.SamplesDir; dir != "" {
		rec, err := telemetry.NewScanRecorder(dir, drone.ID(), cfg.Lidar.Spacing, logger)
		if err != nil {
			return err
		}
		drone.AddObserver(rec)
		logger.Infof("Recording scan samples to %s", rec.Path())
	}

	if j := cfg.Telemetry.Journal; j.Driver != "" {
		db, err := telemetry.OpenDatabase(j.Driver, j.DSN)
		if err != nil {
			return err
		}
		interval := time.Duration(j.FlushIntervalMs) * time.Millisecond
		drone.AddObserver(telemetry.NewJournal(db, drone.ID(), j.FlushSize, interval, logger))
		logger.Infof("Journaling exchanges to %s", j.Driver)
	}
	return nil
}

// runLoop ticks the scene at a fixed rate until ctx is done.
func runLoop(ctx context.Context, s scene.Scene, r scene.Renderer, p scene.Panel, interval time.Duration, logger customlog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	lastUI := last
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.OnUpdate(now.Sub(last).Seconds())
			last = now
			if r != nil {
				if err := s.OnRender(r); err != nil {
					logger.Debugf("Render failed: %v", err)
				}
			}
			if now.Sub(lastUI) >= uiInterval {
				lastUI = now
				if err := s.OnUIRender(p); err != nil {
					logger.Debugf("UI render failed: %v", err)
				}
			}
		}
	}
}

// Custom error handler
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
