// Command decisionstub runs a local decision service for development. It
// serves the simulator protocol over HTTP and, optionally, ZeroMQ.
package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/open-teleop/dronesim/pkg/decision"
	customlog "github.com/open-teleop/dronesim/pkg/log"
)

func main() {
	port := flag.Int("port", 5000, "HTTP port for POST /compute")
	zmqAddr := flag.String("zmq", "", "Also serve on a ZeroMQ REP socket at this address (e.g. tcp://*:5555)")
	logLevel := flag.String("log-level", "info", "Log level")
	logDir := flag.String("log-dir", "", "Directory for the log file (empty = stdout only)")
	wait := flag.Duration("wait", 2*time.Second, "Hold time after reaching a target")
	flag.Parse()

	appLogger, err := customlog.NewLogrusLogger(*logLevel, *logDir)
	if err != nil {
		stdlog.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}

	cfg := decision.DefaultConfig()
	cfg.Wait = *wait
	engine := decision.NewEngine(cfg, appLogger)

	app := fiber.New(fiber.Config{
		AppName:               "dronesim decision stub",
		DisableStartupMessage: true,
	})
	app.Use(logger.New())
	app.Use(recover.New())
	decision.NewHandler(engine, appLogger).RegisterRoutes(app)

	var rep *decision.ReplyServer
	if *zmqAddr != "" {
		rep, err = decision.NewReplyServer(*zmqAddr, engine, appLogger)
		if err != nil {
			appLogger.Fatalf("Failed to start ZeroMQ server: %v", err)
		}
		rep.Start()
	}

	go func() {
		addr := fmt.Sprintf(":%d", *port)
		appLogger.Infof("Decision stub listening on %s%s", addr, decision.ComputePath)
		if err := app.Listen(addr); err != nil {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Infof("Shutting down decision stub...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if rep != nil {
		if err := rep.Close(); err != nil {
			appLogger.Errorf("Error closing ZeroMQ server: %v", err)
		}
	}
	if err := app.ShutdownWithContext(ctx); err != nil {
		appLogger.Errorf("Server forced to shutdown: %v", err)
	}
	appLogger.Infof("Decision stub exited properly")
}
