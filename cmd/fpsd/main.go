package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	fps "github.com/sdss/fps-core"
	"github.com/sdss/fps-core/internal/config"
	"github.com/sdss/fps-core/internal/observer"

	_ "github.com/sdss/fps-core/pkg/can/cannet"
	_ "github.com/sdss/fps-core/pkg/can/slcan"
	_ "github.com/sdss/fps-core/pkg/can/socketcan"
	_ "github.com/sdss/fps-core/pkg/can/virtual"
)

var defaultConfigPath = "/etc/fps/fps.cfg"
var defaultLockPath = "/var/run/fps.lock"

func main() {
	log.SetLevel(log.InfoLevel)

	configPath := flag.String("c", defaultConfigPath, "configuration file path")
	lockPath := flag.String("lock", defaultLockPath, "PID lock file path")
	verbose := flag.Bool("v", false, "enable debug logging")
	gotoPositioner := flag.Int("goto-positioner", -1, "if set, drive this positioner id to -alpha/-beta and exit")
	alpha := flag.Float64("alpha", 0, "target alpha angle (degrees), used with -goto-positioner")
	beta := flag.Float64("beta", 180, "target beta angle (degrees), used with -goto-positioner")
	speed := flag.Float64("speed", 0, "move speed (rpm); 0 uses the configured default")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("failed to load configuration %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	supervisor, err := fps.GetFPS(cfg)
	if err != nil {
		fmt.Printf("failed to create FPS supervisor: %v\n", err)
		os.Exit(1)
	}
	supervisor.AddObserver(logObserver{})

	if err := supervisor.Start(*lockPath); err != nil {
		fmt.Printf("failed to start FPS supervisor: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = supervisor.Initialise(ctx)
	cancel()
	if err != nil {
		log.WithError(err).Error("initialise failed")
	}

	if *gotoPositioner >= 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := supervisor.Goto(ctx, uint16(*gotoPositioner), *alpha, *beta, *speed)
		cancel()
		if err != nil {
			fmt.Printf("goto failed: %v\n", err)
			supervisor.Shutdown()
			os.Exit(1)
		}
		supervisor.Shutdown()
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	if err := supervisor.Shutdown(); err != nil {
		log.WithError(err).Warn("error during shutdown")
	}
}

// logObserver is the seam an external actor/metrics layer would attach to;
// here it just re-emits every event at the matching logrus level.
type logObserver struct{}

func (logObserver) Notify(e observer.Event) {
	entry := log.WithFields(log.Fields(e.Fields))
	switch e.Level {
	case "error":
		entry.Error(e.Message)
	case "warning":
		entry.Warn(e.Message)
	case "debug":
		entry.Debug(e.Message)
	default:
		entry.Info(e.Message)
	}
}
