// Camera inspection: live threshold/morphology tuning with region statistics

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/theme"
	"github.com/akamensky/argparse"
	"github.com/sirupsen/logrus"

	"camera-inspection/internal/config"
	"camera-inspection/internal/core"
	"camera-inspection/internal/gui"
	"camera-inspection/internal/metrics"
	"camera-inspection/internal/web"
)

const (
	AppName    = "Camera Inspection"
	AppID      = "com.example.camera-inspection"
	AppVersion = "1.0.0"
)

func main() {
	parser := argparse.NewParser("camera-inspection", "Live camera threshold and morphology inspection")
	configFile := parser.String("c", "config", &argparse.Options{Help: "YAML configuration file", Default: ""})
	debugMode := parser.Flag("", "debug", &argparse.Options{Help: "Enable debug mode with verbose logging", Default: false})
	headless := parser.Flag("", "headless", &argparse.Options{Help: "Run without the desktop window (implies the web surface)", Default: false})
	device := parser.String("d", "device", &argparse.Options{Help: "Capture device index or stream URL", Default: ""})
	fallback := parser.String("f", "fallback", &argparse.Options{Help: "Still image shown when the camera is unavailable", Default: ""})
	snapshotDir := parser.String("s", "snapshot-dir", &argparse.Options{Help: "Directory for exported snapshots", Default: ""})
	addr := parser.String("", "addr", &argparse.Options{Help: "Serve the HTTP surface on this address", Default: ""})
	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger := initLogger(*debugMode)
	logger.WithFields(logrus.Fields{
		"version":    AppVersion,
		"debug_mode": *debugMode,
	}).Info("Starting " + AppName)

	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			logger.WithError(err).Fatal("Failed to load configuration")
		}
	}
	applyFlags(cfg, *device, *fallback, *snapshotDir, *addr, *headless)
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	if err := run(cfg, logger, *debugMode); err != nil {
		logger.WithError(err).Fatal("Application failed")
	}
	logger.Info("Application shutting down gracefully")
}

// applyFlags lets command line values win over the configuration file.
func applyFlags(cfg *config.Config, device, fallback, snapshotDir, addr string, headless bool) {
	if device != "" {
		cfg.Camera.Device = device
	}
	if fallback != "" {
		cfg.FallbackImage = fallback
	}
	if snapshotDir != "" {
		cfg.SnapshotDir = snapshotDir
	}
	if addr != "" {
		cfg.Web.Enabled = true
		cfg.Web.Addr = addr
	}
	if headless {
		cfg.GUI.Enabled = false
		cfg.Web.Enabled = true
	}
}

func run(cfg *config.Config, logger *logrus.Logger, debugMode bool) error {
	params, err := cfg.Parameters()
	if err != nil {
		return err
	}
	store, err := core.NewParameterStore(params)
	if err != nil {
		return err
	}
	recorder := metrics.NewRecorder()

	var sinks core.MultiSink
	var window *gui.Application
	if cfg.GUI.Enabled {
		a := app.NewWithID(AppID)
		a.SetIcon(theme.MediaVideoIcon())
		a.Settings().SetTheme(theme.DefaultTheme())
		window = gui.NewApplication(a, store, cfg.SnapshotDir, logger, debugMode)
		sinks = append(sinks, window)
	}

	var hub *web.Hub
	var webSink *web.Sink
	if cfg.Web.Enabled {
		hub = web.NewHub(logger)
		webSink = web.NewSink(hub, logger)
		sinks = append(sinks, webSink)
	}

	publisher := core.NewFramePublisher(sinks, recorder, logger)
	defer publisher.Close()

	loop := core.NewCaptureLoop(cfg.LoopConfig(), store, publisher, recorder, core.OpenVideoDevice, logger)

	store.OnChange(func(p core.PipelineParameters) {
		logger.WithField("params", p).Debug("Pipeline parameters changed")
		if window != nil {
			window.ParametersChanged(p)
		}
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if window != nil {
		window.Attach(loop)
	}
	if err := loop.Start(ctx); err != nil {
		return err
	}
	defer loop.Stop()

	webErr := make(chan error, 1)
	if cfg.Web.Enabled {
		server := web.NewServer(store, loop, webSink, hub, cfg.SnapshotDir, logger)
		go func() {
			webErr <- server.ListenAndServe(ctx, cfg.Web.Addr)
		}()
	}

	if window != nil {
		// the window owns the main goroutine; a signal closes it
		go func() {
			select {
			case <-ctx.Done():
				window.Quit()
			case <-loop.Done():
			}
		}()
		window.ShowAndRun()
		cancel()
		return waitWeb(cfg, webErr)
	}

	select {
	case <-ctx.Done():
	case <-loop.Done():
		cancel()
	case err := <-webErr:
		return err
	}
	return waitWeb(cfg, webErr)
}

func waitWeb(cfg *config.Config, webErr <-chan error) error {
	if !cfg.Web.Enabled {
		return nil
	}
	return <-webErr
}

// initLogger initializes the logger with appropriate level
func initLogger(debugMode bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	if debugMode {
		logger.SetLevel(logrus.DebugLevel)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			ForceColors:   true,
		})
		logger.Debug("Debug logging enabled")
	} else {
		logger.SetLevel(logrus.InfoLevel)
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	return logger
}
