package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kxpad/kxpad/pkg/config"
	"github.com/kxpad/kxpad/pkg/logging"
	"github.com/kxpad/kxpad/pkg/verbose"
)

var (
	configPath  = flag.String("config", "config.yaml", "Configuration file path")
	version     = flag.Bool("version", false, "Show version information")
	verboseFlag = flag.Bool("verbose", false, "Enable verbose wire-level traces")
	mockAmp     = flag.Bool("mock", false, "Use a mock amplifier instead of the serial port")
)

const (
	Version = "0.1.0-dev"
	Build   = "development"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("kxpad version %s (%s)\n", Version, Build)
		os.Exit(0)
	}

	verbose.SetEnabled(*verboseFlag)

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize logging system
	if err := logging.InitGlobalLogger(cfg); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.CloseGlobalLogger()

	logging.Info("main", fmt.Sprintf("kxpad version %s starting...", Version))
	logging.Info("main", fmt.Sprintf("CAT server: %s:%d", cfg.Link.Host, cfg.Link.Port))
	if *mockAmp {
		logging.Info("main", "Amplifier: mock")
	} else {
		logging.Info("main", fmt.Sprintf("Amplifier: KXPA100 on %s @ %d baud", cfg.Serial.Device, cfg.Serial.BaudRate))
	}
	logging.Info("main", fmt.Sprintf("Web interface: http://%s:%d", cfg.Web.BindAddress, cfg.Web.Port))

	// Create the daemon
	daemon, err := NewKXPADaemon(cfg, *mockAmp)
	if err != nil {
		logging.Error("main", fmt.Sprintf("Failed to create daemon: %v", err))
		os.Exit(1)
	}

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start the daemon
	if err := daemon.Start(); err != nil {
		logging.Error("main", fmt.Sprintf("Failed to start daemon: %v", err))
		os.Exit(1)
	}

	logging.Info("main", "kxpad started successfully")

	// Wait for shutdown signal
	<-sigChan
	logging.Info("main", "Shutting down...")

	if err := daemon.Stop(); err != nil {
		logging.Error("main", fmt.Sprintf("Error during shutdown: %v", err))
	}

	logging.Info("main", "kxpad stopped")
}
