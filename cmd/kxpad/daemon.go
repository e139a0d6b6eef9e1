package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kxpad/kxpad/pkg/amp"
	"github.com/kxpad/kxpad/pkg/config"
	"github.com/kxpad/kxpad/pkg/coordinator"
	"github.com/kxpad/kxpad/pkg/link"
	"github.com/kxpad/kxpad/pkg/logging"
	"github.com/kxpad/kxpad/pkg/state"
	"github.com/kxpad/kxpad/pkg/surface"
)

// KXPADaemon wires the CAT link, the amplifier client, the shared state and
// both loops together, and fronts them with the web control surface.
type KXPADaemon struct {
	config *config.Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Core components
	catLink     *link.Client
	ampClient   amp.Client
	sharedState *state.State
	coord       *coordinator.Coordinator
	webSurface  *webSurface
	surfaceLoop *surface.Loop
	webServer   *http.Server
}

// NewKXPADaemon creates a new daemon instance. Opening the serial port
// happens here: a missing amplifier port is an init failure, not a runtime
// condition to retry.
func NewKXPADaemon(cfg *config.Config, mock bool) (*KXPADaemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	daemon := &KXPADaemon{
		config:      cfg,
		ctx:         ctx,
		cancel:      cancel,
		sharedState: state.New(),
	}

	if mock {
		daemon.ampClient = amp.NewMockAmp()
	} else {
		device, err := amp.Open(
			cfg.Serial.Device,
			cfg.Serial.BaudRate,
			time.Duration(cfg.Serial.SettleDelay)*time.Millisecond,
			time.Duration(cfg.Serial.ReadTimeout)*time.Millisecond,
		)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to open amplifier port: %w", err)
		}
		daemon.ampClient = device
	}

	addr := fmt.Sprintf("%s:%d", cfg.Link.Host, cfg.Link.Port)
	daemon.catLink = link.NewClient(&link.TCPDialer{Addr: addr})

	daemon.coord = coordinator.New(
		daemon.catLink,
		daemon.ampClient,
		daemon.sharedState,
		time.Duration(cfg.Poll.Interval)*time.Millisecond,
		time.Duration(cfg.Link.RequestTimeout)*time.Millisecond,
	)

	daemon.webSurface = newWebSurface()
	daemon.surfaceLoop = surface.New(
		daemon.webSurface,
		daemon.sharedState,
		time.Duration(cfg.Poll.DisplayRefresh)*time.Millisecond,
	)

	// Initialize web server
	if err := daemon.setupWebServer(); err != nil {
		cancel()
		daemon.ampClient.Close()
		return nil, fmt.Errorf("failed to setup web server: %w", err)
	}

	return daemon, nil
}

// Start starts the daemon
func (d *KXPADaemon) Start() error {
	logging.Info("daemon", "Starting kxpad daemon...")

	// The process only runs while the host network is up, so the link
	// starts in ReadyToConnect rather than waiting for an event.
	d.catLink.NotifyLinkUp()

	if err := d.coord.Start(); err != nil {
		return fmt.Errorf("failed to start coordinator: %w", err)
	}

	if err := d.surfaceLoop.Start(); err != nil {
		d.coord.Stop()
		return fmt.Errorf("failed to start surface loop: %w", err)
	}

	// Start web server
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		logging.Infof("daemon", "Starting web server on %s", d.webServer.Addr)
		if err := d.webServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Errorf("daemon", "Web server error: %v", err)
		}
	}()

	return nil
}

// Stop stops the daemon gracefully
func (d *KXPADaemon) Stop() error {
	logging.Info("daemon", "Stopping daemon...")

	d.cancel()

	// Shutdown web server
	if d.webServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.webServer.Shutdown(ctx); err != nil {
			logging.Errorf("daemon", "Web server shutdown error: %v", err)
		}
	}

	// Surface first so no render hits a stopping backend, then the
	// coordinator, then the port.
	d.surfaceLoop.Stop()
	d.coord.Stop()

	if d.ampClient != nil {
		if err := d.ampClient.Close(); err != nil {
			logging.Errorf("daemon", "Amplifier port close error: %v", err)
		}
	}

	// Wait for goroutines to finish
	d.wg.Wait()

	logging.Info("daemon", "Daemon stopped")
	return nil
}

// setupWebServer initializes the web server and routes
func (d *KXPADaemon) setupWebServer() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	// Main web interface
	router.GET("/", d.handleHome)

	// API routes
	api := router.Group("/api/v1")
	{
		api.GET("/status", d.handleGetStatus)
		api.GET("/bands", d.handleGetBands)
		api.POST("/band", d.handleBandAction)
	}

	// WebSocket for live frames + buttons
	router.GET("/ws", d.handleSurfaceWebSocket)

	addr := fmt.Sprintf("%s:%d", d.config.Web.BindAddress, d.config.Web.Port)
	d.webServer = &http.Server{
		Addr:    addr,
		Handler: router,
	}

	return nil
}
