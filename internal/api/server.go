package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nicholastmosher/easycom-sub000/internal/bridges/mqttrelay"
	"github.com/nicholastmosher/easycom-sub000/internal/connection"
	"github.com/nicholastmosher/easycom-sub000/internal/device"
	"github.com/nicholastmosher/easycom-sub000/internal/history"
	"github.com/nicholastmosher/easycom-sub000/internal/infrastructure/config"
	"github.com/nicholastmosher/easycom-sub000/internal/infrastructure/logging"
	"github.com/nicholastmosher/easycom-sub000/internal/infrastructure/mqtt"
	"github.com/nicholastmosher/easycom-sub000/internal/service"
	"github.com/nicholastmosher/easycom-sub000/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// defaultSendTimeout bounds POST /send when api.send_timeout is unset.
const defaultSendTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	// Required.
	Registry *connection.Registry
	Service  *service.Service
	Devices  *device.Manager

	// Optional.
	History  history.Repository
	Recorder *history.Recorder
	Metrics  *telemetry.Metrics
	MQTT     *mqtt.Client
	Relay    *mqttrelay.Relay
	Panel    http.Handler // served for every path outside /api/v1

	Version string
}

// Server is the HTTP API server for easycom.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg    config.APIConfig
	wsCfg  config.WebSocketConfig
	secCfg config.SecurityConfig
	logger *logging.Logger

	registry *connection.Registry
	service  *service.Service
	devices  *device.Manager
	history  history.Repository
	recorder *history.Recorder
	metrics  *telemetry.Metrics
	mqtt     *mqtt.Client
	relay    *mqttrelay.Relay
	panel    http.Handler

	version     string
	startTime   time.Time
	sendTimeout time.Duration

	server      *http.Server
	hub         *Hub
	limiter     *clientLimiter
	unsubscribe func()
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, registry, service, device manager)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("connection registry is required")
	}
	if deps.Service == nil {
		return nil, errors.New("connection service is required")
	}
	if deps.Devices == nil {
		return nil, errors.New("device manager is required")
	}

	sendTimeout := time.Duration(deps.Config.SendTimeout) * time.Second
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		secCfg:      deps.Security,
		logger:      deps.Logger.Component("api"),
		registry:    deps.Registry,
		service:     deps.Service,
		devices:     deps.Devices,
		history:     deps.History,
		recorder:    deps.Recorder,
		metrics:     deps.Metrics,
		mqtt:        deps.MQTT,
		relay:       deps.Relay,
		panel:       deps.Panel,
		version:     deps.Version,
		startTime:   time.Now(),
		sendTimeout: sendTimeout,
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	if rl := deps.Config.RateLimit; rl.Enabled {
		s.limiter = newClientLimiter(rl.RequestsPerMinute, rl.Burst)
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, subscribes it to the status bus, and
// launches the HTTP listener in a background goroutine. The server can be
// stopped with Close().
//
// Parameters:
//   - ctx: Parent context for the hub and limiter cleanup
//
// Returns:
//   - error: If the server was already started
func (s *Server) Start(ctx context.Context) error {
	if s.server != nil {
		return errors.New("api server already started")
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	s.unsubscribe = s.service.Subscribe(s.hub)

	if s.limiter != nil {
		go s.limiter.cleanupLoop(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It detaches the hub from the bus, waits up to 10 seconds for in-flight
// requests to complete, then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return errors.New("api server not started")
	}

	return nil
}

// authEnabled reports whether requests must carry a bearer token.
func (s *Server) authEnabled() bool {
	return s.secCfg.JWT.Secret != ""
}
