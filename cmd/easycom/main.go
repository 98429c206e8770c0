// easycom - Connection Manager
//
// This is the main entry point for the easycom daemon. easycom keeps a
// registry of serial-style links to external devices (Bluetooth RFCOMM,
// TCP), connects and disconnects them on request, streams received data
// and publishes every status change on a single bus that the REST API,
// WebSocket hub, MQTT relay, history recorder and telemetry observe.
//
// Usage:
//
//	easycom                       run the daemon
//	easycom token [flags]         print an API access token
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nicholastmosher/easycom-sub000/internal/api"
	"github.com/nicholastmosher/easycom-sub000/internal/bridges/mqttrelay"
	"github.com/nicholastmosher/easycom-sub000/internal/connection"
	"github.com/nicholastmosher/easycom-sub000/internal/device"
	"github.com/nicholastmosher/easycom-sub000/internal/history"
	"github.com/nicholastmosher/easycom-sub000/internal/infrastructure/config"
	"github.com/nicholastmosher/easycom-sub000/internal/infrastructure/database"
	"github.com/nicholastmosher/easycom-sub000/internal/infrastructure/influxdb"
	"github.com/nicholastmosher/easycom-sub000/internal/infrastructure/logging"
	"github.com/nicholastmosher/easycom-sub000/internal/infrastructure/mqtt"
	"github.com/nicholastmosher/easycom-sub000/internal/panel"
	"github.com/nicholastmosher/easycom-sub000/internal/service"
	"github.com/nicholastmosher/easycom-sub000/internal/statusbus"
	"github.com/nicholastmosher/easycom-sub000/internal/telemetry"
	"github.com/nicholastmosher/easycom-sub000/internal/transport/rfcomm"
	"github.com/nicholastmosher/easycom-sub000/internal/transport/tcp"
	"github.com/nicholastmosher/easycom-sub000/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnv names the environment variable that overrides the config path.
const configEnv = "EASYCOM_CONFIG"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting easycom",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath, explicit := getConfigPath()
	cfg, err := loadConfig(configPath, explicit)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete", "applied", applied)

	registry := connection.NewRegistry()
	bus := statusbus.New()
	bus.SetLogger(log.Component("statusbus"))

	// History is subscribed to the bus before the service exists so that
	// the disconnects published by service.Close are still recorded.
	var (
		historyRepo history.Repository
		recorder    *history.Recorder
	)
	if cfg.History.Enabled {
		historyRepo = history.NewSQLiteRepository(db.DB)
		recorder, err = history.NewRecorder(history.RecorderOptions{
			Repository: historyRepo,
			Registry:   registry,
			Retention:  cfg.History.GetHistoryRetention(),
			Logger:     log.Component("history"),
		})
		if err != nil {
			return fmt.Errorf("creating history recorder: %w", err)
		}
		recorder.Start(ctx)
		unsubscribe := bus.Subscribe(recorder)
		defer func() {
			log.Info("stopping history recorder")
			unsubscribe()
			recorder.Stop()
		}()
		log.Info("history recorder started", "retention_days", cfg.History.RetentionDays)
	} else {
		log.Info("connection history disabled")
	}

	transports, closeTransports := buildTransports(ctx, cfg, log)
	defer closeTransports()

	// Zero in the config file means no retries; the service reads zero as
	// "use the default".
	maxRetries := cfg.Connections.MaxRetries
	if maxRetries == 0 {
		maxRetries = -1
	}

	svc, err := service.New(service.Options{
		Registry:   registry,
		Bus:        bus,
		Transports: transports,
		Config: service.Config{
			MaxRetries:        maxRetries,
			RetryDelay:        cfg.Connections.GetRetryDelay(),
			ReadInterval:      cfg.Connections.GetReadInterval(),
			ReadBufferSize:    cfg.Connections.ReadBufferSize,
			ReaderStopTimeout: cfg.Connections.GetReaderStopTimeout(),
			Workers:           cfg.Connections.Workers,
		},
		Logger: log.Component("service"),
	})
	if err != nil {
		return fmt.Errorf("creating connection service: %w", err)
	}
	defer func() {
		log.Info("closing connection service")
		if closeErr := svc.Close(); closeErr != nil {
			log.Error("error closing connection service", "error", closeErr)
		}
	}()

	devices := device.NewManager(device.NewSQLiteRepository(db.DB), registry)
	devices.SetLogger(log.Component("device"))
	loaded, err := devices.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}
	log.Info("device manager initialised", "devices", loaded, "connections", registry.Len())

	metrics := telemetry.NewMetrics(registry, svc)
	unsubscribeMetrics := svc.Subscribe(metrics)
	defer unsubscribeMetrics()

	influxClient := connectInfluxDB(cfg, log)
	if influxClient != nil {
		unsubscribeInflux := svc.Subscribe(telemetry.NewInfluxRecorder(influxClient, registry))
		defer func() {
			unsubscribeInflux()
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	mqttClient := connectMQTT(cfg, log)
	var relay *mqttrelay.Relay
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()

		relay, err = startRelay(ctx, cfg, mqttClient, svc, registry, log)
		if err != nil {
			log.Warn("MQTT relay not started", "error", err)
			relay = nil
		} else {
			unsubscribeRelay := svc.Subscribe(relay)
			defer func() {
				log.Info("stopping MQTT relay")
				unsubscribeRelay()
				relay.Stop()
			}()
		}
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	var console http.Handler
	if cfg.Panel.Enabled {
		console = panel.Handler(cfg.Panel.Dir)
	}

	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Registry: registry,
		Service:  svc,
		Devices:  devices,
		History:  historyRepo,
		Recorder: recorder,
		Metrics:  metrics,
		MQTT:     mqttClient,
		Relay:    relay,
		Panel:    console,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	if cfg.Security.JWT.Secret == "" {
		log.Warn("API authentication disabled: security.jwt.secret is empty")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, relay, MQTT, InfluxDB,
	// service (disconnects every link), transports, history, database.
	log.Info("easycom stopped")
	return nil
}

// getConfigPath returns the configuration file path and whether it was
// chosen explicitly. Uses EASYCOM_CONFIG if set, otherwise the default.
func getConfigPath() (string, bool) {
	if path := os.Getenv(configEnv); path != "" {
		return path, true
	}
	return defaultConfigPath, false
}

// loadConfig reads path. A missing default file falls back to the built-in
// configuration; a missing explicit file is an error.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default()
		}
	}
	return config.Load(path)
}

// buildTransports creates the TCP transport and, when enabled, the
// Bluetooth transport. The returned func releases them.
func buildTransports(ctx context.Context, cfg *config.Config, log *logging.Logger) ([]connection.Transport, func()) {
	tcpCfg := cfg.Transports.TCP
	transports := []connection.Transport{
		tcp.New(tcp.Config{
			DialTimeout:  time.Duration(tcpCfg.DialTimeout) * time.Second,
			KeepAlive:    time.Duration(tcpCfg.KeepAlive) * time.Second,
			WriteTimeout: time.Duration(tcpCfg.WriteTimeout) * time.Second,
		}),
	}

	btCfg := cfg.Transports.Bluetooth
	if !btCfg.Enabled {
		log.Info("Bluetooth transport disabled")
		return transports, func() {}
	}

	bt := rfcomm.New(rfcomm.Config{
		Adapter:        btCfg.Adapter,
		ProfileUUID:    btCfg.ProfileUUID,
		ConnectTimeout: time.Duration(btCfg.ConnectTimeout) * time.Second,
		Pair:           btCfg.Pair,
	})
	bt.SetLogger(log.Component("rfcomm"))

	// Not fatal: the adapter may be powered on later, and connects report
	// ConnectFailed until it is.
	if err := bt.Ready(ctx); err != nil {
		log.Warn("Bluetooth adapter not ready", "adapter", rfcomm.AdapterPath(btCfg.Adapter), "error", err)
	} else {
		log.Info("Bluetooth transport ready", "adapter", rfcomm.AdapterPath(btCfg.Adapter))
	}

	return append(transports, bt), func() {
		if err := bt.Close(); err != nil {
			log.Error("error closing Bluetooth transport", "error", err)
		}
	}
}

// connectInfluxDB returns a client, or nil when InfluxDB is disabled or
// unreachable.
func connectInfluxDB(cfg *config.Config, log *logging.Logger) *influxdb.Client {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil
	}

	client, err := influxdb.Connect(cfg.InfluxDB)
	if err != nil {
		log.Warn("InfluxDB unavailable, telemetry points disabled", "url", cfg.InfluxDB.URL, "error", err)
		return nil
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client
}

// connectMQTT returns a connected client, or nil when MQTT is disabled or
// the broker cannot be reached.
func connectMQTT(cfg *config.Config, log *logging.Logger) *mqtt.Client {
	if !cfg.MQTT.Enabled {
		log.Info("MQTT disabled")
		return nil
	}

	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		log.Warn("MQTT broker unreachable, relay disabled",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"error", err,
		)
		return nil
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return client
}

// startRelay creates and starts the MQTT relay.
//
// Parameters:
//   - ctx: Context for the relay's health reporter
//   - cfg: Application configuration
//   - client: Connected MQTT client
//   - svc: Connection service executing remote commands
//   - registry: Connection registry for status enrichment
//   - log: Logger instance
//
// Returns:
//   - *mqttrelay.Relay: Running relay, not yet subscribed to the bus
//   - error: If the relay cannot subscribe to its command topic
func startRelay(ctx context.Context, cfg *config.Config, client *mqtt.Client, svc *service.Service, registry *connection.Registry, log *logging.Logger) (*mqttrelay.Relay, error) {
	relay, err := mqttrelay.New(mqttrelay.Options{
		MQTTClient:     client,
		Commander:      svc,
		Registry:       registry,
		TopicPrefix:    cfg.MQTT.TopicPrefix,
		CommandTimeout: cfg.GetSendTimeout(),
		HealthInterval: time.Duration(cfg.MQTT.HealthInterval) * time.Second,
		Version:        version,
		Logger:         log.Component("mqttrelay"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating relay: %w", err)
	}
	if err := relay.Start(ctx); err != nil {
		relay.Stop()
		return nil, fmt.Errorf("starting relay: %w", err)
	}
	log.Info("MQTT relay started", "prefix", cfg.MQTT.TopicPrefix)
	return relay, nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
