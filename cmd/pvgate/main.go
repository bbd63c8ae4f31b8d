// pvgate - process variable gateway for beamline control networks
//
// This is the main entry point for the pvgate service. pvgate fronts a
// gateway daemon speaking the control-system protocol and exposes the
// configured device groups three ways:
//   - Retained MQTT state, commands and health (the bridge)
//   - An HTTP REST API for reads, writes and sample history
//   - A local SQLite sample archive, optionally mirrored to InfluxDB
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/beamworks/pvgate/migrations"

	"github.com/beamworks/pvgate/internal/api"
	"github.com/beamworks/pvgate/internal/archive"
	"github.com/beamworks/pvgate/internal/bridge"
	"github.com/beamworks/pvgate/internal/gateway"
	"github.com/beamworks/pvgate/internal/infrastructure/config"
	"github.com/beamworks/pvgate/internal/infrastructure/database"
	"github.com/beamworks/pvgate/internal/infrastructure/influxdb"
	"github.com/beamworks/pvgate/internal/infrastructure/logging"
	"github.com/beamworks/pvgate/internal/infrastructure/mqtt"
	"github.com/beamworks/pvgate/internal/motor"
	"github.com/beamworks/pvgate/internal/pv"
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

func main() {
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
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting pvgate",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
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
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Sample archive on the local database
	store := archive.NewStore(db.DB)

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to the gateway daemon
	gw, err := gateway.Connect(ctx, gateway.Config{
		Connection:     cfg.Gateway.Connection,
		ConnectTimeout: cfg.GetConnectTimeout(),
		RequestTimeout: cfg.GetRequestTimeout(),
		Environment:    cfg.Gateway.Environment,
	})
	if err != nil {
		return fmt.Errorf("connecting to gateway: %w", err)
	}
	gw.SetLogger(log)
	log.Info("gateway session established", "connection", cfg.Gateway.Connection)

	// Open one proxy per configured device group
	proxies, err := buildProxies(cfg, gw, log)
	if err != nil {
		_ = gw.Close()
		return err
	}
	defer func() {
		log.Info("clearing device groups")
		for _, p := range proxies {
			if clearErr := p.ClearAll(); clearErr != nil {
				log.Error("error clearing device group", "device", p.Device(), "error", clearErr)
			}
		}
		log.Info("closing gateway session")
		if closeErr := gw.Close(); closeErr != nil {
			log.Error("error closing gateway session", "error", closeErr)
		}
	}()
	log.Info("device groups initialised", "devices", len(proxies))

	// Connect to MQTT broker and start the bridge (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		pvBridge, bridgeErr := startBridge(ctx, cfg, proxies, gw, mqttClient, store, influxClient, log)
		if bridgeErr != nil {
			return fmt.Errorf("starting bridge: %w", bridgeErr)
		}
		defer func() {
			log.Info("stopping bridge")
			pvBridge.Stop()
		}()
	} else {
		log.Info("MQTT bridge disabled")
	}

	// Start the HTTP API (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := startAPI(ctx, cfg, proxies, gw, store, log)
		if apiErr != nil {
			return fmt.Errorf("starting API server: %w", apiErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, gw, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Bridge, then MQTT
	// 3. Device groups, then gateway session
	// 4. InfluxDB (if enabled)
	// 5. Database

	log.Info("pvgate stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses PVGATE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("PVGATE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildProxies opens a device group per configured device, unwinding the
// groups opened so far if any fails. Devices with a status field get a
// hardware status watch.
func buildProxies(cfg *config.Config, gw *gateway.Client, log *logging.Logger) ([]*pv.Proxy, error) {
	opts := pv.Options{
		ConnectTimeout: cfg.GetConnectTimeout(),
		IOTimeout:      cfg.GetRequestTimeout(),
		Logger:         log,
	}

	proxies := make([]*pv.Proxy, 0, len(cfg.Devices))
	for _, dev := range cfg.Devices {
		p, err := pv.NewProxy(gw, dev.Device, dev.Fields, opts)
		if err != nil {
			for _, opened := range proxies {
				_ = opened.ClearAll()
			}
			return nil, fmt.Errorf("initialising device %s: %w", dev.Device, err)
		}

		if dev.StatusField != "" {
			if _, watchErr := motor.WatchStatus(p, dev.StatusField); watchErr != nil {
				log.Warn("status watch failed, status word stays at zero",
					"device", dev.Device,
					"field", dev.StatusField,
					"error", watchErr,
				)
			}
		}

		proxies = append(proxies, p)
	}
	return proxies, nil
}

// startBridge creates and starts the MQTT bridge over the device groups.
func startBridge(ctx context.Context, cfg *config.Config, proxies []*pv.Proxy, gw *gateway.Client, mqttClient *mqtt.Client, store *archive.Store, influxClient *influxdb.Client, log *logging.Logger) (*bridge.Bridge, error) {
	b, err := bridge.New(bridge.Options{
		MQTTClient:     &mqttBridgeAdapter{client: mqttClient},
		Session:        gw,
		Recorder:       &sampleRecorder{store: store, influx: influxClient},
		HealthInterval: cfg.GetHealthInterval(),
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}

	for _, p := range proxies {
		b.Register(p)
	}

	if err := b.Start(ctx); err != nil {
		return nil, err
	}
	log.Info("bridge started", "health_interval", cfg.GetHealthInterval())
	return b, nil
}

// startAPI creates and starts the HTTP API server over the device groups.
func startAPI(ctx context.Context, cfg *config.Config, proxies []*pv.Proxy, gw *gateway.Client, store *archive.Store, log *logging.Logger) (*api.Server, error) {
	groups := make([]api.DeviceGroup, 0, len(proxies))
	for _, p := range proxies {
		groups = append(groups, p)
	}

	server, err := api.New(api.Deps{
		Config:  cfg.API,
		Logger:  log,
		Groups:  groups,
		Samples: store,
		Session: gw,
		Version: version,
	})
	if err != nil {
		return nil, err
	}
	if err := server.Start(ctx); err != nil {
		return nil, err
	}
	return server, nil
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, gw *gateway.Client, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := gw.HealthCheck(ctx); err != nil {
		return fmt.Errorf("gateway: %w", err)
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

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The primary difference is the Subscribe handler
// signature:
// - Infrastructure mqtt: func(topic string, payload []byte) error
// - Bridge expects: func(topic string, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	// Wrap the void handler to return nil error (bridge handlers don't return errors)
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// Disconnect implements bridge.MQTTClient.
// No-op: the MQTT client lifecycle is managed by run's defer chain.
func (a *mqttBridgeAdapter) Disconnect(_ uint) {}

// sampleRecorder fans observed samples out to the archive and, for
// numeric values, to InfluxDB. influx may be nil.
type sampleRecorder struct {
	store  *archive.Store
	influx *influxdb.Client
}

// RecordSample implements bridge.Recorder.
func (r *sampleRecorder) RecordSample(ctx context.Context, device, field, tag, value string, observed time.Time) error {
	if r.influx != nil {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			r.influx.WritePVSample(device, field, tag, f, observed)
		}
	}
	return r.store.RecordSample(ctx, device, field, tag, value, observed)
}
