// Hearth - Smart Home State and Event Core
//
// This is the main entry point for the Hearth core application.
// Hearth is a local-first home automation core designed for:
//   - Offline-first operation (no cloud dependency)
//   - Open transports (MQTT between core and integrations)
//   - A durable local history store with automatic recovery
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hearthlab/hearth-core/internal/api"
	"github.com/hearthlab/hearth-core/internal/bus"
	"github.com/hearthlab/hearth-core/internal/infrastructure/config"
	"github.com/hearthlab/hearth-core/internal/infrastructure/database"
	"github.com/hearthlab/hearth-core/internal/infrastructure/influxdb"
	"github.com/hearthlab/hearth-core/internal/infrastructure/logging"
	"github.com/hearthlab/hearth-core/internal/infrastructure/mqtt"
	"github.com/hearthlab/hearth-core/internal/ingress"
	"github.com/hearthlab/hearth-core/internal/recorder"
	"github.com/hearthlab/hearth-core/internal/state"
	"github.com/hearthlab/hearth-core/internal/trigger"
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
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Hearth",
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

	// Event bus is the spine everything else hangs off.
	eventBus := bus.New()
	eventBus.SetLogger(log.With("component", "bus"))
	defer func() {
		log.Info("closing event bus")
		eventBus.Close()
	}()

	// Live state store
	store := state.NewStore(eventBus)
	store.SetLogger(log.With("component", "state"))

	// Open the history store with corruption recovery, then start the
	// recorder over it.
	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		db, movedTo, openErr := database.OpenWithRecovery(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		}, recorder.IntegrityProbe())
		if openErr != nil {
			return fmt.Errorf("opening history store: %w", openErr)
		}
		defer func() {
			log.Info("closing history store")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing history store", "error", closeErr)
			}
		}()
		if movedTo != "" {
			log.Warn("corrupt history store moved aside, starting fresh",
				"moved_to", movedTo,
			)
		}
		log.Info("history store opened", "path", cfg.Database.Path)

		rec = recorder.New(db, eventBus, recorder.Config{
			BatchSize:          cfg.Recorder.BatchSize,
			FlushInterval:      cfg.Recorder.GetFlushInterval(),
			CommitRetries:      cfg.Recorder.CommitRetries,
			RetryBackoff:       cfg.Recorder.GetRetryBackoff(),
			StatisticsInterval: cfg.Recorder.GetStatisticsInterval(),
		})
		rec.SetLogger(log.With("component", "recorder"))
		if startErr := rec.Start(ctx); startErr != nil {
			// A store that cannot reach the current schema loses history,
			// nothing else. Live state and automations keep running.
			log.Error("recorder failed to start, continuing without history",
				"error", startErr,
			)
			rec = nil
		} else {
			defer func() {
				log.Info("stopping recorder")
				closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer closeCancel()
				if closeErr := rec.Close(closeCtx); closeErr != nil {
					log.Error("error stopping recorder", "error", closeErr)
				}
			}()
			log.Info("recorder started")
		}
	} else {
		log.Info("recorder disabled")
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.With("component", "mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Ingress bridge: MQTT topics in, state_changed stream out.
	// #nosec G115 -- QoS validated to 0..2 by config
	bridge := ingress.New(mqttClient, store, eventBus, byte(cfg.MQTT.QoS), cfg.Poll.GetMinInterval())
	bridge.SetLogger(log.With("component", "ingress"))
	if err := bridge.Start(); err != nil {
		return fmt.Errorf("starting ingress bridge: %w", err)
	}
	defer func() {
		log.Info("stopping ingress bridge")
		if closeErr := bridge.Close(); closeErr != nil {
			log.Error("error stopping ingress bridge", "error", closeErr)
		}
	}()

	// Configured devices are known before they announce, so automations
	// referencing them validate at startup.
	for deviceID, model := range cfg.Devices {
		bridge.Devices().Set(deviceID, model)
	}

	// Device trigger matcher over the announced device index, with the
	// configured automations attached.
	matcher := trigger.NewMatcher(eventBus, bridge.Devices())
	matcher.SetLogger(log.With("component", "trigger"))
	// #nosec G115 -- QoS validated to 0..2 by config
	detach, err := attachAutomations(matcher, mqttClient, cfg.Automations, byte(cfg.MQTT.QoS), log)
	if err != nil {
		return fmt.Errorf("attaching automations: %w", err)
	}
	defer detach()

	// Connect to InfluxDB and start the telemetry exporter (optional)
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		exporter := influxdb.NewExporter(influxClient, eventBus)
		exporter.SetLogger(log.With("component", "influxdb"))
		exporter.Start()
		defer exporter.Close()

		log.Info("InfluxDB telemetry export started",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// HTTP API and WebSocket server
	apiDeps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.With("component", "api"),
		Store:    store,
		Bus:      eventBus,
		Version:  version,
	}
	if rec != nil {
		apiDeps.History = rec
	}
	apiServer, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, mqttClient, apiServer, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	eventBus.Publish(bus.EventCoreStarted, map[string]any{
		"version": version,
	}, bus.NewContext())

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	eventBus.Publish(bus.EventCoreStopping, nil, bus.NewContext())

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. InfluxDB exporter and client (if enabled)
	// 3. Ingress bridge
	// 4. MQTT
	// 5. Recorder, then the history store
	// 6. Event bus

	log.Info("Hearth stopped")
	return nil
}

// commandPublisher is the slice of the MQTT client automations need to
// fire their actions.
type commandPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// attachAutomations validates and attaches the configured device-trigger
// automations. A single invalid automation fails startup; a half-applied
// automation table is harder to debug than a refused config.
//
// Returns:
//   - func(): Detaches every attached automation
//   - error: Validation or attach failure, naming the automation
func attachAutomations(matcher *trigger.Matcher, pub commandPublisher, automations []config.AutomationConfig, qos byte, log *logging.Logger) (func(), error) {
	detachers := make([]func(), 0, len(automations))
	detachAll := func() {
		for _, d := range detachers {
			d()
		}
	}

	for _, a := range automations {
		a := a
		cfg := trigger.Config{
			DeviceID: a.Trigger.DeviceID,
			Type:     trigger.Type(a.Trigger.Type),
			Subtype:  trigger.Subtype(a.Trigger.Subtype),
		}
		detach, err := matcher.Attach(cfg, func(bus.Event) {
			if err := pub.Publish(a.Action.Topic, []byte(a.Action.Payload), qos, false); err != nil {
				log.Error("automation action failed",
					"automation", a.Name,
					"topic", a.Action.Topic,
					"error", err,
				)
			}
		})
		if err != nil {
			detachAll()
			return nil, fmt.Errorf("automation %q: %w", a.Name, err)
		}
		detachers = append(detachers, detach)
		log.Info("automation attached",
			"automation", a.Name,
			"device_id", a.Trigger.DeviceID,
			"type", a.Trigger.Type,
			"subtype", a.Trigger.Subtype,
		)
	}

	return detachAll, nil
}

// getConfigPath returns the configuration file path.
// Uses HEARTH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HEARTH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// The recorder's store is checked at open time by its integrity probe,
// so only live connections are verified here.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - mqttClient: MQTT client to check
//   - apiServer: API server to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, mqttClient *mqtt.Client, apiServer *api.Server, influxClient *influxdb.Client) error {
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if err := apiServer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
