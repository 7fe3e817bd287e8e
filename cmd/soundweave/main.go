// Soundweave - multi-room speaker control core
//
// This is the main entry point for the Soundweave application. Soundweave
// manages a fleet of network speakers speaking an XML-over-HTTP control
// protocol: it polls their state, reconciles multi-room zone topology, and
// exposes the fleet over a REST/WebSocket API and an optional MQTT bridge.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/soundweave/migrations"

	"github.com/nerrad567/soundweave/internal/api"
	"github.com/nerrad567/soundweave/internal/bridges/mqttbridge"
	"github.com/nerrad567/soundweave/internal/fleet"
	"github.com/nerrad567/soundweave/internal/infrastructure/config"
	"github.com/nerrad567/soundweave/internal/infrastructure/database"
	"github.com/nerrad567/soundweave/internal/infrastructure/influxdb"
	"github.com/nerrad567/soundweave/internal/infrastructure/logging"
	"github.com/nerrad567/soundweave/internal/infrastructure/mqtt"
	"github.com/nerrad567/soundweave/internal/soundtouch"
	"github.com/nerrad567/soundweave/internal/zone"
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
	log.Info("starting Soundweave",
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
	log.Info("configuration loaded", "path", configPath, "speakers", len(cfg.Speakers))

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

	// Connect to InfluxDB (optional). Connected before the registry so poll
	// timings flow into it from the first cycle.
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
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

	// Initialise the speaker fleet
	registry, err := buildRegistry(ctx, cfg, db, influxClient, log)
	if err != nil {
		return err
	}
	registry.Start(ctx)
	defer func() {
		log.Info("stopping fleet polling")
		registry.Stop()
	}()
	log.Info("fleet polling started",
		"speakers", len(cfg.Speakers),
		"interval", cfg.PollInterval(),
	)

	// Zone reconciler works over the registry through a thin adapter
	reconciler := zone.NewReconciler(zoneFleet{registry}, log)

	// Poll timings already flow through the registry's metrics sink; this
	// adds playback transitions and periodic zone counts.
	if influxClient != nil {
		startTelemetry(ctx, registry, reconciler, influxClient, cfg.PollInterval())
	}

	// Connect to MQTT broker and start the bridge (optional)
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := startMQTT(cfg, registry, reconciler, log)
		if mqttErr != nil {
			return mqttErr
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	} else {
		log.Info("MQTT disabled")
	}

	// Start the HTTP API
	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log,
		Registry: registry,
		Zones:    reconciler,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Verify infrastructure connections are healthy
	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. MQTT (if enabled)
	// 3. Fleet polling
	// 4. InfluxDB (if enabled)
	// 5. Database

	log.Info("Soundweave stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SOUNDWEAVE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SOUNDWEAVE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildRegistry constructs the fleet registry and seeds it with the
// configured speakers.
func buildRegistry(ctx context.Context, cfg *config.Config, db *database.DB, influxClient *influxdb.Client, log *logging.Logger) (*fleet.Registry, error) {
	opts := fleet.RegistryOptions{
		Repo:            fleet.NewSQLiteRepository(db.DB),
		PollInterval:    cfg.PollInterval(),
		RequestTimeout:  cfg.RequestTimeout(),
		NotifyUnchanged: cfg.Poll.NotifyUnchanged,
		Logger:          log,
	}
	if influxClient != nil {
		opts.Metrics = influxClient
	}

	registry := fleet.NewRegistry(opts)

	speakers := make([]fleet.Speaker, 0, len(cfg.Speakers))
	for _, sp := range cfg.Speakers {
		speakers = append(speakers, fleet.Speaker{
			ID:   sp.ID,
			Name: sp.Name,
			Host: sp.Host,
			Port: sp.SpeakerPort(),
		})
	}
	if err := registry.Seed(ctx, speakers); err != nil {
		return nil, fmt.Errorf("seeding fleet: %w", err)
	}

	return registry, nil
}

// startMQTT connects to the broker and starts the fleet bridge over it.
func startMQTT(cfg *config.Config, registry *fleet.Registry, reconciler *zone.Reconciler, log *logging.Logger) (*mqtt.Client, error) {
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	bridge, err := mqttbridge.NewBridge(mqttbridge.BridgeOptions{
		MQTTClient: mqttClient,
		Fleet:      bridgeFleet{registry},
		Zones:      reconciler,
		Logger:     log,
	})
	if err != nil {
		_ = mqttClient.Close()
		return nil, fmt.Errorf("creating MQTT bridge: %w", err)
	}
	if err := bridge.Start(); err != nil {
		_ = mqttClient.Close()
		return nil, fmt.Errorf("starting MQTT bridge: %w", err)
	}
	log.Info("MQTT bridge started")

	return mqttClient, nil
}

// startTelemetry streams playback transitions into InfluxDB as snapshots
// publish, and samples zone topology counts once per poll interval.
func startTelemetry(ctx context.Context, registry *fleet.Registry, reconciler *zone.Reconciler, influxClient *influxdb.Client, interval time.Duration) {
	registry.SubscribeAll(func(speakerID string, snap *soundtouch.Snapshot) {
		influxClient.WritePlaybackMetric(speakerID, snap.Volume,
			snap.Status == soundtouch.StatusPlaying)
	})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				groups := reconciler.Topology()
				grouped := 0
				for _, g := range groups {
					grouped += len(g.Members) + 1 // members plus the master
				}
				influxClient.WriteZoneMetric(len(groups), grouped)
			}
		}
	}()
}

// healthCheck verifies infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// MQTT and API health are verified during their Start() calls.

	return nil
}

// zoneFleet adapts the fleet registry to the zone reconciler's interface.
// The registry's Resolve returns the concrete *fleet.Entry; the reconciler
// wants the narrower participant view.
type zoneFleet struct {
	registry *fleet.Registry
}

// Resolve implements zone.Fleet.
func (f zoneFleet) Resolve(identifier string) (zone.Participant, error) {
	entry, err := f.registry.Resolve(identifier)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Participants implements zone.Fleet.
func (f zoneFleet) Participants() []zone.Participant {
	entries := f.registry.List()
	participants := make([]zone.Participant, 0, len(entries))
	for _, entry := range entries {
		participants = append(participants, entry)
	}
	return participants
}

// bridgeFleet adapts the fleet registry to the MQTT bridge's interface.
type bridgeFleet struct {
	registry *fleet.Registry
}

// Resolve implements mqttbridge.Fleet.
func (f bridgeFleet) Resolve(identifier string) (mqttbridge.Speaker, error) {
	entry, err := f.registry.Resolve(identifier)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Speakers implements mqttbridge.Fleet.
func (f bridgeFleet) Speakers() []mqttbridge.Speaker {
	entries := f.registry.List()
	speakers := make([]mqttbridge.Speaker, 0, len(entries))
	for _, entry := range entries {
		speakers = append(speakers, entry)
	}
	return speakers
}

// SubscribeAll implements mqttbridge.Fleet.
func (f bridgeFleet) SubscribeAll(handler func(speakerID string, snap *soundtouch.Snapshot)) {
	f.registry.SubscribeAll(handler)
}
