// BESTIN Bridge - wall-pad protocol gateway
//
// This is the main entry point for the BESTIN bridge. It connects the
// apartment wall-pad's RS485 buses to MQTT:
//   - Decodes bus traffic into device state and persists it
//   - Publishes state changes as retained MQTT topics
//   - Accepts device commands over MQTT and drives the buses
//   - Optionally records energy telemetry to InfluxDB
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/lunDreame/ha-bestin/migrations"

	"github.com/lunDreame/ha-bestin/internal/bridge"
	"github.com/lunDreame/ha-bestin/internal/device"
	"github.com/lunDreame/ha-bestin/internal/infrastructure/config"
	"github.com/lunDreame/ha-bestin/internal/infrastructure/database"
	"github.com/lunDreame/ha-bestin/internal/infrastructure/influxdb"
	"github.com/lunDreame/ha-bestin/internal/infrastructure/logging"
	"github.com/lunDreame/ha-bestin/internal/infrastructure/mqtt"
	"github.com/lunDreame/ha-bestin/internal/transport"
	"github.com/lunDreame/ha-bestin/internal/wallpad"
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
	// This is the Go pattern for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Run the application
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
	log.Info("starting BESTIN bridge",
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

	// Initialise device registry with persisted state
	repo := device.NewSQLiteRepository(db.DB)
	history := device.NewSQLiteStateHistory(db.DB)
	registry := device.NewRegistry(repo, history)
	registry.SetLogger(log)

	if loadErr := registry.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading device registry: %w", loadErr)
	}
	log.Info("device registry initialised", "devices", len(registry.All()))

	// Connect to MQTT broker (optional)
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
	} else {
		log.Info("MQTT disabled")
	}

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

	// Build the bus pipelines and protocol engine
	engine, err := buildEngine(cfg, log)
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}

	// Wire the MQTT bridge (if MQTT is enabled)
	var mqttBridge *bridge.Bridge
	if mqttClient != nil {
		opts := bridge.Options{
			Commander: engine,
			States:    registry,
			MQTT:      mqttClient,
			Topics:    mqttClient.Topics(),
			QoS:       byte(cfg.MQTT.QoS),
			Logger:    log,
		}
		if influxClient != nil {
			opts.Energy = influxClient
		}
		mqttBridge, err = bridge.New(opts)
		if err != nil {
			return fmt.Errorf("creating bridge: %w", err)
		}
	}

	log.Info("initialisation complete")

	// Run the engine, registry and bridge until shutdown or first failure
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var wg sync.WaitGroup
	errCh := make(chan error, 3)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if runErr := fn(runCtx); runErr != nil && !errors.Is(runErr, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, runErr)
			}
		}()
	}

	start("engine", engine.Run)
	start("registry", func(c context.Context) error {
		return registry.Run(c, engine.Events())
	})
	if mqttBridge != nil {
		start("bridge", mqttBridge.Run)
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case runErr = <-errCh:
		log.Error("component failed", "error", runErr)
	}

	cancelRun()
	wg.Wait()

	log.Info("BESTIN bridge stopped")
	return runErr
}

// getConfigPath returns the configuration file path.
// Uses BESTIN_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BESTIN_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildEngine assembles the bus pipelines from configuration.
func buildEngine(cfg *config.Config, log *logging.Logger) (*wallpad.Engine, error) {
	control, err := buildPipeline(cfg.Buses.Control, wallpad.BusControl, log)
	if err != nil {
		return nil, fmt.Errorf("control bus: %w", err)
	}

	var energy *wallpad.Pipeline
	if cfg.Buses.Energy.Enabled {
		energy, err = buildPipeline(cfg.Buses.Energy, wallpad.BusEnergy, log)
		if err != nil {
			return nil, fmt.Errorf("energy bus: %w", err)
		}
	}

	engineCfg := wallpad.EngineConfig{
		PollInterval: cfg.Buses.Control.GetPollInterval(),
		PollTargets:  pollTargets(cfg.Buses.Control.Rooms),
	}
	return wallpad.NewEngine(engineCfg, control, energy), nil
}

// buildPipeline assembles one bus pipeline.
func buildPipeline(bus config.BusConfig, kind wallpad.Bus, log *logging.Logger) (*wallpad.Pipeline, error) {
	gen, err := wallpad.ParseGeneration(bus.Generation)
	if err != nil {
		return nil, err
	}
	variant, err := wallpad.ParseVariant(bus.Variant)
	if err != nil {
		return nil, err
	}

	if kind == wallpad.BusControl {
		if err := wallpad.VerifyClasses(controllableClasses(variant)); err != nil {
			return nil, fmt.Errorf("command dispatch table: %w", err)
		}
	}

	dialer, err := transport.NewDialer(bus.Endpoint, bus.BaudRate)
	if err != nil {
		return nil, err
	}
	log.Info("bus configured",
		"bus", kind.String(),
		"endpoint", dialer.String(),
		"generation", gen.String(),
		"variant", variant.String(),
	)

	pipeCfg := wallpad.PipelineConfig{
		Bus:            kind,
		Generation:     gen,
		Variant:        variant,
		CommandTimeout: bus.GetCommandTimeout(),
		MaxFrameLength: bus.MaxFrameLength,
		Encoder: wallpad.EncoderConfig{
			RoomVentilation:   bus.RoomVentilation,
			BatchSwitchHeader: byte(bus.BatchSwitchHeader),
		},
	}
	return wallpad.NewPipeline(pipeCfg, dialer, log), nil
}

// controllableClasses lists every device class commands may be
// dispatched for on the given variant. Verified against the command
// table at startup so a gap fails before the buses come up.
func controllableClasses(variant wallpad.Variant) []wallpad.DeviceClass {
	classes := []wallpad.DeviceClass{
		wallpad.ClassLight,
		wallpad.ClassOutlet,
		wallpad.ClassThermostat,
		wallpad.ClassVentilation,
		wallpad.ClassGasValve,
		wallpad.ClassDoorlock,
		wallpad.ClassBatchSwitch,
		wallpad.ClassElevator,
		wallpad.ClassIntercom,
	}
	if variant == wallpad.VariantDimming {
		classes = append(classes, wallpad.ClassDimmingLight)
	}
	return classes
}

// pollTargets builds the status-query targets for the configured rooms.
// Each room gets light, outlet and thermostat queries; the wall-pad
// broadcasts everything else on its own schedule.
func pollTargets(rooms []int) []wallpad.DeviceAddress {
	var targets []wallpad.DeviceAddress
	for _, room := range rooms {
		targets = append(targets,
			wallpad.DeviceAddress{Class: wallpad.ClassLight, Room: uint8(room)},
			wallpad.DeviceAddress{Class: wallpad.ClassOutlet, Room: uint8(room)},
			wallpad.DeviceAddress{Class: wallpad.ClassThermostat, Room: uint8(room)},
		)
	}
	return targets
}
