package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings holds all navigator configuration. It is consumed once at
// startup; the logging section additionally supports hot reload.
type Settings struct {
	// WorkspacesRoot is the directory under which all workspaces live.
	WorkspacesRoot string `yaml:"workspaces_root"`

	// StorageLimitGB is the soft cap reported by storage accounting.
	StorageLimitGB float64 `yaml:"storage_limit_gb"`

	// TelemetryIntervalMS is the minimum gap between successive snapshots
	// for a run, best effort; engine lines arriving faster coalesce. Stage
	// and year transitions always publish. Zero disables the throttle.
	TelemetryIntervalMS int `yaml:"telemetry_interval_ms"`

	// RecentEventsLimit bounds the recent_events ring in each snapshot.
	RecentEventsLimit int `yaml:"recent_events_limit"`

	// MaxConcurrentSimulations caps simultaneously running engines.
	MaxConcurrentSimulations int `yaml:"max_concurrent_simulations"`

	// DefaultConfigPath optionally points to a YAML file used as the base
	// simulation config for workspaces created without one.
	DefaultConfigPath string `yaml:"default_config_path"`

	// Run execution tuning
	Runs RunSettings `yaml:"runs"`

	// Telemetry fan-out tuning
	Telemetry TelemetrySettings `yaml:"telemetry"`

	// Engine subprocess configuration
	Engine EngineSettings `yaml:"engine"`

	// Bundle export/import
	Bundle BundleSettings `yaml:"bundle"`

	// Gateway HTTP/WS server
	Gateway GatewaySettings `yaml:"gateway"`

	// Logging
	Logging LoggingSettings `yaml:"logging"`
}

// TelemetrySettings tunes the telemetry hub.
type TelemetrySettings struct {
	// SubscriberBuffer is the per-subscriber channel capacity. Full buffers
	// drop snapshots rather than block the publisher.
	SubscriberBuffer int `yaml:"subscriber_buffer" json:"subscriber_buffer"`

	// HeartbeatInterval is how often idle websocket subscribers receive a
	// heartbeat frame.
	HeartbeatInterval string `yaml:"heartbeat_interval" json:"heartbeat_interval"`
}

// DefaultSettings returns the default configuration.
func DefaultSettings() *Settings {
	return &Settings{
		WorkspacesRoot:           "workspaces",
		StorageLimitGB:           10,
		TelemetryIntervalMS:      200,
		RecentEventsLimit:        20,
		MaxConcurrentSimulations: 2,
		DefaultConfigPath:        "",

		Runs: RunSettings{
			MaxRunsPerScenario: 10,
			KeptOutputLines:    50,
			ErrorExcerptLines:  20,
			SubscriberGrace:    "300ms",
		},

		Telemetry: TelemetrySettings{
			SubscriberBuffer:  100,
			HeartbeatInterval: "15s",
		},

		Engine: EngineSettings{
			PythonBin:      "python3",
			SimulatorPath:  "",
			GlobalSeedsDir: "",
			CensusPath:     filepath.Join("data", "census_preprocessed.parquet"),
			CleanupTables:  []string{"fct_yearly_events", "fct_workforce_snapshot"},
			TerminateGrace: "5s",
			DriverName:     "duckdb",
		},

		Bundle: BundleSettings{
			MaxImportBytes: 1 << 30,
			ExcludeGlobs: []string{
				"**/*.tmp",
				"**/*.duckdb.wal",
				"**/.DS_Store",
			},
		},

		Gateway: GatewaySettings{
			ListenAddr:     ":8787",
			AllowedOrigins: []string{"*"},
		},

		Logging: LoggingSettings{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads settings from a YAML file, falling back to defaults when the
// file does not exist. Environment overrides apply last.
func Load(path string) (*Settings, error) {
	s := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.applyEnvOverrides()
			return s, nil
		}
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	s.applyEnvOverrides()
	return s, nil
}

// Save writes settings to a YAML file.
func (s *Settings) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}

	return nil
}

// applyEnvOverrides applies NAVIGATOR_* environment variable overrides.
func (s *Settings) applyEnvOverrides() {
	if v := os.Getenv("NAVIGATOR_WORKSPACES_ROOT"); v != "" {
		s.WorkspacesRoot = v
	}
	if v := os.Getenv("NAVIGATOR_DEFAULT_CONFIG"); v != "" {
		s.DefaultConfigPath = v
	}
	if v := os.Getenv("NAVIGATOR_ENGINE_PYTHON"); v != "" {
		s.Engine.PythonBin = v
	}
	if v := os.Getenv("NAVIGATOR_ENGINE_SIMULATOR"); v != "" {
		s.Engine.SimulatorPath = v
	}
	if v := os.Getenv("NAVIGATOR_GLOBAL_SEEDS"); v != "" {
		s.Engine.GlobalSeedsDir = v
	}
	if v := os.Getenv("NAVIGATOR_LISTEN_ADDR"); v != "" {
		s.Gateway.ListenAddr = v
	}
	if v := os.Getenv("NAVIGATOR_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.MaxConcurrentSimulations = n
		}
	}
	if v := os.Getenv("NAVIGATOR_DEBUG"); v == "1" || v == "true" {
		s.Logging.DebugMode = true
		s.Logging.Level = "debug"
	}
}

// Validate checks the whole settings tree.
func (s *Settings) Validate() error {
	if s.WorkspacesRoot == "" {
		return fmt.Errorf("workspaces_root must not be empty")
	}
	if err := s.ValidateLimits(); err != nil {
		return err
	}
	if err := s.Engine.Validate(); err != nil {
		return err
	}
	if _, err := time.ParseDuration(s.Telemetry.HeartbeatInterval); err != nil {
		return fmt.Errorf("invalid telemetry heartbeat_interval: %w", err)
	}
	return nil
}

// GetTelemetryInterval returns the snapshot throttle as a duration. Zero
// disables the throttle so every parsed change publishes.
func (s *Settings) GetTelemetryInterval() time.Duration {
	if s.TelemetryIntervalMS < 0 {
		return 200 * time.Millisecond
	}
	return time.Duration(s.TelemetryIntervalMS) * time.Millisecond
}

// GetHeartbeatInterval returns the websocket heartbeat gap as a duration.
func (s *Settings) GetHeartbeatInterval() time.Duration {
	d, err := time.ParseDuration(s.Telemetry.HeartbeatInterval)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// GetSubscriberGrace returns how long a run waits for its first telemetry
// subscriber before streaming begins.
func (s *Settings) GetSubscriberGrace() time.Duration {
	d, err := time.ParseDuration(s.Runs.SubscriberGrace)
	if err != nil {
		return 300 * time.Millisecond
	}
	return d
}

// StorageLimitBytes converts the configured cap to bytes.
func (s *Settings) StorageLimitBytes() int64 {
	return int64(s.StorageLimitGB * float64(1<<30))
}
