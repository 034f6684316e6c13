package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/modeld/internal/modeld/dropmon"
	"github.com/banshee-data/modeld/internal/modeld/engine"
	"github.com/banshee-data/modeld/internal/modeld/modeldef"
	"github.com/banshee-data/modeld/internal/modeld/params"
	"github.com/banshee-data/modeld/internal/modeld/vsync"
	"github.com/banshee-data/modeld/internal/monitoring"
	"github.com/banshee-data/modeld/internal/serialmux"
)

// DefaultConfigPath is the checked-in defaults file.
const DefaultConfigPath = "config/modeld.defaults.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MODELD_"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// ModelConfig is the daemon configuration. Every field is optional; the
// Get* accessors supply defaults for anything left unset.
type ModelConfig struct {
	// Frame synchronisation
	SyncWindow         *string `json:"sync_window,omitempty" yaml:"sync_window,omitempty" env:"SYNC_WINDOW"`
	SyncTolerance      *string `json:"sync_tolerance,omitempty" yaml:"sync_tolerance,omitempty" env:"SYNC_TOLERANCE"`
	StreamPollInterval *string `json:"stream_poll_interval,omitempty" yaml:"stream_poll_interval,omitempty" env:"STREAM_POLL_INTERVAL"`

	// Frame drop monitor
	DropClamp        *int    `json:"drop_clamp,omitempty" yaml:"drop_clamp,omitempty" env:"DROP_CLAMP"`
	DropTimeConstant *string `json:"drop_time_constant,omitempty" yaml:"drop_time_constant,omitempty" env:"DROP_TIME_CONSTANT"`
	DropWarmupCycles *int    `json:"drop_warmup_cycles,omitempty" yaml:"drop_warmup_cycles,omitempty" env:"DROP_WARMUP_CYCLES"`

	// Engine
	EngineBackend *string `json:"engine_backend,omitempty" yaml:"engine_backend,omitempty" env:"ENGINE_BACKEND"`
	ReplayPath    *string `json:"replay_path,omitempty" yaml:"replay_path,omitempty" env:"REPLAY_PATH"`
	MetadataPath  *string `json:"metadata_path,omitempty" yaml:"metadata_path,omitempty" env:"METADATA_PATH"`

	// Feature flags
	NavEnabled   *bool `json:"nav_enabled,omitempty" yaml:"nav_enabled,omitempty" env:"NAV_ENABLED"`
	RadarEnabled *bool `json:"radar_enabled,omitempty" yaml:"radar_enabled,omitempty" env:"RADAR_ENABLED"`
	PoseDisabled *bool `json:"pose_disabled,omitempty" yaml:"pose_disabled,omitempty" env:"POSE_DISABLED"`
	SendRawPred  *bool `json:"send_raw_pred,omitempty" yaml:"send_raw_pred,omitempty" env:"SEND_RAW_PRED"`

	// Vehicle
	SteerDelayExtra *float64 `json:"steer_delay_extra,omitempty" yaml:"steer_delay_extra,omitempty" env:"STEER_DELAY_EXTRA"`
	ParamsDir       *string  `json:"params_dir,omitempty" yaml:"params_dir,omitempty" env:"PARAMS_DIR"`

	// Radar serial feed; an empty port disables it.
	RadarSerialPort *string                `json:"radar_serial_port,omitempty" yaml:"radar_serial_port,omitempty" env:"RADAR_SERIAL_PORT"`
	RadarSerial     *serialmux.PortOptions `json:"radar_serial,omitempty" yaml:"radar_serial,omitempty"`

	// Synthetic camera used in demo mode
	CameraDropProbability *float64 `json:"camera_drop_probability,omitempty" yaml:"camera_drop_probability,omitempty" env:"CAMERA_DROP_PROBABILITY"`

	// Side channels
	RecorderDir     *string `json:"recorder_dir,omitempty" yaml:"recorder_dir,omitempty" env:"RECORDER_DIR"`
	DBPath          *string `json:"db_path,omitempty" yaml:"db_path,omitempty" env:"DB_PATH"`
	CycleLogBacklog *int    `json:"cycle_log_backlog,omitempty" yaml:"cycle_log_backlog,omitempty" env:"CYCLE_LOG_BACKLOG"`
	Listen          *string `json:"listen,omitempty" yaml:"listen,omitempty" env:"LISTEN"`
	GRPCListen      *string `json:"grpc_listen,omitempty" yaml:"grpc_listen,omitempty" env:"GRPC_LISTEN"`

	Log *LogSection `json:"log,omitempty" yaml:"log,omitempty" env:",init" envPrefix:"LOG_"`
}

// LogSection configures the process logger.
type LogSection struct {
	Level      *string `json:"level,omitempty" yaml:"level,omitempty" env:"LEVEL"`
	Path       *string `json:"path,omitempty" yaml:"path,omitempty" env:"PATH"`
	MaxSizeMB  *int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty" env:"MAX_SIZE_MB"`
	MaxBackups *int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty" env:"MAX_BACKUPS"`
	MaxAgeDays *int    `json:"max_age_days,omitempty" yaml:"max_age_days,omitempty" env:"MAX_AGE_DAYS"`
	Compress   *bool   `json:"compress,omitempty" yaml:"compress,omitempty" env:"COMPRESS"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }

// EmptyModelConfig returns a ModelConfig with all fields nil.
func EmptyModelConfig() *ModelConfig {
	return &ModelConfig{}
}

// ApplyDemo fills unset fields with demo-mode settings: a lossy synthetic
// camera, a throwaway cycle log and raw predictions on.
func (c *ModelConfig) ApplyDemo() {
	if c.CameraDropProbability == nil {
		c.CameraDropProbability = ptrFloat64(0.02)
	}
	if c.DBPath == nil {
		c.DBPath = ptrString(filepath.Join(os.TempDir(), "modeld-demo.db"))
	}
	if c.SendRawPred == nil {
		c.SendRawPred = ptrBool(true)
	}
}

// LoadModelConfig reads a .json, .yaml or .yml file. Fields omitted from
// the file keep their defaults.
func LoadModelConfig(path string) (*ModelConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyModelConfig()
	if ext == ".json" {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from MODELD_* environment variables. When
// envFile is non-empty it is loaded first; variables already set in the
// process environment win over the file.
func (c *ModelConfig) ApplyEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration from environment: %w", err)
	}
	return nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching parent
// directories. Panics on failure; intended for test setup.
func MustLoadDefaultConfig() *ModelConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadModelConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func validDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, *v)
	}
	return nil
}

// Validate checks that the configured values are usable.
func (c *ModelConfig) Validate() error {
	for name, v := range map[string]*string{
		"sync_window":          c.SyncWindow,
		"sync_tolerance":       c.SyncTolerance,
		"stream_poll_interval": c.StreamPollInterval,
		"drop_time_constant":   c.DropTimeConstant,
	} {
		if err := validDuration(name, v); err != nil {
			return err
		}
	}

	if c.DropClamp != nil && *c.DropClamp < 1 {
		return fmt.Errorf("drop_clamp must be at least 1, got %d", *c.DropClamp)
	}
	if c.DropWarmupCycles != nil && *c.DropWarmupCycles < 0 {
		return fmt.Errorf("drop_warmup_cycles must be non-negative, got %d", *c.DropWarmupCycles)
	}

	switch c.GetEngineBackend() {
	case engine.BackendSynthetic:
	case engine.BackendReplay:
		if c.GetReplayPath() == "" {
			return fmt.Errorf("engine_backend %q requires replay_path", engine.BackendReplay)
		}
	default:
		return fmt.Errorf("unknown engine_backend %q", c.GetEngineBackend())
	}

	if c.SteerDelayExtra != nil && *c.SteerDelayExtra < 0 {
		return fmt.Errorf("steer_delay_extra must be non-negative, got %f", *c.SteerDelayExtra)
	}
	if c.CameraDropProbability != nil {
		if p := *c.CameraDropProbability; p < 0 || p >= 1 {
			return fmt.Errorf("camera_drop_probability must be in [0,1), got %f", p)
		}
	}
	if c.CycleLogBacklog != nil && *c.CycleLogBacklog < 1 {
		return fmt.Errorf("cycle_log_backlog must be at least 1, got %d", *c.CycleLogBacklog)
	}
	if c.RadarSerial != nil {
		if _, err := c.RadarSerial.Normalize(); err != nil {
			return fmt.Errorf("radar_serial: %w", err)
		}
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

func stringOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

func (c *ModelConfig) GetSyncWindow() time.Duration {
	return durationOr(c.SyncWindow, vsync.DefaultWindow)
}

func (c *ModelConfig) GetSyncTolerance() time.Duration {
	return durationOr(c.SyncTolerance, vsync.DefaultTolerance)
}

func (c *ModelConfig) GetStreamPollInterval() time.Duration {
	return durationOr(c.StreamPollInterval, vsync.DefaultPollInterval)
}

func (c *ModelConfig) GetDropClamp() int {
	if c.DropClamp == nil {
		return 10
	}
	return *c.DropClamp
}

func (c *ModelConfig) GetDropTimeConstant() time.Duration {
	return durationOr(c.DropTimeConstant, 10*time.Second)
}

// GetDropWarmupCycles returns the warm-up length; 0 means no warm-up.
func (c *ModelConfig) GetDropWarmupCycles() int {
	if c.DropWarmupCycles == nil {
		return 10
	}
	return *c.DropWarmupCycles
}

func (c *ModelConfig) GetEngineBackend() string {
	return stringOr(c.EngineBackend, engine.BackendSynthetic)
}

func (c *ModelConfig) GetReplayPath() string   { return stringOr(c.ReplayPath, "") }
func (c *ModelConfig) GetMetadataPath() string { return stringOr(c.MetadataPath, "") }

func (c *ModelConfig) GetSteerDelayExtra() float32 {
	if c.SteerDelayExtra == nil {
		return params.SteerDelayExtra
	}
	return float32(*c.SteerDelayExtra)
}

func (c *ModelConfig) GetParamsDir() string { return stringOr(c.ParamsDir, "params") }

func (c *ModelConfig) GetRadarSerialPort() string { return stringOr(c.RadarSerialPort, "") }

// GetRadarSerial returns the normalised serial options.
func (c *ModelConfig) GetRadarSerial() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if c.RadarSerial != nil {
		opts = *c.RadarSerial
	}
	n, err := opts.Normalize()
	if err != nil {
		n, _ = serialmux.PortOptions{}.Normalize()
	}
	return n
}

func (c *ModelConfig) GetCameraDropProbability() float64 {
	if c.CameraDropProbability == nil {
		return 0
	}
	return *c.CameraDropProbability
}

func (c *ModelConfig) GetRecorderDir() string { return stringOr(c.RecorderDir, "") }
func (c *ModelConfig) GetDBPath() string      { return stringOr(c.DBPath, "modeld.db") }

func (c *ModelConfig) GetCycleLogBacklog() int {
	if c.CycleLogBacklog == nil {
		return 256
	}
	return *c.CycleLogBacklog
}

func (c *ModelConfig) GetListen() string     { return stringOr(c.Listen, "localhost:8090") }
func (c *ModelConfig) GetGRPCListen() string { return stringOr(c.GRPCListen, "") }

// Flags builds the immutable capability set handed to encoders and the
// engine.
func (c *ModelConfig) Flags() *modeldef.Flags {
	b := func(v *bool) bool { return v != nil && *v }
	return &modeldef.Flags{
		NavEnabled:   b(c.NavEnabled),
		RadarEnabled: b(c.RadarEnabled),
		PoseDisabled: b(c.PoseDisabled),
		SendRawPred:  b(c.SendRawPred),
	}
}

// DropConfig returns the frame drop monitor settings.
func (c *ModelConfig) DropConfig() dropmon.Config {
	warmup := c.GetDropWarmupCycles()
	if warmup == 0 {
		warmup = -1 // dropmon treats 0 as "use default"
	}
	return dropmon.Config{
		MaxGap:       c.GetDropClamp(),
		TimeConstant: c.GetDropTimeConstant(),
		WarmupCycles: warmup,
	}
}

// SyncConfig returns the frame synchroniser settings.
func (c *ModelConfig) SyncConfig() vsync.Config {
	return vsync.Config{Window: c.GetSyncWindow(), Tolerance: c.GetSyncTolerance()}
}

// LogConfig returns the logger settings.
func (c *ModelConfig) LogConfig() monitoring.LogConfig {
	l := c.Log
	if l == nil {
		l = &LogSection{}
	}
	intOr := func(v *int, def int) int {
		if v == nil {
			return def
		}
		return *v
	}
	return monitoring.LogConfig{
		Level:      stringOr(l.Level, "info"),
		Path:       stringOr(l.Path, ""),
		MaxSizeMB:  intOr(l.MaxSizeMB, 100),
		MaxBackups: intOr(l.MaxBackups, 3),
		MaxAgeDays: intOr(l.MaxAgeDays, 28),
		Compress:   l.Compress != nil && *l.Compress,
	}
}
