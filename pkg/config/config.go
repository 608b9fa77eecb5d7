// Package config loads usbsas's configuration: the front-end's out_directory,
// the optional analyzer/network/command destinations, filter rules, the
// env_vars allowlist propagated to spawned workers, and the ambient
// logging/audit/API/telemetry/metrics sections.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/usbsas/pkg/apitypes"
)

// Config is usbsas's top-level configuration, read once at front-end session
// creation and passed down to the orchestrator via -c <config>.
//
// Configuration sources, highest precedence first:
//  1. Environment variables (USBSAS_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// OutDirectory is where the per-session staging tar/fs files live, and
	// where imgdisk output is renamed to on completion.
	OutDirectory string `mapstructure:"out_directory" validate:"required" yaml:"out_directory"`

	// SessionIDEnabled turns on the --sessionid flag passed to the
	// orchestrator and per-session audit logging.
	SessionIDEnabled bool `mapstructure:"session_id_enabled" yaml:"session_id_enabled"`

	// ShutdownTimeout bounds how long a reset/teardown waits for every
	// worker before the front-end gives up waiting (workers are still
	// reaped in the background; see pkg/orchestrator.Children.WaitAll).
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Analyzer  AnalyzerConfig  `mapstructure:"analyzer" yaml:"analyzer"`
	Network   NetworkConfig   `mapstructure:"network" yaml:"network"`
	Command   CommandConfig   `mapstructure:"command" yaml:"command"`
	PostCopy  PostCopyConfig  `mapstructure:"post_copy" yaml:"post_copy"`
	Filter    FilterConfig    `mapstructure:"filter" yaml:"filter"`
	EnvVars   []string        `mapstructure:"env_vars" yaml:"env_vars"`
	Audit     AuditConfig     `mapstructure:"audit" yaml:"audit"`
	API       apitypes.APIConfig   `mapstructure:"api" yaml:"api"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Device    DeviceConfig    `mapstructure:"device" yaml:"device"`
	Workers   WorkersConfig   `mapstructure:"workers" yaml:"workers"`
	TokenCache TokenCacheConfig `mapstructure:"token_cache" yaml:"token_cache"`
}

// TokenCacheConfig configures internal/tokencache's embedded badger store.
type TokenCacheConfig struct {
	// Dir holds the badger database files. Empty disables the cache:
	// path-token replay bookkeeping and fingerprint caching become no-ops.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// TokenTTL bounds how long an issued path-token tag is remembered as
	// "seen" for replay-window bookkeeping.
	TokenTTL time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
}

// DeviceConfig configures the directory/flat-file stand-ins scsi2files,
// filter and fs2dev operate against in place of a real SCSI/block device
// (no real bus/block-device access layer is wired in this build).
type DeviceConfig struct {
	// SourceRoot is the directory scsi2files/filter treat as the opened
	// source device's single partition.
	SourceRoot string `mapstructure:"source_root" validate:"required" yaml:"source_root"`
	// SourceFSType is reported as that partition's filesystem type.
	SourceFSType string `mapstructure:"source_fstype" yaml:"source_fstype"`
	// DestPath is the flat file fs2dev treats as the opened destination
	// device.
	DestPath string `mapstructure:"dest_path" validate:"required" yaml:"dest_path"`
	// DestFSType is the filesystem files2fs builds at the staging fs path.
	DestFSType string `mapstructure:"dest_fstype" yaml:"dest_fstype"`
	// DestSizeBytes stands in for the destination device's reported
	// capacity, sizing a non-quick Wipe's zero-fill pass.
	DestSizeBytes uint64 `mapstructure:"dest_size_bytes" validate:"required" yaml:"dest_size_bytes"`
}

// WorkersConfig locates the worker binaries the front-end spawns.
type WorkersConfig struct {
	// Dir holds every cmd/usbsas-<name> binary, built alongside the
	// front-end server. Default: the directory the server binary itself
	// runs from.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// LoggingConfig controls the internal/logger package's output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// AnalyzerConfig enables the analyzer worker: when Enabled,
// CopyFiles's WriteFiles stage submits the staging tar to URL for scanning
// before any byte is written to the destination filesystem.
type AnalyzerConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	URL     string        `mapstructure:"url" validate:"required_if=Enabled true" yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// NetworkConfig describes the single configured network destination (the
// uploader worker's S3 target) available for device_select.
type NetworkConfig struct {
	Enabled         bool   `mapstructure:"enabled" yaml:"enabled"`
	Description     string `mapstructure:"description" yaml:"description"`
	LongDescription string `mapstructure:"long_description" yaml:"long_description"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	Bucket          string `mapstructure:"bucket" validate:"required_if=Enabled true" yaml:"bucket"`
	Region          string `mapstructure:"region" yaml:"region"`
	// AccessKeyID/SecretAccessKey configure a static credential provider for
	// the uploader's S3 client; left empty, the AWS SDK's default credential
	// chain (env vars, shared config, instance role) is used instead.
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
}

// CommandConfig describes the single configured command destination (the
// cmdexec worker's target).
type CommandConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Description     string        `mapstructure:"description" yaml:"description"`
	LongDescription string        `mapstructure:"long_description" yaml:"long_description"`
	Binary          string        `mapstructure:"binary" validate:"required_if=Enabled true" yaml:"binary"`
	Args            []string      `mapstructure:"args" yaml:"args"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// PostCopyConfig enables a post-copy command run by cmdexec after a
// successful USB/Net transfer (TransferDone -> PostCopyCmd -> WaitEnd).
type PostCopyConfig struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	Binary  string   `mapstructure:"binary" validate:"required_if=Enabled true" yaml:"binary"`
	Args    []string `mapstructure:"args" yaml:"args"`
}

// FilterConfig holds the path-based accept/reject rules consumed by the
// filter worker.
type FilterConfig struct {
	DenyGlobs     []string `mapstructure:"deny_globs" yaml:"deny_globs"`
	DenyMimeTypes []string `mapstructure:"deny_mime_types" yaml:"deny_mime_types"`
}

// AuditConfig configures the session audit trail (pkg/audit).
type AuditConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=sqlite postgres" yaml:"driver"`
	DSN    string `mapstructure:"dsn" validate:"required" yaml:"dsn"`
}

// TelemetryConfig controls OTLP/gRPC trace export (internal/telemetry).
type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled" yaml:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" validate:"required_if=Enabled true" yaml:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1" yaml:"sample_rate"`
}

// ProfilingConfig controls Pyroscope continuous profiling of the front-end
// server (internal/telemetry).
type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string   `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint"`
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig controls the Prometheus metrics endpoint (internal/metrics).
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// Load loads configuration from file, environment, and defaults:
// viper.New(), USBSAS_ env prefix with "." replaced by "_", a custom
// decode hook composing duration parsing, then struct validation.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if found {
		if err := v.Unmarshal(cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
			return nil, fmt.Errorf("config: unmarshal: %w", err)
		}
	}
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML, creating parent directories and
// restricting permissions to owner read/write since Audit.DSN and Network
// credentials may live in the file.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("USBSAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("config: read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(durationDecodeHook())
}

// durationDecodeHook parses human-readable duration strings ("30s", "5m")
// for every time.Duration field in Config.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/usbsas, falling back to
// ~/.config/usbsas, or "." if the home directory can't be determined.
func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "usbsas")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "usbsas")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

var validate10 = validator.New()

func validate(cfg *Config) error {
	return validate10.Struct(cfg)
}
