package config

import "time"

// defaultConfig returns a Config with every section defaulted, used as the
// starting point for Load before any file/env overrides are unmarshaled in.
func defaultConfig() *Config {
	return &Config{
		OutDirectory:    "/var/lib/usbsas/sessions",
		ShutdownTimeout: 10 * time.Second,
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
		Analyzer: AnalyzerConfig{
			Timeout: 5 * time.Minute,
		},
		Command: CommandConfig{
			Timeout: 30 * time.Second,
		},
		Audit: AuditConfig{
			Driver: "sqlite",
			DSN:    "/var/lib/usbsas/audit.db",
		},
		Telemetry: TelemetryConfig{
			SampleRate: 0.1,
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Device: DeviceConfig{
			SourceRoot:    "/var/lib/usbsas/device-src",
			SourceFSType:  "fat32",
			DestPath:      "/var/lib/usbsas/device-dst.img",
			DestFSType:    "fat32",
			DestSizeBytes: 8 << 30,
		},
		TokenCache: TokenCacheConfig{
			Dir:      "/var/lib/usbsas/tokencache",
			TokenTTL: time.Hour,
		},
	}
}

// applyDefaults fills in zero-valued fields left over after decoding a
// partial config file, one section at a time.
func applyDefaults(cfg *Config) {
	if cfg.OutDirectory == "" {
		cfg.OutDirectory = "/var/lib/usbsas/sessions"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Analyzer.Timeout == 0 {
		cfg.Analyzer.Timeout = 5 * time.Minute
	}
	if cfg.Command.Timeout == 0 {
		cfg.Command.Timeout = 30 * time.Second
	}
	if cfg.Audit.Driver == "" {
		cfg.Audit.Driver = "sqlite"
	}
	if cfg.Audit.DSN == "" {
		cfg.Audit.DSN = "/var/lib/usbsas/audit.db"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Device.SourceFSType == "" {
		cfg.Device.SourceFSType = "fat32"
	}
	if cfg.Device.DestFSType == "" {
		cfg.Device.DestFSType = "fat32"
	}
	if cfg.Device.DestSizeBytes == 0 {
		cfg.Device.DestSizeBytes = 8 << 30
	}
	if cfg.TokenCache.TokenTTL == 0 {
		cfg.TokenCache.TokenTTL = time.Hour
	}
	cfg.API.ApplyDefaults()
}
