// Package config reads process configuration from APP_* environment
// variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents runtime configuration sourced from environment variables.
type Config struct {
	ListenAddr       string
	SampleInterval   time.Duration
	TimelineCapacity int
	AllowedOrigins   []string
	EnablePrometheus bool
	EnablePprof      bool
	LogLevel         slog.Level
	SysfsRoot        string
	ProcRoot         string
	// DiskFilter and NetFilter are device name prefixes. Empty means all
	// whole disks and all non-loopback interfaces.
	DiskFilter string
	NetFilter  string
	WS         WebsocketConfig
	Proc       ProcConfig
}

// WebsocketConfig captures tunables for WebSocket handling.
type WebsocketConfig struct {
	MaxClients   int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

// ProcConfig contains settings for the top-process table.
type ProcConfig struct {
	Enable       bool
	TopN         int
	MaxFDsPerPID int
}

// Default returns the configuration used when no variable is set.
func Default() Config {
	return Config{
		ListenAddr:       ":8080",
		SampleInterval:   500 * time.Millisecond,
		TimelineCapacity: 240,
		AllowedOrigins:   []string{"*"},
		LogLevel:         slog.LevelInfo,
		SysfsRoot:        "/sys",
		ProcRoot:         "/proc",
		WS: WebsocketConfig{
			MaxClients:   1024,
			WriteTimeout: 3 * time.Second,
			ReadTimeout:  30 * time.Second,
		},
		Proc: ProcConfig{
			Enable:       true,
			TopN:         10,
			MaxFDsPerPID: 64,
		},
	}
}

// Load parses configuration from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Default()

	if value := env("APP_LISTEN_ADDR"); value != "" {
		cfg.ListenAddr = value
	}
	if err := positiveDuration("APP_SAMPLE_INTERVAL", &cfg.SampleInterval); err != nil {
		return Config{}, err
	}
	if value := env("APP_TIMELINE_CAPACITY"); value != "" {
		capacity, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_TIMELINE_CAPACITY: %w", err)
		}
		if capacity < 0 {
			return Config{}, fmt.Errorf("APP_TIMELINE_CAPACITY must be >= 0")
		}
		cfg.TimelineCapacity = capacity
	}

	if value := env("APP_ALLOWED_ORIGINS"); value != "" {
		origins := splitAndTrim(value, ",")
		if len(origins) == 0 {
			return Config{}, fmt.Errorf("APP_ALLOWED_ORIGINS must not be empty")
		}
		cfg.AllowedOrigins = origins
	}

	if err := boolean("APP_ENABLE_PROMETHEUS", &cfg.EnablePrometheus); err != nil {
		return Config{}, err
	}
	if err := boolean("APP_ENABLE_PPROF", &cfg.EnablePprof); err != nil {
		return Config{}, err
	}

	if value := env("APP_LOG_LEVEL"); value != "" {
		level, err := ParseLogLevel(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = level
	}

	if value := env("APP_SYSFS_ROOT"); value != "" {
		cfg.SysfsRoot = value
	}
	if value := env("APP_PROC_ROOT"); value != "" {
		cfg.ProcRoot = value
	}
	cfg.DiskFilter = env("APP_DISK_FILTER")
	cfg.NetFilter = env("APP_NET_FILTER")

	if err := positiveInt("APP_WS_MAX_CLIENTS", &cfg.WS.MaxClients); err != nil {
		return Config{}, err
	}
	if err := positiveDuration("APP_WS_WRITE_TIMEOUT", &cfg.WS.WriteTimeout); err != nil {
		return Config{}, err
	}
	if err := positiveDuration("APP_WS_READ_TIMEOUT", &cfg.WS.ReadTimeout); err != nil {
		return Config{}, err
	}

	if err := boolean("APP_PROC_ENABLE", &cfg.Proc.Enable); err != nil {
		return Config{}, err
	}
	if err := positiveInt("APP_PROC_TOP_N", &cfg.Proc.TopN); err != nil {
		return Config{}, err
	}
	if err := positiveInt("APP_PROC_MAX_FDS_PER_PID", &cfg.Proc.MaxFDsPerPID); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func positiveDuration(key string, dst *time.Duration) error {
	value := env(key)
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be > 0", key)
	}
	*dst = d
	return nil
}

func positiveInt(key string, dst *int) error {
	value := env(key)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	if n <= 0 {
		return fmt.Errorf("%s must be > 0", key)
	}
	*dst = n
	return nil
}

func boolean(key string, dst *bool) error {
	value := env(key)
	if value == "" {
		return nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = b
	return nil
}

func splitAndTrim(value, sep string) []string {
	raw := strings.Split(value, sep)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// ParseLogLevel accepts debug, info, warn (or warning) and error in any case.
func ParseLogLevel(input string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}
