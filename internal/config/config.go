package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default TCP address the game server listens on.
	DefaultAddr = ":8001"
	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size.
	DefaultMaxPayloadBytes int64 = 1 << 16

	// DefaultTickInterval is the fixed physics tick period (60 Hz).
	DefaultTickInterval = time.Second / 60
	// DefaultGraceWindow is how long a finished session keeps broadcasting its
	// terminal snapshot before the tick task is cancelled.
	DefaultGraceWindow = 10 * time.Second
	// DefaultMatchmakingInterval is the pairing cadence for the waiting queue.
	DefaultMatchmakingInterval = time.Second

	// DefaultStatsEncoding selects the compression codec for stats payloads.
	DefaultStatsEncoding = "snappy"

	// DefaultLogLevel controls verbosity for server logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "courtline.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures all runtime tunables for the game server.
type Config struct {
	Address             string
	AllowedOrigins      []string
	MaxPayloadBytes     int64
	PingInterval        time.Duration
	TickInterval        time.Duration
	GraceWindow         time.Duration
	MatchmakingInterval time.Duration
	StatsEndpoint       string
	StatsEncoding       string
	Logging             LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

// Load reads the server configuration from environment variables, applying sane
// defaults and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Address:             getString("COURT_ADDR", DefaultAddr),
		AllowedOrigins:      parseList(os.Getenv("COURT_ALLOWED_ORIGINS")),
		MaxPayloadBytes:     DefaultMaxPayloadBytes,
		PingInterval:        DefaultPingInterval,
		TickInterval:        DefaultTickInterval,
		GraceWindow:         DefaultGraceWindow,
		MatchmakingInterval: DefaultMatchmakingInterval,
		StatsEndpoint:       strings.TrimSpace(os.Getenv("COURT_STATS_ENDPOINT")),
		StatsEncoding:       getString("COURT_STATS_ENCODING", DefaultStatsEncoding),
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("COURT_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("COURT_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("COURT_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("COURT_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("COURT_PING_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("COURT_PING_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.PingInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("COURT_TICK_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("COURT_TICK_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.TickInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("COURT_GRACE_WINDOW")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration < 0 {
			problems = append(problems, fmt.Sprintf("COURT_GRACE_WINDOW must be a non-negative duration, got %q", raw))
		} else {
			cfg.GraceWindow = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("COURT_MATCHMAKING_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("COURT_MATCHMAKING_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.MatchmakingInterval = duration
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.StatsEncoding)) {
	case "snappy", "gzip":
		cfg.StatsEncoding = strings.ToLower(strings.TrimSpace(cfg.StatsEncoding))
	default:
		problems = append(problems, fmt.Sprintf("COURT_STATS_ENCODING must be snappy or gzip, got %q", cfg.StatsEncoding))
	}

	if raw := strings.TrimSpace(os.Getenv("COURT_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("COURT_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("COURT_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("COURT_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("COURT_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("COURT_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
