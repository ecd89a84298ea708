package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaRecentTopic string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration
	Workers            int

	// Field-note / malfunction feed.
	NotesURL     string
	NotesEnabled bool
	NotesTimeout time.Duration

	// Threshold tables and the committed historical record.
	ThresholdsPath string
	HistoryDSN     string

	// Engine tunables. Defaults match the network's standard operating point;
	// none of them is a formal invariant.
	Cadence         time.Duration
	RecentWindow    time.Duration
	NetworkFraction float64
	DONoiseStdDev   float64
	DONoiseSlope    float64
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDurationEnv("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	flushInterval, err := parseDurationEnv("BATCH_FLUSH_INTERVAL", 500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	notesTimeout, err := parseDurationEnv("NOTES_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	cadence, err := parseDurationEnv("INTERVAL_CADENCE", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	recentWindow, err := parseDurationEnv("RECENT_WINDOW", 45*24*time.Hour)
	if err != nil {
		return nil, err
	}

	batchSize, err := parseIntEnv("BATCH_SIZE", 500, 1, 10000)
	if err != nil {
		return nil, err
	}
	workers, err := parseIntEnv("WORKERS", 0, 0, 256)
	if err != nil {
		return nil, err
	}

	networkFraction, err := parseFloatEnv("NETWORK_EVENT_FRACTION", 0.6)
	if err != nil {
		return nil, err
	}
	doNoiseStdDev, err := parseFloatEnv("DO_NOISE_STDDEV", 0.5)
	if err != nil {
		return nil, err
	}
	doNoiseSlope, err := parseFloatEnv("DO_NOISE_SLOPE", 0.2)
	if err != nil {
		return nil, err
	}

	notesURL := os.Getenv("NOTES_URL")
	notesEnabled := notesURL != ""
	if v := os.Getenv("NOTES_ENABLED"); v != "" {
		notesEnabled = v == "true"
	}

	cfg := &Config{
		KafkaBrokers:     parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic: envOrDefault("KAFKA_SOURCE_TOPIC", "raw-river-measurements"),
		KafkaSinkTopic:   envOrDefault("KAFKA_SINK_TOPIC", "qc-flagged-records"),
		KafkaRecentTopic: envOrDefault("KAFKA_RECENT_TOPIC", "qc-recent-records"),
		KafkaGroupID:     envOrDefault("KAFKA_GROUP_ID", "river-qc-etl"),
		HTTPAddr:         envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:  shutdownTimeout,

		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,
		Workers:            workers,

		NotesURL:     notesURL,
		NotesEnabled: notesEnabled,
		NotesTimeout: notesTimeout,

		ThresholdsPath: envOrDefault("THRESHOLDS_PATH", "thresholds.yaml"),
		HistoryDSN:     envOrDefault("HISTORY_DSN", "file:river_qc.db?_pragma=busy_timeout(5000)"),

		Cadence:         cadence,
		RecentWindow:    recentWindow,
		NetworkFraction: networkFraction,
		DONoiseStdDev:   doNoiseStdDev,
		DONoiseSlope:    doNoiseSlope,
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}
	if cfg.NotesEnabled && cfg.NotesURL == "" {
		return nil, errors.New("NOTES_ENABLED is true but NOTES_URL is not set")
	}
	if cfg.NetworkFraction <= 0 || cfg.NetworkFraction > 1 {
		return nil, errors.New("NETWORK_EVENT_FRACTION must be in (0, 1]")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBrokers(value string) []string {
	parts := strings.Split(value, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	return brokers
}

func parseDurationEnv(key string, fallback time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseIntEnv(key string, fallback, min, max int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < min || n > max {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func parseFloatEnv(key string, fallback float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return f, nil
}
