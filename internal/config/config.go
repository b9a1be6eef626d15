package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the read-aloud service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	Engine string

	KokoroPython       string
	KokoroWorkerScript string
	KokoroLangCode     string
	KokoroDevice       string

	Voice string
	Speed float64

	ChunkTargetSize int
	QueueCapacity   int
	HighlightTick   time.Duration
	WordsPerMinute  int

	AudioOutput string

	DocumentPath string

	DatabaseURL string
	PerfWindow  int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("LECTERN_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("LECTERN_METRICS_NAMESPACE", "lectern"),
		AllowAnyOrigin:   false,
		// "auto" probes kokoro and falls back to the mock tone engine.
		Engine:             envOrDefault("LECTERN_ENGINE", "auto"),
		KokoroPython:       envOrDefault("LECTERN_KOKORO_PYTHON", ""),
		KokoroWorkerScript: envOrDefault("LECTERN_KOKORO_WORKER_SCRIPT", "scripts/kokoro_worker.py"),
		KokoroLangCode:     envOrDefault("LECTERN_KOKORO_LANG_CODE", "a"),
		KokoroDevice:       envOrDefault("LECTERN_KOKORO_DEVICE", ""),
		Voice:              envOrDefault("LECTERN_VOICE", "af_heart"),
		Speed:              1.0,
		ChunkTargetSize:    200,
		QueueCapacity:      6,
		HighlightTick:      50 * time.Millisecond,
		WordsPerMinute:     170,
		// "auto" uses the speaker when a device opens, else paced timers.
		AudioOutput:              envOrDefault("LECTERN_AUDIO_OUTPUT", "auto"),
		DocumentPath:             stringsTrimSpace("LECTERN_DOCUMENT"),
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		PerfWindow:               256,
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 10 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("LECTERN_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("LECTERN_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HighlightTick, err = durationFromEnv("LECTERN_HIGHLIGHT_TICK", cfg.HighlightTick)
	if err != nil {
		return Config{}, err
	}
	cfg.ChunkTargetSize, err = intFromEnv("LECTERN_CHUNK_TARGET", cfg.ChunkTargetSize)
	if err != nil {
		return Config{}, err
	}
	cfg.QueueCapacity, err = intFromEnv("LECTERN_QUEUE_CAPACITY", cfg.QueueCapacity)
	if err != nil {
		return Config{}, err
	}
	cfg.WordsPerMinute, err = intFromEnv("LECTERN_WORDS_PER_MINUTE", cfg.WordsPerMinute)
	if err != nil {
		return Config{}, err
	}
	cfg.PerfWindow, err = intFromEnv("LECTERN_PERF_WINDOW", cfg.PerfWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.Speed, err = floatFromEnv("LECTERN_SPEED", cfg.Speed)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("LECTERN_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	switch cfg.Engine {
	case "auto", "kokoro", "mock":
	default:
		return Config{}, fmt.Errorf("LECTERN_ENGINE must be auto, kokoro, or mock")
	}
	switch cfg.AudioOutput {
	case "auto", "speaker", "timed":
	default:
		return Config{}, fmt.Errorf("LECTERN_AUDIO_OUTPUT must be auto, speaker, or timed")
	}
	if cfg.ChunkTargetSize < 40 {
		return Config{}, fmt.Errorf("LECTERN_CHUNK_TARGET must be at least 40")
	}
	if cfg.QueueCapacity <= 0 {
		return Config{}, fmt.Errorf("LECTERN_QUEUE_CAPACITY must be positive")
	}
	if cfg.HighlightTick < 10*time.Millisecond {
		return Config{}, fmt.Errorf("LECTERN_HIGHLIGHT_TICK must be at least 10ms")
	}
	if cfg.WordsPerMinute <= 0 {
		return Config{}, fmt.Errorf("LECTERN_WORDS_PER_MINUTE must be positive")
	}
	if cfg.Speed < 0.5 || cfg.Speed > 2.0 {
		return Config{}, fmt.Errorf("LECTERN_SPEED must be between 0.5 and 2.0")
	}
	if cfg.PerfWindow <= 0 {
		return Config{}, fmt.Errorf("LECTERN_PERF_WINDOW must be positive")
	}
	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("LECTERN_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
