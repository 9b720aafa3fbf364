package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the Bearsum service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	SessionSecret      string
	SessionIdleTimeout time.Duration
	CookieSecure       bool

	DatabaseURL string

	LLMAPIKey      string
	LLMBaseURL     string
	LLMModel       string
	LLMCallTimeout time.Duration

	GitHubAPIBase string
	GitHubToken   string

	MaxUploadFiles int
	MaxFileSizeMB  int
	UploadDir      string
	TaskRetention  time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "bearsum"),
		SessionSecret:    stringsTrimSpace("APP_SESSION_SECRET"),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		LLMAPIKey:        stringsTrimSpace("PERPLEXITY_API_KEY"),
		LLMBaseURL:       envOrDefault("LLM_BASE_URL", "https://api.perplexity.ai"),
		LLMModel:         envOrDefault("LLM_MODEL", "sonar-reasoning"),
		GitHubAPIBase:    envOrDefault("GITHUB_API_BASE", "https://api.github.com"),
		GitHubToken:      stringsTrimSpace("GITHUB_TOKEN"),
		UploadDir:        envOrDefault("APP_UPLOAD_DIR", os.TempDir()),

		ShutdownTimeout:    15 * time.Second,
		SessionIdleTimeout: 30 * time.Minute,
		CookieSecure:       false,
		LLMCallTimeout:     2 * time.Minute,
		MaxUploadFiles:     5,
		MaxFileSizeMB:      1,
		TaskRetention:      time.Hour,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionIdleTimeout, err = durationFromEnv("APP_SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CookieSecure, err = boolFromEnv("APP_COOKIE_SECURE", cfg.CookieSecure)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMCallTimeout, err = durationFromEnv("LLM_CALL_TIMEOUT", cfg.LLMCallTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxUploadFiles, err = intFromEnv("APP_MAX_UPLOAD_FILES", cfg.MaxUploadFiles)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxFileSizeMB, err = intFromEnv("APP_MAX_FILE_SIZE_MB", cfg.MaxFileSizeMB)
	if err != nil {
		return Config{}, err
	}
	cfg.TaskRetention, err = durationFromEnv("APP_TASK_RETENTION", cfg.TaskRetention)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionIdleTimeout < time.Minute {
		return Config{}, fmt.Errorf("APP_SESSION_IDLE_TIMEOUT must be at least 1m")
	}
	if cfg.LLMCallTimeout < time.Second {
		return Config{}, fmt.Errorf("LLM_CALL_TIMEOUT must be at least 1s")
	}
	if cfg.MaxUploadFiles <= 0 {
		return Config{}, fmt.Errorf("APP_MAX_UPLOAD_FILES must be positive")
	}
	if cfg.MaxFileSizeMB <= 0 {
		return Config{}, fmt.Errorf("APP_MAX_FILE_SIZE_MB must be positive")
	}
	if cfg.TaskRetention < time.Minute {
		return Config{}, fmt.Errorf("APP_TASK_RETENTION must be at least 1m")
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
