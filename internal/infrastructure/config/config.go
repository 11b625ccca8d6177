package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr            string `yaml:"addr"`
	LogLevel        string `yaml:"logLevel"`
	CORSAllowOrigin string `yaml:"corsAllowOrigin"`

	// Store backend: "memory" (default) or "bolt"
	StoreBackend string `yaml:"storeBackend"`
	BoltPath     string `yaml:"boltPath"`

	// Replay defaults; per-request options override them
	ReplayConcurrency int `yaml:"replayConcurrency"`
	ReplayDelayMs     int `yaml:"replayDelayMs"`
	ReplayTimeoutMs   int `yaml:"replayTimeoutMs"`

	// Capturing reverse proxy (/proxy/*): default upstream when the
	// request does not carry ?target=
	ProxyTarget string `yaml:"proxyTarget"`

	// Body capture cap for the proxy path; larger bodies are truncated
	BodyMaxBytes int `yaml:"bodyMaxBytes"`

	// Mask Authorization/Cookie values in HAR exports
	RedactExports bool `yaml:"redactExports"`
}

func defaults() Config {
	return Config{
		Addr:              ":9090",
		LogLevel:          "info",
		CORSAllowOrigin:   "*",
		StoreBackend:      "memory",
		BoltPath:          "reqlens.db",
		ReplayConcurrency: 4,
		ReplayDelayMs:     0,
		ReplayTimeoutMs:   30000,
		BodyMaxBytes:      4 << 20, // 4MB
	}
}

// Load builds the configuration: defaults, then the optional YAML file
// (CONFIG_FILE or the path argument), then environment overrides.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if cfg.StoreBackend != "memory" && cfg.StoreBackend != "bolt" {
		return cfg, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	cfg.Addr = getEnv("ADDR", cfg.Addr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.CORSAllowOrigin = getEnv("CORS_ALLOW_ORIGIN", cfg.CORSAllowOrigin)
	cfg.StoreBackend = getEnv("STORE_BACKEND", cfg.StoreBackend)
	cfg.BoltPath = getEnv("BOLT_PATH", cfg.BoltPath)
	cfg.ReplayConcurrency = getEnvInt("REPLAY_CONCURRENCY", cfg.ReplayConcurrency)
	cfg.ReplayDelayMs = getEnvInt("REPLAY_DELAY_MS", cfg.ReplayDelayMs)
	cfg.ReplayTimeoutMs = getEnvInt("REPLAY_TIMEOUT_MS", cfg.ReplayTimeoutMs)
	cfg.ProxyTarget = getEnv("PROXY_TARGET", cfg.ProxyTarget)
	cfg.BodyMaxBytes = getEnvInt("BODY_MAX_BYTES", cfg.BodyMaxBytes)
	if v := os.Getenv("REDACT_EXPORTS"); v == "1" || v == "true" {
		cfg.RedactExports = true
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
