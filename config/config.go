package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port         int
	AdminAddr    string
	ReadTimeout  int // seconds
	WriteTimeout int // seconds
	LogLevel     string
	LogPretty    bool
}

func Load() *Config {
	cfg := &Config{
		Port:         4050,
		AdminAddr:    "127.0.0.1:9180",
		ReadTimeout:  120,
		WriteTimeout: 30,
		LogLevel:     "info",
	}

	if portStr := os.Getenv("CHATWIRE_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.Port = port
		}
	}

	if addr := os.Getenv("CHATWIRE_ADMIN_ADDR"); addr != "" {
		cfg.AdminAddr = addr
	}

	if timeoutStr := os.Getenv("CHATWIRE_READ_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.ReadTimeout = timeout
		}
	}

	if timeoutStr := os.Getenv("CHATWIRE_WRITE_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.WriteTimeout = timeout
		}
	}

	if level := os.Getenv("CHATWIRE_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if pretty := os.Getenv("CHATWIRE_LOG_PRETTY"); pretty != "" {
		cfg.LogPretty = pretty == "1" || pretty == "true"
	}

	return cfg
}
