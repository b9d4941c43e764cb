package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DefaultPort     = "3000"
	DefaultLogLevel = "info"
)

var ErrInvalidPort = errors.New("invalid port")

type Config struct {
	Port     string
	LogLevel string
}

// Addr is the listen address for http.Server.
func (c Config) Addr() string { return net.JoinHostPort("", c.Port) }

// Load reads an optional .env from the working directory, then the process
// environment. Variables already set in the environment win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	cfg := Config{
		Port:     getenv("PORT", DefaultPort),
		LogLevel: strings.ToLower(getenv("LOG_LEVEL", DefaultLogLevel)),
	}
	n, err := strconv.Atoi(cfg.Port)
	if err != nil || n < 1 || n > 65535 {
		return Config{}, fmt.Errorf("%w: %q", ErrInvalidPort, cfg.Port)
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
