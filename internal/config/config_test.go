package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		port     string
		logLevel string
		want     Config
		wantErr  bool
	}{
		{name: "defaults", want: Config{Port: "3000", LogLevel: "info"}},
		{name: "explicit", port: "8080", logLevel: "DEBUG", want: Config{Port: "8080", LogLevel: "debug"}},
		{name: "blank port falls back", port: "  ", want: Config{Port: "3000", LogLevel: "info"}},
		{name: "not a number", port: "http", wantErr: true},
		{name: "zero", port: "0", wantErr: true},
		{name: "too large", port: "70000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PORT", tt.port)
			t.Setenv("LOG_LEVEL", tt.logLevel)

			cfg, err := FromEnv()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidPort)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg)
		})
	}
}

func TestAddr(t *testing.T) {
	assert.Equal(t, ":3000", Config{Port: "3000"}.Addr())
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PORT=4100\nLOG_LEVEL=warn\n"), 0o600))
	t.Chdir(dir)

	// An empty value counts as set for godotenv, so clear them completely.
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	require.NoError(t, os.Unsetenv("PORT"))
	require.NoError(t, os.Unsetenv("LOG_LEVEL"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Config{Port: "4100", LogLevel: "warn"}, cfg)
}

func TestLoad_MissingDotEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "5000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "5000", cfg.Port)
}
