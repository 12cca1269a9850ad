package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/gigkeys/pkg/config"
)

type billingConfig struct {
	APIURL  string        `env:"BILLING_API_URL" envDefault:"http://localhost:3000"`
	Timeout time.Duration `env:"BILLING_TIMEOUT" envDefault:"30s"`
	Demo    bool          `env:"BILLING_DEMO" envDefault:"false"`
}

type requiredConfig struct {
	SecretKey string `env:"CFG_TEST_SECRET_KEY,required"`
}

func TestLoad(t *testing.T) {
	t.Run("uses defaults", func(t *testing.T) {
		var cfg billingConfig
		require.NoError(t, config.Load(&cfg, config.WithEnvFiles(filepath.Join(t.TempDir(), "missing.env"))))
		assert.Equal(t, "http://localhost:3000", cfg.APIURL)
		assert.Equal(t, 30*time.Second, cfg.Timeout)
		assert.False(t, cfg.Demo)
	})

	t.Run("reads environment", func(t *testing.T) {
		t.Setenv("BILLING_API_URL", "https://api.example.com")
		t.Setenv("BILLING_TIMEOUT", "5s")
		var cfg billingConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "https://api.example.com", cfg.APIURL)
		assert.Equal(t, 5*time.Second, cfg.Timeout)
	})

	t.Run("applies prefix", func(t *testing.T) {
		t.Setenv("GETKEYS_BILLING_DEMO", "true")
		var cfg billingConfig
		require.NoError(t, config.Load(&cfg, config.WithPrefix("GETKEYS_")))
		assert.True(t, cfg.Demo)
	})

	t.Run("reads env file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.env")
		require.NoError(t, os.WriteFile(path, []byte("CFG_FILE_ONLY_TIMEOUT=7s\n"), 0o600))
		t.Cleanup(func() { os.Unsetenv("CFG_FILE_ONLY_TIMEOUT") })

		var cfg struct {
			Timeout time.Duration `env:"CFG_FILE_ONLY_TIMEOUT"`
		}
		require.NoError(t, config.Load(&cfg, config.WithEnvFiles(path)))
		assert.Equal(t, 7*time.Second, cfg.Timeout)
	})

	t.Run("missing required value", func(t *testing.T) {
		var cfg requiredConfig
		err := config.Load(&cfg)
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("nil pointer", func(t *testing.T) {
		var cfg *billingConfig
		assert.ErrorIs(t, config.Load(cfg), config.ErrNilPointer)
	})
}

func TestMustLoad(t *testing.T) {
	assert.Panics(t, func() {
		var cfg requiredConfig
		config.MustLoad(&cfg)
	})

	t.Setenv("CFG_TEST_SECRET_KEY", "sk_test")
	var cfg requiredConfig
	assert.NotPanics(t, func() { config.MustLoad(&cfg) })
	assert.Equal(t, "sk_test", cfg.SecretKey)
}
