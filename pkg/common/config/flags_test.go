package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagsOverrideOnlyWhenSet(t *testing.T) {
	t.Setenv("VISION_CONFIG_FILE", "")
	t.Setenv("VISION_CLIENT_ID", "env-client")
	t.Setenv("VISION_API_HOST", "https://env.example.com")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags := BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--api-host", "https://flag.example.com", "-w", "2", "--retry-interval", "250ms"}))

	cfg, err := flags.Load()
	require.NoError(t, err)
	assert.Equal(t, "https://flag.example.com", cfg.APIHost)
	assert.Equal(t, "env-client", cfg.ClientID)
	assert.Equal(t, 2, cfg.MaxWorkers)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryInterval)
}
