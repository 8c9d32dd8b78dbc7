package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donlair/pubsub/pkg/broker"
	"github.com/donlair/pubsub/pkg/config"
)

func TestLoadAppliesEnvOverridesAndDefaults(t *testing.T) {
	os.Setenv("BROKER_SWEEP_INTERVAL", "5s")
	t.Cleanup(func() { os.Unsetenv("BROKER_SWEEP_INTERVAL") })

	var cfg broker.BrokerConfig
	require.NoError(t, config.Load(&cfg))

	assert.Equal(t, 5*time.Second, cfg.SweepInterval)
	assert.False(t, cfg.MutexDebug)
}
