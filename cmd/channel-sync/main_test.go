package main

import (
	"context"
	"errors"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pms/internal/config"
)

func TestRunService_ConfigError(t *testing.T) {
	called := false
	err := runService(context.Background(),
		func() (config.Config, error) { return config.Config{}, errors.New("bad env") },
		func(context.Context, config.Config) error { called = true; return nil },
	)
	require.EqualError(t, err, "bad env")
	require.False(t, called, "run must not start with invalid config")
}

func TestRunService_CanceledIsNotAnError(t *testing.T) {
	cfg := config.NewTestConfig()
	cfg.Log.Level = "debug"

	var got config.Config
	err := runService(context.Background(),
		func() (config.Config, error) { return cfg, nil },
		func(_ context.Context, c config.Config) error { got = c; return context.Canceled },
	)
	require.NoError(t, err)
	require.Equal(t, cfg, got)
	require.Equal(t, log.DebugLevel, log.GetLevel())
}

func TestRunService_RunError(t *testing.T) {
	err := runService(context.Background(),
		func() (config.Config, error) { return config.NewTestConfig(), nil },
		func(context.Context, config.Config) error { return errors.New("listen tcp: address in use") },
	)
	require.ErrorContains(t, err, "address in use")
}

func TestRunService_LoadsFromEnv(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "sqlite")

	err := runService(context.Background(), config.LoadConfig, func(context.Context, config.Config) error {
		t.Fatal("run must not be called")
		return nil
	})
	require.ErrorContains(t, err, "unsupported storage driver")
}
