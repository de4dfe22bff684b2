package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sady37/startline-relay/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	registryPath := filepath.Join(t.TempDir(), "athletes.json")
	require.NoError(t, os.WriteFile(registryPath, []byte(`{"athletes":[]}`), 0o644))

	t.Setenv("ATHLETES_CONFIG", registryPath)
	t.Setenv("SESSION_DIR", t.TempDir())
	t.Setenv("PORT", "0")
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestNew_missingRegistryFileFailsStartup(t *testing.T) {
	cfg := testConfig(t)
	cfg.AthletesConfigPath = filepath.Join(t.TempDir(), "does-not-exist.json")

	_, err := New(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestNewMock_assemblesWithoutError(t *testing.T) {
	cfg := testConfig(t)
	mock, err := NewMock(cfg, MockOptions{AthleteCount: 2, IntervalMs: 50}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, mock)

	// Stop must be safe to call even though Start was never invoked.
	assert.NoError(t, mock.Stop(context.Background()))
}

func TestNew_assemblesWithoutOptionalInfra(t *testing.T) {
	cfg := testConfig(t)
	relay, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, relay)

	assert.NoError(t, relay.Stop(context.Background()))
}

func TestMockService_startStopLifecycle(t *testing.T) {
	cfg := testConfig(t)
	mock, err := NewMock(cfg, MockOptions{AthleteCount: 1, IntervalMs: 20}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- mock.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("mock service did not stop after context cancellation")
	}

	assert.NoError(t, mock.Stop(context.Background()))
}
