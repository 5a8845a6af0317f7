package configsvc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testConfig struct {
	Name    string           `json:"name"`
	Retries int              `json:"retries"`
	Zones   map[int32]string `json:"zones,omitempty"`
}

func TestLoadOrInitWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sensr.yml")
	def := testConfig{Name: "default", Retries: 3}

	cfg, err := LoadOrInit(path, def)
	require.NoError(t, err)
	assert.Equal(t, def, cfg)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "name: default")
}

func TestLoadKeepsDefaultsForMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensr.yml")
	require.NoError(t, os.WriteFile(path, []byte("name: lobby\nzones:\n  1007: ATM 1\n"), 0o644))

	cfg, err := Load(path, testConfig{Retries: 3})
	require.NoError(t, err)
	assert.Equal(t, testConfig{Name: "lobby", Retries: 3, Zones: map[int32]string{1007: "ATM 1"}}, cfg)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "none.yml"), testConfig{})
	assert.True(t, os.IsNotExist(err))
}

func TestRegisterReload(t *testing.T) {
	svc, err := New(zap.NewNop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = svc.Start(ctx)
	}()
	<-svc.Ready()

	path := filepath.Join(t.TempDir(), "sensr.yml")
	updates := make(chan testConfig, 8)
	cfg, err := Register(svc, path, testConfig{Name: "initial"}, func(config testConfig, err error) {
		if err == nil {
			updates <- config
		}
	})
	require.NoError(t, err)
	assert.Equal(t, "initial", cfg.Name)

	require.NoError(t, Write(path, testConfig{Name: "reloaded"}))

	timeout := time.After(2 * time.Second)
	for {
		select {
		case got := <-updates:
			if got.Name == "reloaded" {
				return
			}
		case <-timeout:
			t.Fatal("no reload observed")
		}
	}
}
