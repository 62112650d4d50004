package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fixlab/internal/config"
)

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)

	dir := t.TempDir()
	cfg.DB.Driver = driver
	cfg.DB.DSN = filepath.Join(dir, "db", "fixlab.db")
	cfg.Storage.ScreenshotDir = filepath.Join(dir, "shots")
	cfg.Storage.GCSBucket = ""
	cfg.PubSub = config.PubSubConfig{}
	cfg.Driver.Disabled = true
	cfg.Telemetry.Enabled = false
	cfg.Logging.Development = true
	cfg.Logging.Level = "error"
	return &cfg
}

func TestBuildWiresMemoryApp(t *testing.T) {
	app, err := Build(context.Background(), testConfig(t, config.DriverMemory))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	require.NotNil(t, app.Service())
	require.NotNil(t, app.Logger())

	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, _ := json.Marshal(map[string]any{"url": "https://shop.example.com"})
	resp, err = http.Post(srv.URL+"/audit", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Sessions []struct {
			SessionID string `json:"sessionId"`
		} `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Empty(t, list.Sessions)
}

func TestBuildWiresSQLiteApp(t *testing.T) {
	cfg := testConfig(t, config.DriverSQLite)
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)

	_, err = os.Stat(cfg.DB.DSN)
	require.NoError(t, err)
	require.NoError(t, app.Service().Ping(context.Background()))

	require.NoError(t, app.Close(context.Background()))
	require.NoError(t, app.Close(context.Background()))
}

func TestBuildFailsOnUnwritableScreenshotDir(t *testing.T) {
	cfg := testConfig(t, config.DriverMemory)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	cfg.Storage.ScreenshotDir = blocker

	_, err := Build(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "artifact store init failed")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := testConfig(t, config.DriverMemory)
	cfg.Server.Port = freePort(t)
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	cancel()
	assert.NoError(t, <-done)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln := httptest.NewUnstartedServer(http.NotFoundHandler()).Listener
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}
