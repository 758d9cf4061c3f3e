package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"meshcore/internal/config"
	"meshcore/pkg/resource"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Resources = []resource.Resource{{
		Name:   "note",
		Fields: []resource.Field{{Name: "title", Type: resource.TypeText}},
	}}
	return cfg
}

func TestCLIRejectsBadFlagsAndConfig(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, 2, cli(context.Background(), []string{"-nope"}, &stderr))

	stderr.Reset()
	code := cli(context.Background(), []string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "read config")
}

func TestCLIStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meshd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: error\n"), 0o600))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var stderr bytes.Buffer
	assert.Equal(t, 0, cli(ctx, []string{"-config", path, "-addr", "127.0.0.1:0"}, &stderr))
}

func TestBuildServesResourcesAndMetrics(t *testing.T) {
	handler, closeStore, err := build(context.Background(), testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeStore() })
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	resp, err := http.Post(ts.URL+"/note", resource.MimeJSON, strings.NewReader(`{"title":"x"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "meshcore_http_requests_total")
}

func TestBuildWithoutMetrics(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	handler, closeStore, err := build(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeStore() })
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBuildRejectsUnknownDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Storage.Driver = "tape"
	_, _, err := build(context.Background(), cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestServeShutsDownGracefully(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, testConfig(), zaptest.NewLogger(t)) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}
}
