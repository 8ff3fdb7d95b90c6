package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camera-inspection/internal/config"
)

func TestApplyFlagsOverridesFile(t *testing.T) {
	cfg := config.Default()
	applyFlags(cfg, "rtsp://cam/stream", "/srv/still.png", "/srv/snaps", "", false)

	assert.Equal(t, "rtsp://cam/stream", cfg.Camera.Device)
	assert.Equal(t, "/srv/still.png", cfg.FallbackImage)
	assert.Equal(t, "/srv/snaps", cfg.SnapshotDir)
	assert.False(t, cfg.Web.Enabled)
	assert.True(t, cfg.GUI.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestApplyFlagsHeadlessEnablesWeb(t *testing.T) {
	cfg := config.Default()
	applyFlags(cfg, "", "", "", "", true)

	assert.False(t, cfg.GUI.Enabled)
	assert.True(t, cfg.Web.Enabled)
	assert.Equal(t, "127.0.0.1:8080", cfg.Web.Addr)
	assert.Equal(t, "0", cfg.Camera.Device)
	require.NoError(t, cfg.Validate())
}

func TestApplyFlagsAddr(t *testing.T) {
	cfg := config.Default()
	applyFlags(cfg, "", "", "", ":9090", false)

	assert.True(t, cfg.Web.Enabled)
	assert.True(t, cfg.GUI.Enabled)
	assert.Equal(t, ":9090", cfg.Web.Addr)
}
