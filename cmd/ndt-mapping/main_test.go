package main

import (
	"flag"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ndt-mapping/internal/config"
	"github.com/banshee-data/ndt-mapping/internal/lidar/localmap"
	"github.com/banshee-data/ndt-mapping/internal/lidar/pose"
	"github.com/banshee-data/ndt-mapping/internal/lidar/scan"
	"github.com/banshee-data/ndt-mapping/internal/timeutil"
)

func TestLogWriter(t *testing.T) {
	w, c, err := logWriter("")
	require.NoError(t, err)
	assert.Nil(t, w)
	assert.Nil(t, c)

	w, c, err = logWriter("stderr")
	require.NoError(t, err)
	assert.NotNil(t, w)
	assert.Nil(t, c)

	path := filepath.Join(t.TempDir(), "ops.log")
	w, c, err = logWriter(path)
	require.NoError(t, err)
	require.NotNil(t, c)
	_, err = w.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.FileExists(t, path)

	_, _, err = logWriter(filepath.Join(t.TempDir(), "missing", "dir", "x.log"))
	assert.Error(t, err)
}

func TestSetupLogging_Legacy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")
	closeLogs, err := setupLogging("", "", "", path)
	require.NoError(t, err)
	closeLogs()
	assert.FileExists(t, path)

	closeLogs, err = setupLogging("", "", "", "")
	require.NoError(t, err)
	closeLogs()
}

func TestNewLocalizer_UnavailableBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	gpu := "gpu"
	cfg.Method = &gpu
	_, _, err := newLocalizer(cfg, timeutil.NewMockClock(time.Unix(0, 0)))
	assert.Error(t, err)
}

func TestOpenStore_ResumesLatestSnapshot(t *testing.T) {
	cfg := config.DefaultConfig()
	path := filepath.Join(t.TempDir(), "ndt.db")
	clock := timeutil.NewMockClock(time.Unix(0, 0))

	// First run: seed a snapshot.
	loc, _, err := newLocalizer(cfg, clock)
	require.NoError(t, err)
	store, err := openStore(path, cfg, loc, false, "first")
	require.NoError(t, err)
	added := pose.Pose{X: 12, Y: -3, Yaw: 0.4}
	require.NoError(t, store.SaveMap(localmap.State{
		Points:     []scan.Point{{X: 1, Y: 2, Z: 3, Intensity: 4}, {X: 5}},
		AddedPose:  added,
		FusedCount: 7,
		Revision:   3,
	}))
	require.NoError(t, store.Close())

	// Second run resumes from it.
	loc, _, err = newLocalizer(cfg, clock)
	require.NoError(t, err)
	store, err = openStore(path, cfg, loc, true, "second")
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, added, loc.State().Pose)
	assert.Len(t, loc.Map().State().Points, 2)
	assert.NotEmpty(t, store.SessionID())
}

func TestLogFlagsSet(t *testing.T) {
	newSet := func() *flag.FlagSet {
		fs := flag.NewFlagSet("ndt-mapping", flag.ContinueOnError)
		fs.String("log-ops", "stderr", "")
		fs.String("log-diag", "", "")
		fs.String("log-trace", "", "")
		fs.String("config", "", "")
		return fs
	}

	fs := newSet()
	require.NoError(t, fs.Parse([]string{"-config", "c.yaml"}))
	assert.False(t, logFlagsSet(fs), "defaults leave NDT_DEBUG_LOG in charge")

	fs = newSet()
	require.NoError(t, fs.Parse([]string{"-log-diag", "stdout"}))
	assert.True(t, logFlagsSet(fs))
}
