package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusline/internal/config"
	"focusline/internal/db"
)

func TestOpenSeedsDefaults(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(context.Background(), dir, "seeded", nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "seeded", a.Config.App.ID)
	assert.Equal(t, 0, a.Queue.Len())
	_, statErr := os.Stat(db.Path(dir))
	assert.NoError(t, statErr, "database file created in the workspace")
}

func TestOpenReadsWorkspaceConfig(t *testing.T) {
	dir := t.TempDir()
	yml := config.GenerateDefault("from-file")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "focusline.yml"), []byte(yml), 0o644))

	a, err := Open(context.Background(), dir, "ignored", nil)
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, "from-file", a.Config.App.ID)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "focusline.yml"), []byte("app:\n  id: \"\"\n"), 0o644))

	_, err := Open(context.Background(), dir, "x", nil)
	require.Error(t, err)
}

func TestQueueBacklogSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	a1, err := Open(ctx, dir, "test", nil)
	require.NoError(t, err)
	a1.Queue.Enqueue(ctx, "create_task", json.RawMessage(`{"title":"kept"}`), nil)
	require.NoError(t, a1.Close())

	a2, err := Open(ctx, dir, "test", nil)
	require.NoError(t, err)
	defer a2.Close()
	require.Equal(t, 1, a2.Queue.Len())
	assert.Equal(t, "create_task", a2.Queue.Items()[0].Op)
}

func TestDiscardWritesEvent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	yml := config.GenerateDefault("test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "focusline.yml"), []byte(yml), 0o644))

	a, err := Open(ctx, dir, "test", nil)
	require.NoError(t, err)
	defer a.Close()
	a.Remote.BaseURL = srv.URL

	a.Queue.Enqueue(ctx, "create_task", json.RawMessage(`{}`), nil)
	a.Queue.SetOnline(true)

	// A failed pass ends without rescheduling itself; pump further passes
	// the way a reconnect or enqueue would.
	require.Eventually(t, func() bool {
		a.Queue.Drain(ctx)
		count, err := a.Events.CountByType(ctx, EventQueueDiscarded)
		return err == nil && count == 1
	}, 5*time.Second, 20*time.Millisecond, "three failed attempts end in a discard event")
	assert.Equal(t, 0, a.Queue.Len())
	assert.Equal(t, 1, a.Queue.DiscardedCount())
}

func TestMonitorFeedsQueue(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	a, err := Open(ctx, dir, "test", nil)
	require.NoError(t, err)
	defer a.Close()

	assert.False(t, a.Queue.Online())
	a.Monitor.SetOnline(true)
	assert.True(t, a.Queue.Online(), "monitor transitions propagate to the queue")
}
