package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viewerhost/internal/config"
	"viewerhost/internal/logging"
	"viewerhost/internal/storage"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunMemoryTransport(t *testing.T) {
	cfg := config.Default()
	cfg.Messenger.CallTimeout = 2 * time.Second
	cfg.Transcript.Enabled = true
	cfg.Transcript.LevelDBPath = t.TempDir()

	in, feed := io.Pipe()
	out := &syncBuffer{}

	done := make(chan error, 1)
	go func() { done <- run(context.Background(), cfg, in, out, logging.NewNopLogger()) }()

	waitFor := func(substr string) {
		t.Helper()
		require.Eventually(t, func() bool { return strings.Contains(out.String(), substr) },
			3*time.Second, 10*time.Millisecond, "output never showed %q:\n%s", substr, out.String())
	}

	waitFor("Ready")
	_, err := io.WriteString(feed, "load Gearbox\n")
	require.NoError(t, err)
	waitFor(`"gear_box_final_asm"`)

	require.NoError(t, feed.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after input closed")
	}

	store, err := storage.NewLevelDB(cfg.Transcript.LevelDBPath)
	require.NoError(t, err)
	defer store.Close()
	recs, err := store.List(cfg.Viewer.ID, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, recs)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	in, feed := io.Pipe()
	defer feed.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, in, io.Discard, logging.NewNopLogger()) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
