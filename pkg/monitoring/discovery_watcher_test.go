package monitoring

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/logging"
)

func TestDiscoveryWatcher_WakesOnPIDFileChange(t *testing.T) {
	dir := t.TempDir()
	watcher, err := NewDiscoveryWatcher([]string{dir, dir}, 10*time.Millisecond, nil, logging.NewNullLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		watcher.Run(ctx)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "db.pid"), []byte("123\n"), 0644))
	}

	select {
	case <-watcher.Wake():
	case <-time.After(2 * time.Second):
		t.Fatal("expected a discovery wakeup")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestDiscoveryWatcher_MissingDirectory(t *testing.T) {
	_, err := NewDiscoveryWatcher([]string{filepath.Join(t.TempDir(), "absent")}, 0, nil, logging.NewNullLogger())
	assert.True(t, errors.IsIOError(err))
}
