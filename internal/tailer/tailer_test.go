package tailer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"logtools/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(lines <-chan string) (func() []string, <-chan struct{}) {
	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for l := range lines {
			mu.Lock()
			got = append(got, l)
			mu.Unlock()
		}
	}()
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), got...)
	}, done
}

func TestTailFile_ReadToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0644))

	lines := make(chan string)
	require.NoError(t, TailFile(context.Background(), path, false, lines, logging.Nop()))

	var got []string
	for l := range lines {
		got = append(got, l)
	}
	assert.Equal(t, []string{"one", "two", "three"}, got)
}

func TestTailFile_MissingFile(t *testing.T) {
	lines := make(chan string)
	err := TailFile(context.Background(), filepath.Join(t.TempDir(), "absent.log"), false, lines, logging.Nop())
	require.Error(t, err)

	_, open := <-lines
	assert.False(t, open, "lines must be closed on error")
}

func TestTailFile_Follow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.log")
	require.NoError(t, os.WriteFile(path, []byte("first\n"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lines := make(chan string)
	require.NoError(t, TailFile(ctx, path, true, lines, logging.Nop()))
	snapshot, done := collect(lines)

	require.Eventually(t, func() bool { return len(snapshot()) == 1 }, 5*time.Second, 50*time.Millisecond)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("second\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool { return len(snapshot()) == 2 }, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, []string{"first", "second"}, snapshot())

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lines not closed after cancel")
	}
}
