package diagnostics_test

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bhuvisx/area-news/backend/internal/diagnostics"
	"github.com/bhuvisx/area-news/backend/internal/logger"
)

func TestSaveWritesSanitizedPath(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	store := diagnostics.New(dir, logger.Discard())

	store.Save("Model Colony", "first")
	store.Save("Model Colony", "second")

	path := filepath.Join(dir, "sonar_raw_Model_Colony.txt")
	require.Equal(t, path, store.Path("Model Colony"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "second", string(data))
}

func TestSaveStaysInsideDir(t *testing.T) {
	dir := t.TempDir()
	store := diagnostics.New(dir, nil)
	store.Save("../escape", "raw")

	require.Equal(t, dir, filepath.Dir(store.Path("../escape")))
	_, err := os.Stat(filepath.Join(dir, "sonar_raw____escape.txt"))
	require.NoError(t, err)
}

func TestSaveSwallowsErrors(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	store := diagnostics.New(filepath.Join(blocker, "data"), logger.Discard())
	require.NotPanics(t, func() { store.Save("Swargate", "raw") })

	var nilStore *diagnostics.Store
	require.NotPanics(t, func() { nilStore.Save("Swargate", "raw") })
	require.NotPanics(t, func() { diagnostics.New("", nil).Save("Swargate", "raw") })
}

func TestSaveConcurrentSameArea(t *testing.T) {
	dir := t.TempDir()
	var logs bytes.Buffer
	store := diagnostics.New(dir, slog.New(slog.NewTextHandler(&logs, nil)))

	bodies := make([]string, 8)
	for i := range bodies {
		size := 1 << 10
		if i%2 == 0 {
			size = 1 << 20
		}
		bodies[i] = strings.Repeat(string(rune('a'+i)), size)
	}

	for round := 0; round < 20; round++ {
		var wg sync.WaitGroup
		for _, body := range bodies {
			wg.Add(1)
			go func(body string) {
				defer wg.Done()
				store.Save("Swargate", body)
			}(body)
		}
		wg.Wait()

		data, err := os.ReadFile(store.Path("Swargate"))
		require.NoError(t, err)
		require.Contains(t, bodies, string(data), "round %d left a mixed file", round)
	}

	require.Empty(t, logs.String())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
