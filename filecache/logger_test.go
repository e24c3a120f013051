package filecache

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger_LevelSplitFiles(t *testing.T) {
	prev := logger
	t.Cleanup(func() { logger = prev })

	dir := t.TempDir()
	InitLogger(dir, slog.LevelError+4)

	l := sub("test")
	l.Debug("debug line")
	l.Info("info line")
	l.Warn("warn line")

	read := func(name string) string {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		return string(data)
	}

	info := read("filecache_info.log")
	assert.Contains(t, info, "info line")
	assert.NotContains(t, info, "debug line")
	assert.NotContains(t, info, "warn line")

	assert.Contains(t, read("filecache_debug.log"), "debug line")
	assert.Contains(t, read("filecache_warn.log"), "warn line")
	assert.True(t, logEnabled(slog.LevelDebug))
}

func TestRecentErrors_NewestFirst(t *testing.T) {
	prev := logger
	t.Cleanup(func() { logger = prev })
	InitLogger("", slog.LevelError+4)

	l := sub("store").With("path", "/a")
	for i := 0; i < recentErrorsCap+2; i++ {
		l.Error("failed", "err", i)
	}
	sub("cache").Error("latest", "path", "/b")

	errs := RecentErrors()
	require.Len(t, errs, recentErrorsCap)
	assert.Equal(t, "latest", errs[0].Message)
	assert.Equal(t, "cache", errs[0].Comp)
	assert.Equal(t, "/b", errs[0].Path)
	assert.Equal(t, "store", errs[1].Comp)
	assert.Equal(t, "/a", errs[1].Path)
	assert.Equal(t, "6", errs[1].Error)
}
