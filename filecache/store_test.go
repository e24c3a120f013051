package filecache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := openDBAt(filepath.Join(t.TempDir(), "test-state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return newStore(db)
}

func TestOpenDB_CreatesSchema(t *testing.T) {
	db, err := openDBAt(filepath.Join(t.TempDir(), "nested", "state.db"))
	require.NoError(t, err)
	defer db.Close()

	var name string
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='snapshots'").Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "snapshots", name)

	var version string
	err = db.QueryRow("SELECT value FROM meta WHERE key = 'schema_version'").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, "1", version)
}

func TestOpenDB_Idempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	db1, err := openDBAt(dbPath)
	require.NoError(t, err)
	db1.Close()

	db2, err := openDBAt(dbPath)
	require.NoError(t, err)
	db2.Close()
}

func TestOpenDB_RejectsNewerSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := openDBAt(dbPath)
	require.NoError(t, err)
	_, err = db.Exec("UPDATE meta SET value = '99' WHERE key = 'schema_version'")
	require.NoError(t, err)
	db.Close()

	_, err = openDBAt(dbPath)
	assert.Error(t, err)
}

func TestStore_PutGetDelete(t *testing.T) {
	s := setupTestStore(t)

	require.NoError(t, s.PutSnapshot(Snapshot{Path: "/a", Content: "one", TouchedAt: 10}))
	sn, err := s.GetSnapshot("/a")
	require.NoError(t, err)
	require.NotNil(t, sn)
	assert.Equal(t, "one", sn.Content)
	assert.Equal(t, int64(10), sn.TouchedAt)

	require.NoError(t, s.PutSnapshot(Snapshot{Path: "/a", Content: "two", TouchedAt: 20}))
	sn, err = s.GetSnapshot("/a")
	require.NoError(t, err)
	assert.Equal(t, "two", sn.Content)

	require.NoError(t, s.DeleteSnapshot("/a"))
	sn, err = s.GetSnapshot("/a")
	require.NoError(t, err)
	assert.Nil(t, sn)

	// Deleting again is fine.
	require.NoError(t, s.DeleteSnapshot("/a"))
}

func TestStore_ListInTouchOrder(t *testing.T) {
	s := setupTestStore(t)

	require.NoError(t, s.PutSnapshot(Snapshot{Path: "/a", Content: "a"}))
	require.NoError(t, s.PutSnapshot(Snapshot{Path: "/b", Content: "b"}))
	require.NoError(t, s.PutSnapshot(Snapshot{Path: "/c", Content: "c"}))
	// Re-putting /a makes it the most recent.
	require.NoError(t, s.PutSnapshot(Snapshot{Path: "/a", Content: "a2"}))

	snaps, err := s.ListSnapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, "/b", snaps[0].Path)
	assert.Equal(t, "/c", snaps[1].Path)
	assert.Equal(t, "/a", snaps[2].Path)
	assert.Equal(t, "a2", snaps[2].Content)
}

func TestStore_EmptyContent(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.PutSnapshot(Snapshot{Path: "/empty", Content: ""}))

	sn, err := s.GetSnapshot("/empty")
	require.NoError(t, err)
	require.NotNil(t, sn)
	assert.Equal(t, "", sn.Content)
}
