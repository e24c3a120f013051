package filecache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestComputeState_Scenarios(t *testing.T) {
	tests := []struct {
		name     string
		snapshot *string
		disk     *string
		locked   bool
		want     Scenario
	}{
		{"missing uncached", nil, nil, false, ScenarioMissing},
		{"missing with snapshot", ptr("x"), nil, false, ScenarioMissing},
		{"missing but locked", nil, nil, true, ScenarioMissing},
		{"locked", ptr("x"), ptr("y"), true, ScenarioLocked},
		{"uncached", nil, ptr("x"), false, ScenarioUncached},
		{"cached clean", ptr("x"), ptr("x"), false, ScenarioCached},
		{"modified", ptr("x"), ptr("y"), false, ScenarioModified},
		{"empty snapshot vs content", ptr(""), ptr("y"), false, ScenarioModified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := ComputeState("/p", tt.snapshot, tt.disk, tt.locked)
			assert.Equal(t, tt.want, st.Scenario())
		})
	}
}

func TestStatus_FollowsOperations(t *testing.T) {
	fc, fsys := newMemCache(t, 10)
	ctx := context.Background()
	p := "/data/a.txt"

	st, err := fc.Status(p)
	require.NoError(t, err)
	assert.Equal(t, ScenarioMissing, st.Scenario())

	writeFile(t, fsys, p, "x")
	st, _ = fc.Status(p)
	assert.Equal(t, ScenarioUncached, st.Scenario())

	require.NoError(t, fc.Cache(p))
	st, _ = fc.Status(p)
	assert.Equal(t, ScenarioCached, st.Scenario())

	require.NoError(t, fc.Update(ctx, p, "y"))
	st, _ = fc.Status(p)
	assert.Equal(t, ScenarioModified, st.Scenario())
	assert.True(t, st.Dirty)

	writeFile(t, fsys, LockPath(p), "")
	st, _ = fc.Status(p)
	assert.Equal(t, ScenarioLocked, st.Scenario())
	require.NoError(t, fsys.Remove(LockPath(p)))

	require.NoError(t, fc.Revert(ctx, p))
	st, _ = fc.Status(p)
	assert.Equal(t, ScenarioUncached, st.Scenario())
}

func TestStatus_DoesNotTouchRecency(t *testing.T) {
	fc, fsys := newMemCache(t, 2)
	writeFile(t, fsys, "/a", "a")
	writeFile(t, fsys, "/b", "b")
	writeFile(t, fsys, "/c", "c")
	require.NoError(t, fc.Cache("/a"))
	require.NoError(t, fc.Cache("/b"))

	_, err := fc.Status("/a")
	require.NoError(t, err)
	require.NoError(t, fc.Cache("/c"))

	assert.False(t, fc.Contains("/a"))
}

func TestStatusAll(t *testing.T) {
	fc, fsys := newMemCache(t, 10)
	writeFile(t, fsys, "/d/b", "b")
	writeFile(t, fsys, "/d/a", "a")
	require.NoError(t, fc.Cache("/d/b"))
	require.NoError(t, fc.Cache("/d/a"))
	require.NoError(t, fsys.Remove("/d/b"))

	states, err := fc.StatusAll()
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "/d/a", states[0].Path)
	assert.Equal(t, ScenarioCached, states[0].Scenario())
	assert.Equal(t, ScenarioMissing, states[1].Scenario())
}
