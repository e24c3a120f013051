package filecache

import "errors"

// Scenario is the summarized condition of a path as seen by the cache.
type Scenario string

const (
	ScenarioMissing  Scenario = "missing"  // file absent on disk
	ScenarioLocked   Scenario = "locked"   // sentinel present, a writer holds the path
	ScenarioUncached Scenario = "uncached" // no snapshot
	ScenarioCached   Scenario = "cached"   // snapshot equals disk content
	ScenarioModified Scenario = "modified" // snapshot differs from disk content (undo available)
)

// PathState holds the variables used to determine a path's scenario.
type PathState struct {
	Path   string `json:"path"`
	Exists bool   `json:"exists"` // file exists on disk
	Cached bool   `json:"cached"` // snapshot held
	Locked bool   `json:"locked"` // sentinel present
	Dirty  bool   `json:"dirty"`  // disk content differs from the snapshot
}

// Scenario derives the scenario from the state, in priority order.
func (s PathState) Scenario() Scenario {
	switch {
	case !s.Exists:
		return ScenarioMissing
	case s.Locked:
		return ScenarioLocked
	case !s.Cached:
		return ScenarioUncached
	case s.Dirty:
		return ScenarioModified
	default:
		return ScenarioCached
	}
}

// ComputeState builds a PathState from the snapshot lookup and the disk read.
// disk is nil when the file does not exist.
func ComputeState(path string, snapshot *string, disk *string, locked bool) PathState {
	st := PathState{
		Path:   path,
		Exists: disk != nil,
		Cached: snapshot != nil,
		Locked: locked,
	}
	if snapshot != nil && disk != nil {
		st.Dirty = *snapshot != *disk
	}
	return st
}

// Status reports the state of path without changing recency or taking the lock.
func (c *FileCache) Status(path string) (PathState, error) {
	path, err := checkAbs(path)
	if err != nil {
		return PathState{}, err
	}

	var snapshot, disk *string
	if content, ok := c.Snapshot(path); ok {
		snapshot = &content
	}
	content, err := readContent(c.fs, path)
	switch {
	case err == nil:
		disk = &content
	case !errors.Is(err, ErrNotFound):
		return PathState{}, err
	}

	return ComputeState(path, snapshot, disk, IsLocked(c.fs, path)), nil
}

// StatusAll reports the state of every cached path in natural order.
func (c *FileCache) StatusAll() ([]PathState, error) {
	entries := c.Entries()
	out := make([]PathState, 0, len(entries))
	for _, e := range entries {
		st, err := c.Status(e.Path)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}
