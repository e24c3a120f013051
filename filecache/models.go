package filecache

import "time"

// nowFunc is the time source, replaceable in tests.
var nowFunc = time.Now

// Snapshot is the single stored prior content of a file.
type Snapshot struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	TouchedAt int64  `json:"touchedAt"` // nanoseconds
}

// Entry describes a cached path without its content.
type Entry struct {
	Path string `json:"path"`
	Size int    `json:"size"`
}

// Event types broadcast on the EventBus.
const (
	EventCached   = "cached"
	EventUpdated  = "updated"
	EventReverted = "reverted"
	EventEvicted  = "evicted"
	EventChanged  = "changed"
	EventTrial    = "trial"
)

// Event is a cache or trial notification pushed to SSE and websocket clients.
type Event struct {
	Type   string    `json:"type"`
	Path   string    `json:"path"`
	Time   time.Time `json:"time"`
	Detail string    `json:"detail,omitempty"`
}
