package filecache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaemon_RunsTrialsAndStops(t *testing.T) {
	fc, p := setupTrialEnv(t)
	bus := NewEventBus()
	d := NewDaemon(fc, bus, DaemonConfig{
		Listen:    "127.0.0.1:0",
		Workers:   1,
		StatsRoot: filepath.Dir(p),
		Watch:     true,
		Insecure:  true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- d.Run(ctx) }()

	id, err := d.Runner().Submit(TrialRequest{Path: p, Content: "Y", Command: "true", Keep: true})
	require.NoError(t, err)
	res := waitForStatus(t, d.Runner(), id, TrialPassed)
	assert.False(t, res.Reverted)

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "Y", string(data))

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(7 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestDaemon_Handler(t *testing.T) {
	fc, _ := setupTrialEnv(t)
	d := NewDaemon(fc, NewEventBus(), DaemonConfig{Secret: "k"})

	w := httptest.NewRecorder()
	d.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDaemon_RefusesToServeWithoutSecret(t *testing.T) {
	fc, _ := setupTrialEnv(t)
	d := NewDaemon(fc, NewEventBus(), DaemonConfig{Listen: "127.0.0.1:0"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.Error(t, d.Run(ctx))
}
