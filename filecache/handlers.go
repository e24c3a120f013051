package filecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/tomasen/realip"
)

// maxBodySize caps request bodies for file updates and trial submissions.
const maxBodySize = 32 << 20

// StatusResponse is a PathState with its derived scenario.
type StatusResponse struct {
	PathState
	Scenario Scenario `json:"scenario"`
}

// StatsResponse holds aggregate cache statistics.
type StatsResponse struct {
	Entries      int        `json:"entries"`
	Capacity     int        `json:"capacity"`
	QueueLen     int        `json:"queueLen"`
	Subscribers  int        `json:"subscribers"`
	Dropped      int64      `json:"droppedEvents"`
	DiskTotal    uint64     `json:"diskTotal"`
	DiskFree     uint64     `json:"diskFree"`
	RecentErrors []LogEntry `json:"recentErrors"`
}

// Handlers holds the HTTP handlers for the cache API.
type Handlers struct {
	fc        *FileCache
	runner    *Runner
	events    *EventBus
	secret    []byte
	statsRoot string
	upgrader  websocket.Upgrader
}

// NewHandlers creates the HTTP handlers. An empty secret disables token auth.
// statsRoot is the directory whose filesystem usage /api/stats reports.
func NewHandlers(fc *FileCache, runner *Runner, events *EventBus, secret, statsRoot string) *Handlers {
	return &Handlers{
		fc:        fc,
		runner:    runner,
		events:    events,
		secret:    []byte(secret),
		statsRoot: statsRoot,
		// nil CheckOrigin refuses cross-site pages.
		upgrader: websocket.Upgrader{},
	}
}

// Router registers all API routes.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.logRequests)
	r.Use(h.requireToken)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/file", h.HandleRead).Methods(http.MethodGet)
	api.HandleFunc("/status", h.HandleStatus).Methods(http.MethodGet)
	api.HandleFunc("/entries", h.HandleEntries).Methods(http.MethodGet)
	api.HandleFunc("/trials/{id}", h.HandleGetTrial).Methods(http.MethodGet)
	api.HandleFunc("/events", h.HandleSSE).Methods(http.MethodGet)
	api.HandleFunc("/events/ws", h.HandleWebsocket).Methods(http.MethodGet)
	api.HandleFunc("/stats", h.HandleStats).Methods(http.MethodGet)

	// Mutations
	api.Handle("/file", requireNonSimple(http.HandlerFunc(h.HandleUpdate))).Methods(http.MethodPut)
	api.Handle("/cache", requireNonSimple(http.HandlerFunc(h.HandleCache))).Methods(http.MethodPost)
	api.Handle("/revert", requireNonSimple(http.HandlerFunc(h.HandleRevert))).Methods(http.MethodPost)
	api.Handle("/trials", requireNonSimple(http.HandlerFunc(h.HandleSubmitTrial))).Methods(http.MethodPost)
	api.Handle("/trials/{id}", requireNonSimple(http.HandlerFunc(h.HandleCancelTrial))).Methods(http.MethodDelete)
	return r
}

func (h *Handlers) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub("handlers").Info("HTTP", "method", r.Method, "url", r.URL.Path,
			"path", r.URL.Query().Get("path"), "remote", realip.FromRequest(r))
		next.ServeHTTP(w, r)
	})
}

// writeError maps cache errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidArgument):
		code = http.StatusBadRequest
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNotFoundInCache):
		code = http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		sub("handlers").Error("request failed", "err", err)
	}
	http.Error(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// HandleRead handles GET /api/file?path=<abs>
func (h *Handlers) HandleRead(w http.ResponseWriter, r *http.Request) {
	content, err := h.fc.Read(r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, content) //nolint:errcheck
}

// HandleUpdate handles PUT /api/file?path=<abs> with the new content as body.
// The request blocks while another writer holds the path.
func (h *Handlers) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.fc.Update(r.Context(), r.URL.Query().Get("path"), string(body)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleCache handles POST /api/cache?path=<abs>
func (h *Handlers) HandleCache(w http.ResponseWriter, r *http.Request) {
	if err := h.fc.Cache(r.URL.Query().Get("path")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleRevert handles POST /api/revert?path=<abs>
func (h *Handlers) HandleRevert(w http.ResponseWriter, r *http.Request) {
	if err := h.fc.Revert(r.Context(), r.URL.Query().Get("path")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleStatus handles GET /api/status?path=<abs>
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.fc.Status(r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{PathState: st, Scenario: st.Scenario()})
}

// HandleEntries handles GET /api/entries[?scenario=<name>]
func (h *Handlers) HandleEntries(w http.ResponseWriter, r *http.Request) {
	states, err := h.fc.StatusAll()
	if err != nil {
		writeError(w, err)
		return
	}
	if want := Scenario(r.URL.Query().Get("scenario")); want != "" {
		states = lo.Filter(states, func(s PathState, _ int) bool { return s.Scenario() == want })
	}
	items := lo.Map(states, func(s PathState, _ int) StatusResponse {
		return StatusResponse{PathState: s, Scenario: s.Scenario()}
	})
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "capacity": h.fc.Capacity()})
}

// HandleSubmitTrial handles POST /api/trials with a TrialRequest body.
func (h *Handlers) HandleSubmitTrial(w http.ResponseWriter, r *http.Request) {
	var req TrialRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		http.Error(w, "decode trial: "+err.Error(), http.StatusBadRequest)
		return
	}
	id, err := h.runner.Submit(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

// HandleGetTrial handles GET /api/trials/{id}
func (h *Handlers) HandleGetTrial(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	res, ok := h.runner.Result(id)
	if !ok {
		http.Error(w, "trial not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleCancelTrial handles DELETE /api/trials/{id} for a trial still queued.
func (h *Handlers) HandleCancelTrial(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.runner.Cancel(id) {
		if _, ok := h.runner.Result(id); !ok {
			http.Error(w, "trial not found", http.StatusNotFound)
			return
		}
		http.Error(w, "trial is no longer queued", http.StatusConflict)
		return
	}
	res, _ := h.runner.Result(id)
	writeJSON(w, http.StatusOK, res)
}

// HandleStats handles GET /api/stats
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Entries:      h.fc.Len(),
		Capacity:     h.fc.Capacity(),
		QueueLen:     h.runner.QueueLen(),
		Subscribers:  h.events.Subscribers(),
		Dropped:      h.events.Dropped(),
		RecentErrors: RecentErrors(),
	}
	if usage, err := disk.Usage(h.statsRoot); err == nil {
		resp.DiskTotal = usage.Total
		resp.DiskFree = usage.Free
	} else {
		sub("handlers").Debug("disk usage unavailable", "root", h.statsRoot, "err", err)
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleSSE handles GET /api/events (Server-Sent Events stream).
func (h *Handlers) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := h.events.Subscribe()
	defer h.events.Unsubscribe(ch)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, _ := json.Marshal(event)
			fmt.Fprintf(w, "data: %s\n\n", data) //nolint:errcheck
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n") //nolint:errcheck
			flusher.Flush()
		}
	}
}

// HandleWebsocket handles GET /api/events/ws, pushing each Event as a JSON message.
func (h *Handlers) HandleWebsocket(w http.ResponseWriter, r *http.Request) {
	l := sub("handlers")
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ch := h.events.Subscribe()
	defer h.events.Unsubscribe(ch)

	// Reading is only used to notice the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second)) //nolint:errcheck
			if err := conn.WriteJSON(event); err != nil {
				l.Debug("websocket write failed", "err", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}
