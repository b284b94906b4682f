package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rjboer/GoRTLTCP/internal/config"
	"github.com/rjboer/GoRTLTCP/internal/logging"
)

const (
	defaultHistoryLimit = 200
	maxHistoryLimit     = 10_000
	wsWriteTimeout      = 5 * time.Second
)

// SettingsTable is the indexed settings surface served under /api/settings.
// *config.Settings implements it.
type SettingsTable interface {
	All() []config.Setting
	Get(idx int) (config.Setting, error)
	Set(idx int, value string) error
	Index(key string) (int, bool)
}

// Hub keeps a bounded status history and fans updates out to subscribers.
type Hub struct {
	mu           sync.RWMutex
	history      []Status
	historyLimit int
	subscribers  map[chan Status]struct{}
	settings     SettingsTable
	logger       logging.Logger
	upgrader     websocket.Upgrader
}

// NewHub builds a hub retaining up to historyLimit samples.
func NewHub(historyLimit int, logger logging.Logger) *Hub {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	if historyLimit > maxHistoryLimit {
		historyLimit = maxHistoryLimit
	}
	return &Hub{
		historyLimit: historyLimit,
		subscribers:  make(map[chan Status]struct{}),
		logger:       logging.OrDefault(logger).With(logging.F("subsystem", "telemetry")),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// SetSettings attaches the settings table exposed over HTTP.
func (h *Hub) SetSettings(s SettingsTable) {
	h.mu.Lock()
	h.settings = s
	h.mu.Unlock()
}

// ReportStatus implements Reporter.
func (h *Hub) ReportStatus(s Status) {
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	h.mu.Lock()
	h.history = append(h.history, s)
	if len(h.history) > h.historyLimit {
		h.history = h.history[len(h.history)-h.historyLimit:]
	}
	for ch := range h.subscribers {
		select {
		case ch <- s:
		default:
		}
	}
	h.mu.Unlock()
}

// History returns a copy of stored status samples.
func (h *Hub) History() []Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Status, len(h.history))
	copy(out, h.history)
	return out
}

// Latest returns the most recent status, if any.
func (h *Hub) Latest() (Status, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.history) == 0 {
		return Status{}, false
	}
	return h.history[len(h.history)-1], true
}

// Subscribe registers a listener for live updates.
func (h *Hub) Subscribe() (chan Status, func()) {
	ch := make(chan Status, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

func (h *Hub) settingsTable() SettingsTable {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.settings
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Hub) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.History())
}

func (h *Hub) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s, ok := h.Latest()
	if !ok {
		http.Error(w, "no status yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// settingUpdate selects a setting by index or key.
type settingUpdate struct {
	Index *int   `json:"index,omitempty"`
	Key   string `json:"key,omitempty"`
	Value string `json:"value"`
}

func (h *Hub) handleSettings(w http.ResponseWriter, r *http.Request) {
	table := h.settingsTable()
	if table == nil {
		http.Error(w, "settings unavailable", http.StatusServiceUnavailable)
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, table.All())
	case http.MethodPost:
		var upd settingUpdate
		if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
			http.Error(w, fmt.Sprintf("invalid settings payload: %v", err), http.StatusBadRequest)
			return
		}
		idx := -1
		switch {
		case upd.Index != nil:
			idx = *upd.Index
		case upd.Key != "":
			var ok bool
			if idx, ok = table.Index(upd.Key); !ok {
				http.Error(w, fmt.Sprintf("unknown setting %q", upd.Key), http.StatusNotFound)
				return
			}
		default:
			http.Error(w, "index or key required", http.StatusBadRequest)
			return
		}
		if err := table.Set(idx, upd.Value); err != nil {
			code := http.StatusBadRequest
			if errors.Is(err, config.ErrUnknownSetting) {
				code = http.StatusNotFound
			}
			http.Error(w, err.Error(), code)
			return
		}
		s, err := table.Get(idx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		h.logger.Info("setting changed", logging.F("key", s.Key), logging.F("value", s.Value))
		writeJSON(w, http.StatusOK, s)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.Subscribe()
	defer cancel()

	// send existing history for immediate display
	for _, s := range h.History() {
		writeEvent(w, s)
	}
	flusher.Flush()

	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, s)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, s Status) {
	payload, _ := json.Marshal(s)
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
}

// handleWebSocket pushes every status update as a JSON text message.
func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", logging.Err(err))
		return
	}
	ch, cancel := h.Subscribe()
	defer cancel()
	defer conn.Close()

	// drain client frames so close and ping control messages are processed
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if s, ok := h.Latest(); ok {
		if err := h.writeWS(conn, s); err != nil {
			return
		}
	}
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := h.writeWS(conn, s); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Hub) writeWS(conn *websocket.Conn, s Status) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(s)
}
