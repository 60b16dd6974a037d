package dashboard

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/xtreamgames/xsync/internal/engine"
)

// StatsData counts the events seen since the dashboard started.
type StatsData struct {
	Started   int       `json:"started"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Mutations int       `json:"mutations"`
	LastEvent string    `json:"last_event,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	LastAt    time.Time `json:"last_at,omitzero"`
}

// Handler turns engine events into dashboard broadcasts. It implements
// engine.Observer.
type Handler struct {
	server *Server
	logger *log.Logger

	mu    sync.Mutex
	stats StatsData
}

var _ engine.Observer = (*Handler)(nil)

// NewHandler creates a handler that broadcasts through server and feeds its
// counters into the server's status reports.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	h := &Handler{server: server, logger: logger}
	server.setStats(h.Stats)
	return h
}

// OnSyncEvent records ev and broadcasts it. It never blocks.
func (h *Handler) OnSyncEvent(ev engine.Event) {
	h.mu.Lock()
	switch ev.Type {
	case engine.EventSyncStarted:
		h.stats.Started++
	case engine.EventSyncSucceeded:
		h.stats.Succeeded++
	case engine.EventSyncFailed:
		h.stats.Failed++
		h.stats.LastError = ev.Message
	case engine.EventMutation:
		h.stats.Mutations++
	}
	h.stats.LastEvent = string(ev.Type)
	h.stats.LastAt = ev.Time
	h.mu.Unlock()

	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Printf("Failed to marshal event: %v", err)
		return
	}

	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	h.server.Broadcast(Message{
		Type:      MessageType(ev.Type),
		Timestamp: ts,
		Data:      data,
	})
}

// Stats returns a copy of the event counters.
func (h *Handler) Stats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}
