package dashboard

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/Mschirtzinger/fundsync/internal/status"
	"github.com/Mschirtzinger/fundsync/internal/store/local"
)

// StatsData contains running totals of completed sync passes
type StatsData struct {
	Passes    int    `json:"passes"`
	Succeeded int    `json:"succeeded"`
	Partial   int    `json:"partial"`
	Failed    int    `json:"failed"`
	LastError string `json:"last_error,omitempty"`
}

// Snapshot is the full state a newly connected client receives.
type Snapshot struct {
	Status status.Status `json:"status"`
	Stats  StatsData     `json:"stats"`
	Keys   []local.Entry `json:"keys,omitempty"`
}

// EntryLister lists the keys stored on this device.
type EntryLister interface {
	Entries() ([]local.Entry, error)
}

// Handler subscribes to sync status changes and formats them as dashboard
// messages. It bridges between the status bus and the WebSocket server.
type Handler struct {
	server  *Server
	entries EntryLister
	logger  *log.Logger

	mu      sync.Mutex
	current status.Status
	stats   StatsData
}

// NewHandler creates a new event handler connected to a dashboard server
// and registers itself as the server's snapshot source. entries may be nil.
func NewHandler(server *Server, entries EntryLister, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	h := &Handler{
		server:  server,
		entries: entries,
		logger:  logger,
	}
	server.SetSource(h)
	return h
}

// Attach subscribes the handler to bus and returns the unsubscribe func.
func (h *Handler) Attach(bus *status.Bus) func() {
	return bus.Subscribe(h.OnStatus)
}

// OnStatus handles a sync status change
func (h *Handler) OnStatus(st status.Status) {
	h.mu.Lock()
	h.current = st
	passDone := !st.Syncing
	if passDone {
		h.stats.Passes++
		switch {
		case st.Error != "":
			h.stats.Failed++
			h.stats.LastError = st.Error
		case st.Success != nil && *st.Success:
			h.stats.Succeeded++
		default:
			h.stats.Partial++
		}
	}
	stats := h.stats
	h.mu.Unlock()

	if st.Error != "" {
		h.logger.Printf("Sync failed: %s", st.Error)
	}

	h.send(MessageTypeStatus, st)
	if passDone {
		h.send(MessageTypeStats, stats)
	}
}

func (h *Handler) send(typ MessageType, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}

	h.server.Broadcast(Message{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// GetStats returns the current statistics
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// Snapshot implements Source.
func (h *Handler) Snapshot() Snapshot {
	h.mu.Lock()
	snap := Snapshot{Status: h.current, Stats: h.stats}
	h.mu.Unlock()

	if h.entries != nil {
		entries, err := h.entries.Entries()
		if err != nil {
			h.logger.Printf("Failed to list keys: %v", err)
		} else {
			snap.Keys = entries
		}
	}
	return snap
}
