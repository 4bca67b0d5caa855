package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"fusionswap/core/events"
	"fusionswap/core/types"
)

const (
	wsWriteTimeout   = 10 * time.Second
	subscriberBuffer = 64
)

// Hub fans committed engine events out to websocket subscribers. Emit never
// blocks: a subscriber whose buffer is full loses the event.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan *types.Event
	drops  uint64
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan *types.Event)}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	record := &types.Event{Type: evt.EventType()}
	if payload, ok := evt.(events.Payload); ok && payload.Event() != nil {
		record = payload.Event()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- record.Clone():
		default:
			h.drops++
		}
	}
}

// Subscribe registers a subscriber. The returned cancel func must be called
// to release it.
func (h *Hub) Subscribe() (<-chan *types.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan *types.Event, subscriberBuffer)
	h.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Dropped returns the number of events lost to slow subscribers.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.drops
}

type streamFilter struct {
	orderHash string
	prefix    string
}

func (f streamFilter) match(evt *types.Event) bool {
	if f.prefix != "" && !strings.HasPrefix(evt.Type, f.prefix) {
		return false
	}
	if f.orderHash != "" && !strings.EqualFold(evt.Attributes["orderHash"], f.orderHash) {
		return false
	}
	return true
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	filter := streamFilter{
		orderHash: strings.TrimSpace(r.URL.Query().Get("order")),
		prefix:    strings.TrimSpace(r.URL.Query().Get("type")),
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedOrigins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, filter streamFilter) error {
	updates, cancel := s.hub.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			if !filter.match(evt) {
				continue
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt *types.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
