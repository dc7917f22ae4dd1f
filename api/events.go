package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/BaSui01/agentmesh/orchestrator"
)

// eventHub fans orchestrator events out to websocket subscribers. Slow
// subscribers drop events rather than stalling the runtime.
type eventHub struct {
	subs map[chan orchestrator.Event]struct{}
	mu   sync.Mutex
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[chan orchestrator.Event]struct{})}
}

func (h *eventHub) publish(event orchestrator.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub <- event:
		default:
		}
	}
}

func (h *eventHub) subscribe() chan orchestrator.Event {
	sub := make(chan orchestrator.Event, 64)
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *eventHub) unsubscribe(sub chan orchestrator.Event) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// handleEvents upgrades to a websocket and streams runtime events as
// JSON text frames until the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sub := s.events.subscribe()
	defer s.events.unsubscribe(sub)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-sub:
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}
