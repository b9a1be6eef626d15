package httpapi

import (
	"sync"

	"github.com/lecternfm/lectern/internal/protocol"
)

// hub fans controller notifications out to every connected websocket
// client. Slow clients are dropped onto the floor rather than allowed to
// stall the pipeline: each client has a bounded outbound buffer and a
// full buffer loses the message.
type hub struct {
	mu      sync.Mutex
	clients map[*hubClient]struct{}
	onDrop  func(msgType string)
}

type hubClient struct {
	send chan any
}

func newHub(onDrop func(msgType string)) *hub {
	return &hub{
		clients: make(map[*hubClient]struct{}),
		onDrop:  onDrop,
	}
}

func (h *hub) register() *hubClient {
	c := &hubClient{send: make(chan any, 256)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *hub) unregister(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast never blocks; it is safe to call from the playback and
// synthesis goroutines.
func (h *hub) Broadcast(msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			if h.onDrop != nil {
				h.onDrop(string(messageTypeOf(msg)))
			}
		}
	}
}

func messageTypeOf(v any) protocol.MessageType {
	switch m := v.(type) {
	case protocol.ClientControl:
		return m.Type
	case protocol.ModelLoadStart:
		return m.Type
	case protocol.ModelLoadProgress:
		return m.Type
	case protocol.ModelLoadReady:
		return m.Type
	case protocol.ChunkCount:
		return m.Type
	case protocol.StreamAudio:
		return m.Type
	case protocol.ReadingProgress:
		return m.Type
	case protocol.Highlight:
		return m.Type
	case protocol.Complete:
		return m.Type
	case protocol.ErrorEvent:
		return m.Type
	default:
		return ""
	}
}
