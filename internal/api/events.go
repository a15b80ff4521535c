package api

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/filedrift/filedrift/internal/audit"
)

// subscriberBuffer bounds each websocket subscriber's queue. A slow
// consumer drops events rather than stalling the engine.
const subscriberBuffer = 64

// EventHub broadcasts audit events to websocket subscribers. It plugs
// into the engine as an audit.Recorder, usually fanned out alongside
// the log recorder.
type EventHub struct {
	mu     sync.Mutex
	subs   map[chan []byte]struct{}
	logger *slog.Logger
}

// NewEventHub returns an empty hub.
func NewEventHub(logger *slog.Logger) *EventHub {
	return &EventHub{
		subs:   make(map[chan []byte]struct{}),
		logger: logger,
	}
}

// Record implements audit.Recorder: the event is serialized once and
// queued to every subscriber, dropping for any whose buffer is full.
func (h *EventHub) Record(e audit.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("marshaling audit event", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- data:
		default:
		}
	}
}

func (h *EventHub) subscribe() chan []byte {
	ch := make(chan []byte, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch
}

func (h *EventHub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// Handler returns the websocket handler for the events route. Each
// connection gets its own queue; the connection closes when the write
// side fails, typically because the client went away.
func (h *EventHub) Handler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		ch := h.subscribe()
		defer h.unsubscribe(ch)
		defer conn.Close()

		// Drain the read side so close frames are seen promptly.
		done := make(chan struct{})

		go func() {
			defer close(done)

			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case msg := <-ch:
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	})
}
