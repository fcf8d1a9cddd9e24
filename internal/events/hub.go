package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alexjbarnes/notify-relay/internal/metrics"
	"github.com/coder/websocket"
	"github.com/tidwall/gjson"
)

const (
	// subscriberBuffer is the per-subscriber queue depth. A subscriber
	// that falls this far behind loses events.
	subscriberBuffer = 64

	// inboundReadLimit caps UI messages. Read actions carry id lists
	// only.
	inboundReadLimit = 1 << 20

	writeTimeout = 10 * time.Second
)

// Actions are the UI-initiated operations the hub forwards.
type Actions interface {
	// MarkRead flips ids to read locally and schedules a push.
	MarkRead(ctx context.Context, ids []string) error
	// RequestSync schedules a push of the pending-sync set.
	RequestSync()
}

type subscriber struct {
	ch chan Event
}

// Hub broadcasts events to every subscriber. Publish never blocks.
type Hub struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	actions Actions
}

func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		logger:  logger,
		metrics: m,
		subs:    make(map[*subscriber]struct{}),
	}
}

// SetActions installs the handler for inbound UI ops. Ops received
// before this is called are ignored.
func (h *Hub) SetActions(a Actions) {
	h.mu.Lock()
	h.actions = a
	h.mu.Unlock()
}

// Subscribe registers a new subscriber. The returned func unsubscribes
// and closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once

	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, s)
			h.mu.Unlock()
			close(s.ch)
		})
	}
}

// Emit implements the relay's emitter.
func (h *Hub) Emit(e Event) {
	h.Publish(e)
}

// Publish delivers e to every subscriber with room in its queue.
func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs {
		select {
		case s.ch <- e:
		default:
			h.logger.Warn("event subscriber lagging, dropping event", slog.String("type", e.Type))
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subs)
}

// ServeHTTP upgrades the request to a WebSocket and streams events as
// text frames until either side goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("event websocket accept failed", slog.String("error", err.Error()))
		return
	}

	defer conn.CloseNow()

	conn.SetReadLimit(inboundReadLimit)

	done := h.metrics.UIClientConnected()
	defer done()

	ch, unsubscribe := h.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		h.readLoop(ctx, conn)
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case e, ok := <-ch:
			if !ok {
				return
			}

			data, err := json.Marshal(e)
			if err != nil {
				h.logger.Error("encoding event", slog.String("error", err.Error()))
				continue
			}

			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(wctx, websocket.MessageText, data)
			wcancel()

			if err != nil {
				h.logger.Debug("event websocket write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				h.logger.Debug("event websocket read failed", slog.String("error", err.Error()))
			}

			return
		}

		if typ != websocket.MessageText {
			continue
		}

		h.handleInbound(ctx, data)
	}
}

// handleInbound dispatches one UI op. Unknown ops are ignored.
func (h *Hub) handleInbound(ctx context.Context, data []byte) {
	h.mu.RLock()
	actions := h.actions
	h.mu.RUnlock()

	if actions == nil {
		return
	}

	op := gjson.GetBytes(data, "op").Str

	switch op {
	case "read":
		var ids []string

		for _, v := range gjson.GetBytes(data, "ids").Array() {
			if id := v.String(); id != "" {
				ids = append(ids, id)
			}
		}

		if len(ids) == 0 {
			return
		}

		if err := actions.MarkRead(ctx, ids); err != nil {
			h.logger.Warn("ui mark read failed", slog.String("error", err.Error()))
		}

	case "sync":
		actions.RequestSync()

	default:
		h.logger.Debug("ignoring ui op", slog.String("op", op))
	}
}
