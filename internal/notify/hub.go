// Package notify broadcasts document status changes to websocket clients.
// Delivery is best-effort: nothing is persisted or replayed, and a client that
// falls behind is disconnected and expected to re-fetch on reconnect.
package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/nurpe/procurement-workflow/internal/model"
)

const (
	clientBuffer = 16
	writeTimeout = 5 * time.Second
)

// Message is the wire format sent to clients.
type Message struct {
	Type string      `json:"type"`
	Data MessageData `json:"data"`
}

type MessageData struct {
	ID        string    `json:"id"`
	NewStatus string    `json:"newStatus"`
	Timestamp time.Time `json:"timestamp"`
}

func messageFor(evt model.StatusEvent) Message {
	kind := "invoice_status_change"
	if evt.DocumentType == model.DocumentTypeOC {
		kind = "oc_status_change"
	}
	return Message{
		Type: kind,
		Data: MessageData{ID: evt.ID, NewStatus: evt.NewStatus, Timestamp: evt.Timestamp},
	}
}

type client struct {
	send chan Message
}

// Hub fans events out to every connected client from a single dispatch goroutine.
type Hub struct {
	log            zerolog.Logger
	originPatterns []string
	events         chan model.StatusEvent
	done           chan struct{}

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub(bufSize int, originPatterns []string, log zerolog.Logger) *Hub {
	if bufSize < 1 {
		bufSize = 256
	}
	if len(originPatterns) == 0 {
		originPatterns = []string{"*"}
	}
	return &Hub{
		log:            log,
		originPatterns: originPatterns,
		events:         make(chan model.StatusEvent, bufSize),
		done:           make(chan struct{}),
		clients:        make(map[*client]struct{}),
	}
}

// Publish queues an event. It never blocks; a full buffer drops the event.
func (h *Hub) Publish(_ context.Context, evt model.StatusEvent) {
	select {
	case h.events <- evt:
	default:
		h.log.Warn().Str("id", evt.ID).Str("status", evt.NewStatus).Msg("event buffer full, dropping status event")
	}
}

// Start runs the dispatch loop until ctx is cancelled. Queued events are
// flushed before the loop exits.
func (h *Hub) Start(ctx context.Context) {
	go func() {
		defer close(h.done)
		for {
			select {
			case evt := <-h.events:
				h.broadcast(messageFor(evt))
			case <-ctx.Done():
				for {
					select {
					case evt := <-h.events:
						h.broadcast(messageFor(evt))
					default:
						h.closeClients()
						return
					}
				}
			}
		}
	}()
}

// Wait blocks until the dispatch loop has stopped.
func (h *Hub) Wait() {
	<-h.done
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			delete(h.clients, c)
			close(c.send)
			h.log.Warn().Msg("websocket client too slow, disconnecting")
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) closeClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeHTTP upgrades the request and streams events until either side closes.
// Clients only listen; anything they send is discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	c := &client{send: make(chan Message, clientBuffer)}
	h.register(c)
	defer h.unregister(c)

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, msg)
			cancel()
			if err != nil {
				h.log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}
