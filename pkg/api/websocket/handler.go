package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/harshakreox/ghostqa/internal/domain"
	"go.uber.org/zap"
)

const (
	clientBuffer = 64
	writeWait    = 10 * time.Second
	maxReplay    = 200
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	events    chan domain.Event
	types     []string
	requestID string
}

func (c *client) wants(event domain.Event) bool {
	if c.requestID != "" && event.RequestID != c.requestID {
		return false
	}
	if len(c.types) == 0 {
		return true
	}
	for _, prefix := range c.types {
		if strings.HasPrefix(string(event.Type), prefix) {
			return true
		}
	}
	return false
}

// Handler fans events from a single bus subscription out to every
// connected client.
type Handler struct {
	eventBus domain.EventBus
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHandler creates a new WebSocket handler
func NewHandler(eventBus domain.EventBus, logger *zap.Logger) *Handler {
	return &Handler{
		eventBus: eventBus,
		logger:   logger,
		clients:  make(map[*client]struct{}),
	}
}

// Start subscribes to the orchestrator topic until ctx is cancelled.
func (h *Handler) Start(ctx context.Context) error {
	return h.eventBus.Subscribe(ctx, domain.EventsTopic, h.broadcast)
}

// ClientCount returns the number of connected clients.
func (h *Handler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Handler) broadcast(_ context.Context, event domain.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !c.wants(event) {
			continue
		}
		select {
		case c.events <- event:
		default:
			h.logger.Warn("client buffer full, dropping event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
	}
	return nil
}

func (h *Handler) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Handler) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// HandleEventStream upgrades the request and streams events as JSON text
// frames until the client goes away.
func (h *Handler) HandleEventStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	cl := &client{
		events:    make(chan domain.Event, clientBuffer),
		types:     splitFilter(c.Query("type")),
		requestID: c.Query("request_id"),
	}
	h.register(cl)
	defer h.unregister(cl)

	h.logger.Info("WebSocket connection established",
		zap.String("client", c.ClientIP()),
		zap.Strings("types", cl.types),
		zap.String("request_id", cl.requestID))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sent, err := h.replay(ctx, conn, cl, c.Query("replay"))
	if err != nil {
		h.logger.Error("failed to replay events", zap.Error(err))
		return
	}

	// Control frames are only processed while reading.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-cl.events:
			if _, dup := sent[event.ID]; dup {
				delete(sent, event.ID)
				continue
			}
			if err := writeEvent(conn, event); err != nil {
				h.logger.Error("failed to write message", zap.Error(err))
				return
			}
		}
	}
}

// replay sends up to ?replay=N recent matching events when the bus keeps
// history. It returns the IDs sent so the live stream can skip them.
func (h *Handler) replay(ctx context.Context, conn *websocket.Conn, cl *client, raw string) (map[string]struct{}, error) {
	sent := make(map[string]struct{})
	history, ok := h.eventBus.(domain.EventHistory)
	if raw == "" || !ok {
		return sent, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return sent, nil
	}
	if n > maxReplay {
		n = maxReplay
	}

	events, err := history.Recent(ctx, domain.EventsTopic, n)
	if err != nil {
		return sent, err
	}
	for _, event := range events {
		if !cl.wants(event) {
			continue
		}
		if err := writeEvent(conn, event); err != nil {
			return sent, err
		}
		sent[event.ID] = struct{}{}
	}
	return sent, nil
}

func writeEvent(conn *websocket.Conn, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func splitFilter(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
