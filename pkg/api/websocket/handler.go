package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aescanero/cellvert/pkg/domain"
	"github.com/aescanero/cellvert/pkg/ports"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ErrNoClients is returned when a host command reaches no connected client
var ErrNoClients = errors.New("no host connected")

type client struct {
	send chan []byte
	gone chan struct{}
	once sync.Once
}

// kick disconnects a client that cannot keep up
func (cl *client) kick() {
	cl.once.Do(func() { close(cl.gone) })
}

// Handler fans out host commands and checkpoint notifications to
// connected WebSocket clients. It holds a single bus subscription per
// topic regardless of how many clients are connected. A host command that
// no client accepted is reported back to the publisher as an error.
type Handler struct {
	eventBus ports.EventBus
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHandler creates a new WebSocket handler
func NewHandler(eventBus ports.EventBus, logger *zap.Logger) *Handler {
	return &Handler{
		eventBus: eventBus,
		logger:   logger,
		clients:  make(map[*client]struct{}),
	}
}

// Start subscribes to the streamed topics until ctx is done
func (h *Handler) Start(ctx context.Context) error {
	if err := h.eventBus.Subscribe(ctx, ports.TopicHostCommands, h.deliverCommand); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", ports.TopicHostCommands, err)
	}
	if err := h.eventBus.Subscribe(ctx, ports.TopicCheckpointEvents, h.notify); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", ports.TopicCheckpointEvents, err)
	}
	return nil
}

// ClientCount returns the number of connected clients
func (h *Handler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleStream upgrades the connection and streams events until the client goes away
func (h *Handler) HandleStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	cl := &client{
		send: make(chan []byte, sendBuffer),
		gone: make(chan struct{}),
	}
	h.register(cl)
	defer h.unregister(cl)

	h.logger.Info("WebSocket connection established", zap.String("client", c.ClientIP()))

	// Reader detects the close; clients do not send anything.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			h.logger.Info("WebSocket connection closed", zap.String("client", c.ClientIP()))
			return
		case <-c.Request.Context().Done():
			return
		case <-cl.gone:
			h.logger.Warn("disconnecting slow WebSocket client", zap.String("client", c.ClientIP()))
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "client too slow"),
				time.Now().Add(writeWait))
			return
		case data := <-cl.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Error("failed to write message", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) register(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[cl] = struct{}{}
}

func (h *Handler) unregister(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, cl)
}

// deliverCommand queues a host command and fails when no client took it
func (h *Handler) deliverCommand(ctx context.Context, event domain.Event) error {
	delivered, err := h.broadcast(event)
	if err != nil {
		return err
	}
	if delivered == 0 {
		return fmt.Errorf("%w: %s for unit %s not delivered", ErrNoClients, event.Type, event.UnitID)
	}
	return nil
}

// notify queues a checkpoint notification for whoever is connected
func (h *Handler) notify(ctx context.Context, event domain.Event) error {
	_, err := h.broadcast(event)
	return err
}

// broadcast queues an event for every client and returns how many accepted it.
// Clients with a full buffer are disconnected.
func (h *Handler) broadcast(event domain.Event) (int, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for cl := range h.clients {
		select {
		case <-cl.gone:
			continue
		default:
		}

		select {
		case cl.send <- data:
			delivered++
		default:
			h.logger.Warn("client buffer full, disconnecting",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
			cl.kick()
		}
	}
	return delivered, nil
}
