package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Aidin1998/swapflow/internal/notify"
	"github.com/Aidin1998/swapflow/internal/order"
)

// safeConn serializes writes to a gorilla connection, which the relay
// goroutine and the read loop's pong replies would otherwise race on.
type safeConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *safeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *safeConn) Close() error {
	return c.conn.Close()
}

// Handler serves the live order status endpoint.
type Handler struct {
	upgrader websocket.Upgrader
	registry *Registry
	orders   order.Repository
	logger   *zap.Logger
}

// NewHandler creates the WebSocket handler over the given registry and
// order store.
func NewHandler(registry *Registry, orders order.Repository, logger *zap.Logger) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		registry: registry,
		orders:   orders,
		logger:   logger,
	}
}

type inboundMessage struct {
	Type string `json:"type"`
}

type pongMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

type errorMessage struct {
	Error   string `json:"error"`
	OrderID string `json:"orderId,omitempty"`
}

// Serve handles GET /ws/orders/:id: verify the order exists, subscribe the
// connection, push an immediate snapshot, answer ping with pong and ignore
// any other inbound payload. The subscription is dropped on disconnect.
func (h *Handler) Serve(c *gin.Context) {
	rawID := c.Param("id")

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}
	conn := &safeConn{conn: ws}

	id, err := uuid.Parse(rawID)
	if err != nil {
		conn.WriteJSON(errorMessage{Error: "invalid order id", OrderID: rawID})
		conn.Close()
		return
	}

	o, err := h.orders.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			conn.WriteJSON(errorMessage{Error: "order not found", OrderID: rawID})
		} else {
			h.logger.Error("Failed to look up order", zap.Error(err), zap.String("order_id", rawID))
			conn.WriteJSON(errorMessage{Error: "internal server error"})
		}
		conn.Close()
		return
	}

	h.logger.Info("WebSocket connection established",
		zap.String("order_id", rawID),
		zap.String("remote_addr", c.ClientIP()))

	h.registry.Subscribe(rawID, conn)
	defer func() {
		h.registry.Unsubscribe(rawID, conn)
		conn.Close()
		h.logger.Info("WebSocket connection closed", zap.String("order_id", rawID))
	}()

	// Late joiners get the current state up front instead of waiting for
	// the next transition.
	if err := conn.WriteJSON(notify.Snapshot(o)); err != nil {
		return
	}

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			conn.WriteJSON(pongMessage{
				Type:      "pong",
				Timestamp: time.Now().Format(time.RFC3339),
			})
		}
	}
}
