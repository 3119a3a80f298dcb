package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/swapflow/internal/order"
	"github.com/Aidin1998/swapflow/internal/queue"
)

type executeOrderRequest struct {
	UserID   string `json:"userId" validate:"required"`
	Kind     string `json:"orderType" validate:"required"`
	TokenIn  string `json:"tokenIn" validate:"required"`
	TokenOut string `json:"tokenOut" validate:"required"`
	AmountIn string `json:"amountIn" validate:"required"`
}

// executeOrder accepts a swap order, persists it in PENDING and hands it to
// the queue. The response returns immediately; execution progress is
// observable on the per-order WebSocket stream.
func (s *Server) executeOrder(c *gin.Context) {
	var req executeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := validate.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !order.ValidKind(req.Kind) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown order type %q", req.Kind)})
		return
	}
	amountIn, err := decimal.NewFromString(req.AmountIn)
	if err != nil || !amountIn.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amountIn must be a positive decimal"})
		return
	}

	o, err := s.orders.Create(c.Request.Context(), order.CreateRequest{
		UserID:   req.UserID,
		Kind:     req.Kind,
		TokenIn:  req.TokenIn,
		TokenOut: req.TokenOut,
		AmountIn: amountIn,
	})
	if err != nil {
		s.logger.Error("Failed to create order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create order"})
		return
	}

	if _, err := s.queue.Enqueue(c.Request.Context(), o.ID.String(), queue.Payload{
		OrderID:  o.ID.String(),
		UserID:   o.UserID,
		Kind:     o.Kind,
		TokenIn:  o.TokenIn,
		TokenOut: o.TokenOut,
		AmountIn: o.AmountIn,
	}); err != nil {
		// The order stays PENDING but unscheduled; the caller must not be
		// told it was accepted.
		s.logger.Error("Failed to enqueue order",
			zap.Error(err),
			zap.String("order_id", o.ID.String()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "queue transport failure",
			"orderId": o.ID,
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"orderId":      o.ID,
		"status":       o.Status,
		"websocketUrl": fmt.Sprintf("/ws/orders/%s", o.ID),
	})
}

// getOrder returns a single order by id.
func (s *Server) getOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	o, err := s.orders.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		s.logger.Error("Failed to get order", zap.Error(err), zap.String("order_id", id.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get order"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

// listOrders returns recent orders, optionally scoped to a user.
func (s *Server) listOrders(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}
	orders, err := s.orders.ListRecent(c.Request.Context(), c.Query("userId"), limit)
	if err != nil {
		s.logger.Error("Failed to list orders", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list orders"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}
