package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/shivam349/codex1/internal/apperr"
	"github.com/shivam349/codex1/internal/idempotency"
	"github.com/shivam349/codex1/internal/logging"
	"github.com/shivam349/codex1/internal/orders"
	"github.com/shivam349/codex1/internal/validation"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	maxIdempotencyKey = 255
	maxOrderBody      = 1 << 20
)

// POST /api/orders
// Guest checkout; a valid bearer token attaches the order to the account.
// An Idempotency-Key header makes retries replay the first response.
func (s *Server) placeOrder(c *gin.Context) {
	ctx := c.Request.Context()
	log := logging.FromGin(s.Log, c)

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxOrderBody))
	if err != nil {
		s.failMsg(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))

	var req validation.PlaceOrderRequest
	if err := validation.BindAndValidate(c, &req, s.v); err != nil {
		return
	}
	var userID string
	if p, ok := principal(c); ok {
		userID = p.UserID
	}

	key := strings.TrimSpace(c.GetHeader(IdempotencyHeader))
	if len(key) > maxIdempotencyKey {
		s.failMsg(c, http.StatusBadRequest, fmt.Sprintf("%s must be at most %d characters", IdempotencyHeader, maxIdempotencyKey))
		return
	}
	claimed := false
	if key != "" && s.Idempotency != nil {
		fp := idempotency.Fingerprint(raw)
		rec, owned, err := s.Idempotency.Begin(ctx, key, fp)
		switch {
		case err != nil:
			log.WithError(err).Warn("idempotency claim failed; placing order without replay protection")
		case !owned && !rec.Matches(fp):
			s.fail(c, apperr.Conflict("Idempotency-Key was already used with a different request"))
			return
		case !owned && rec.Status == idempotency.StatusDone:
			c.Header("Idempotent-Replayed", "true")
			if rec.OrderID != "" {
				c.Header("Location", "/api/orders/"+rec.OrderID)
			}
			c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
			return
		case !owned:
			s.fail(c, apperr.Conflict("A request with this Idempotency-Key is already in progress"))
			return
		default:
			claimed = true
		}
	}

	// the outcome must be recorded even if the client has gone away
	bookkeeping := context.WithoutCancel(ctx)

	order, err := s.Orders.Place(ctx, req.PlaceInput(userID))
	if err != nil {
		if claimed {
			if mErr := s.Idempotency.MarkFailed(bookkeeping, key, err.Error()); mErr != nil {
				log.WithError(mErr).Warn("idempotency mark failed")
			}
		}
		s.fail(c, err)
		return
	}

	body, err := json.Marshal(gin.H{"success": true, "message": "Order placed successfully", "data": order})
	if err != nil {
		s.fail(c, fmt.Errorf("marshal order response: %w", err))
		return
	}
	if claimed {
		if err := s.Idempotency.MarkDone(bookkeeping, key, order.ID, string(body), http.StatusCreated); err != nil {
			log.WithError(err).Warn("idempotency mark done failed")
		}
	}
	c.Header("Location", "/api/orders/"+order.ID)
	c.Data(http.StatusCreated, "application/json; charset=utf-8", body)
}

// GET /api/orders?status=&limit= (admin)
func (s *Server) listOrders(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.fail(c, apperr.Validation("limit must be a positive integer"))
			return
		}
		limit = n
	}
	list, err := s.Orders.List(c.Request.Context(), orders.Status(c.Query("status")), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(list), "data": list})
}

// GET /api/orders/:id (admin)
func (s *Server) getOrder(c *gin.Context) {
	o, err := s.Orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, o)
}

// PUT /api/orders/:id/status (admin)
func (s *Server) updateOrderStatus(c *gin.Context) {
	var req validation.UpdateStatusRequest
	if err := validation.BindAndValidate(c, &req, s.v); err != nil {
		return
	}
	o, err := s.Orders.UpdateStatus(c.Request.Context(), c.Param("id"), orders.Status(req.Status))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, o)
}

// PUT /api/orders/:id/payment-status (admin)
func (s *Server) updatePaymentStatus(c *gin.Context) {
	var req validation.UpdatePaymentStatusRequest
	if err := validation.BindAndValidate(c, &req, s.v); err != nil {
		return
	}
	o, err := s.Orders.UpdatePaymentStatus(c.Request.Context(), c.Param("id"), orders.PaymentStatus(req.PaymentStatus))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, o)
}

// DELETE /api/orders/:id (admin)
func (s *Server) deleteOrder(c *gin.Context) {
	if err := s.Orders.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	okMsg(c, http.StatusOK, "Order deleted successfully", nil)
}
