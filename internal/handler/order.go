package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/lilystore/toystore/internal/domain/auth"
	"github.com/lilystore/toystore/internal/domain/order"
	"github.com/lilystore/toystore/internal/domain/product"
)

type placeOrderRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int32 `json:"quantity"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type orderResponse struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	ProductID   int64           `json:"product_id"`
	Quantity    int32           `json:"quantity"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	PlacedAt    time.Time       `json:"placed_at"`
	Status      string          `json:"status"`
	ProductName string          `json:"product_name,omitempty"`
	Username    string          `json:"username,omitempty"`
}

type revenueResponse struct {
	TotalRevenue decimal.Decimal `json:"total_revenue"`
}

func toOrderResponse(o *order.Order) orderResponse {
	return orderResponse{
		ID:         o.ID,
		UserID:     o.UserID,
		ProductID:  o.ProductID,
		Quantity:   o.Quantity,
		TotalPrice: o.TotalPrice,
		PlacedAt:   o.PlacedAt,
		Status:     string(o.Status),
	}
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	sess := SessionFromContext(r.Context())
	o, err := h.orders.PlaceOrder(r.Context(), sess, req.ProductID, req.Quantity)
	if err != nil {
		h.failedCounter.Add(r.Context(), 1,
			metric.WithAttributes(attribute.String("reason", rejectReason(err))))
		writeError(w, r, err)
		return
	}
	h.placedCounter.Add(r.Context(), 1)

	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

// rejectReason buckets placement failures for the rejection counter.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, order.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, order.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, product.ErrInactive):
		return "inactive_product"
	case errors.Is(err, product.ErrNotFound):
		return "unknown_product"
	case errors.Is(err, auth.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, order.ErrConflict):
		return "conflict"
	default:
		return "other"
	}
}

// listOrders returns the caller's orders; admins get all orders with
// references resolved, optionally filtered by ?status=.
func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())

	if st := r.URL.Query().Get("status"); st != "" {
		parsed, err := order.ParseStatus(st)
		if err != nil {
			writeError(w, r, err)
			return
		}
		orders, err := h.orders.ListByStatus(r.Context(), sess, parsed)
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp := make([]orderResponse, len(orders))
		for i := range orders {
			resp[i] = toOrderResponse(&orders[i])
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	orders, err := h.orders.List(r.Context(), sess)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := make([]orderResponse, len(orders))
	for i, d := range orders {
		resp[i] = toOrderResponse(&d.Order)
		resp[i].ProductName = d.ProductName
		resp[i].Username = d.Username
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, "invalid order id")
		return
	}

	sess := SessionFromContext(r.Context())
	o, err := h.orders.Get(r.Context(), sess, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, "invalid order id")
		return
	}

	var req updateStatusRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	sess := SessionFromContext(r.Context())
	o, err := h.orders.TransitionStatus(r.Context(), sess, id, order.Status(req.Status))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, "invalid order id")
		return
	}

	sess := SessionFromContext(r.Context())
	if err := h.orders.Delete(r.Context(), sess, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revenue(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	total, err := h.orders.Revenue(r.Context(), sess)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, revenueResponse{TotalRevenue: total})
}
