// Package handler exposes the domain services over a thin JSON HTTP surface.
// Handlers translate between wire shapes and domain calls; every decision
// with an invariant attached lives in the domain layer.
package handler

import (
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/metric"

	"github.com/lilystore/toystore/internal/domain/order"
	"github.com/lilystore/toystore/internal/domain/product"
	"github.com/lilystore/toystore/internal/domain/user"
)

// Handler carries the domain dependencies for all routes.
type Handler struct {
	products product.Repository
	users    *user.Service
	userList user.Repository
	orders   *order.Service
	sessions *SessionManager

	placedCounter metric.Int64Counter
	failedCounter metric.Int64Counter
}

// NewHandler constructs a Handler. The meter is used for order placement
// counters; pass a noop meter in tests.
func NewHandler(
	products product.Repository,
	users *user.Service,
	userList user.Repository,
	orders *order.Service,
	sessions *SessionManager,
	meter metric.Meter,
) (*Handler, error) {
	placed, err := meter.Int64Counter("toystore.orders.placed")
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64Counter("toystore.orders.rejected")
	if err != nil {
		return nil, err
	}

	return &Handler{
		products:      products,
		users:         users,
		userList:      userList,
		orders:        orders,
		sessions:      sessions,
		placedCounter: placed,
		failedCounter: failed,
	}, nil
}

// Routes mounts all API routes. The session middleware resolves bearer
// tokens into sessions for every request; authorization itself happens in
// the domain services.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.sessions.Middleware)

	r.Post("/register", h.register)
	r.Post("/login", h.login)
	r.Post("/logout", h.logout)
	r.Get("/profile", h.profile)
	r.Get("/users", h.listUsers)

	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.listProducts)
		r.Get("/search", h.searchProducts)
		r.Get("/categories", h.listCategories)
		r.Get("/{id}", h.getProduct)
		r.Post("/", h.createProduct)
		r.Put("/{id}", h.updateProduct)
		r.Delete("/{id}", h.deleteProduct)
	})

	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.listOrders)
		r.Post("/", h.placeOrder)
		r.Get("/{id}", h.getOrder)
		r.Post("/{id}/status", h.updateOrderStatus)
		r.Delete("/{id}", h.deleteOrder)
	})

	r.Get("/revenue", h.revenue)

	return r
}
