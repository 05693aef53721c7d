package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/lilystore/toystore/internal/domain/auth"
	"github.com/lilystore/toystore/internal/domain/product"
)

type productRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int32           `json:"stock"`
	ImageURL    string          `json:"image_url"`
	Category    string          `json:"category"`
	Active      *bool           `json:"active"`
}

type productResponse struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int32           `json:"stock"`
	ImageURL    string          `json:"image_url"`
	Category    string          `json:"category"`
	Active      bool            `json:"active"`
}

func toProductResponse(p *product.Product) productResponse {
	return productResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Stock:       p.Stock,
		ImageURL:    p.ImageURL,
		Category:    p.Category,
		Active:      p.Active,
	}
}

func toProductResponses(products []product.Product) []productResponse {
	resp := make([]productResponse, len(products))
	for i := range products {
		resp[i] = toProductResponse(&products[i])
	}
	return resp
}

// listProducts returns the catalog. Default listings show active products
// only; admins may pass ?all=true to include soft-deleted rows.
func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	f := product.Filter{
		Category:   r.URL.Query().Get("category"),
		ActiveOnly: true,
	}
	if r.URL.Query().Get("all") == "true" && sess.IsAdmin() {
		f.ActiveOnly = false
	}

	products, err := h.products.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponses(products))
}

func (h *Handler) searchProducts(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")
	if term == "" {
		badRequest(w, "query parameter q is required")
		return
	}

	products, err := h.products.Search(r.Context(), term)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponses(products))
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.products.Categories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, "invalid product id")
		return
	}

	p, err := h.products.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(p))
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	if err := requireAdmin(sess); err != nil {
		writeError(w, r, err)
		return
	}

	var req productRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	p := &product.Product{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
		ImageURL:    req.ImageURL,
		Category:    req.Category,
		Active:      true,
	}
	if req.Active != nil {
		p.Active = *req.Active
	}

	if err := h.products.Create(r.Context(), p); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(p))
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	if err := requireAdmin(sess); err != nil {
		writeError(w, r, err)
		return
	}

	id, err := pathID(r)
	if err != nil {
		badRequest(w, "invalid product id")
		return
	}

	var req productRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	p := &product.Product{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
		ImageURL:    req.ImageURL,
		Category:    req.Category,
		Active:      true,
	}
	if req.Active != nil {
		p.Active = *req.Active
	}

	if err := h.products.Update(r.Context(), p); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(p))
}

// deleteProduct is a soft delete: the row stays for order history.
func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	if err := requireAdmin(sess); err != nil {
		writeError(w, r, err)
		return
	}

	id, err := pathID(r)
	if err != nil {
		badRequest(w, "invalid product id")
		return
	}

	if err := h.products.SoftDelete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func requireAdmin(sess auth.Session) error {
	if sess.Anonymous() {
		return auth.ErrUnauthenticated
	}
	if !sess.IsAdmin() {
		return auth.ErrUnauthorized
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
