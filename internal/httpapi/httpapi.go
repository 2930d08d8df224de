// Package httpapi adapts the till service to HTTP for the presentation
// layer. Authentication is deliberately absent: access is gated by the
// session layer in front of this process.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/amnsfrn/Store/internal/cart"
	"github.com/amnsfrn/Store/internal/domain"
	"github.com/amnsfrn/Store/internal/service"
	"github.com/amnsfrn/Store/internal/store"
)

type API struct {
	service       *service.Service
	allowedOrigin string
	logger        *zap.Logger
}

func New(svc *service.Service, allowedOrigin string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:       svc,
		allowedOrigin: allowedOrigin,
		logger:        logger,
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/catalog", a.handleCatalog)
	mux.HandleFunc("/api/v1/catalog/search", a.handleSearch)
	mux.HandleFunc("/api/v1/catalog/", a.handleCatalogItem)
	mux.HandleFunc("/api/v1/intake", a.handleIntake)
	mux.HandleFunc("/api/v1/checkout", a.handleCheckout)
	mux.HandleFunc("/api/v1/returns", a.handleReturn)
	mux.HandleFunc("/api/v1/sales", a.handleSales)

	return a.withMiddleware(mux)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")

		// Cap every request body up front; the Content-Type header is not
		// trustworthy enough to gate resource limits on.
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(startedAt)),
		)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	a.writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	items, err := a.service.ListCatalog(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, domain.CatalogListResponse{Items: items})
}

func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	items, err := a.service.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, domain.CatalogListResponse{Items: items})
}

func (a *API) handleCatalogItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	const prefix = "/api/v1/catalog/"
	article, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, prefix))
	if err != nil || strings.TrimSpace(article) == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("article required"))
		return
	}

	item, err := a.service.GetItem(r.Context(), article)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, item)
}

func (a *API) handleIntake(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}

	var req domain.IntakeRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	item, err := a.service.Intake(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, item)
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}

	var req domain.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	c, err := a.service.BuildCart(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	receipt, err := a.service.Checkout(r.Context(), c)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, receipt)
}

func (a *API) handleReturn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}

	var req domain.ReturnRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	rec, err := a.service.RecordReturn(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	from, err := parseDateParam(r.URL.Query().Get("from"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseDateParam(r.URL.Query().Get("to"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.QuerySales(r.Context(), from, to, r.URL.Query().Get("article"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, resp)
}

// writeServiceError maps service errors onto HTTP statuses. Partial commits
// and ledger divergences get dedicated payloads instead of the generic masked
// 500: the operator must see exactly what committed before the failure.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	var insufficient *store.InsufficientStockError
	var partial *store.PartialCommitError
	var divergence *store.LedgerDivergenceError

	switch {
	case errors.As(err, &partial):
		a.logger.Error("partial commit surfaced to caller", zap.Error(partial))
		a.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":     partial.Error(),
			"code":      "partial_commit",
			"committed": partial.Committed,
			"failed":    partial.Failed,
			"unapplied": partial.Unapplied,
		})
	case errors.As(err, &divergence):
		a.logger.Error("ledger divergence surfaced to caller", zap.Error(divergence))
		a.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":     divergence.Error(),
			"code":      "ledger_divergence",
			"record_id": divergence.RecordID,
			"article":   divergence.Article,
			"quantity":  divergence.Quantity,
		})
	case errors.As(err, &insufficient):
		a.writeJSON(w, http.StatusConflict, map[string]any{
			"error":     insufficient.Error(),
			"code":      "insufficient_stock",
			"article":   insufficient.Article,
			"requested": insufficient.Requested,
			"available": insufficient.Available,
		})
	case errors.Is(err, store.ErrNotFound):
		a.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrInvalidItem),
		errors.Is(err, service.ErrEmptyCart),
		errors.Is(err, cart.ErrOutOfRange),
		errors.Is(err, cart.ErrAtCapacity),
		errors.Is(err, cart.ErrNotInCart):
		a.writeError(w, http.StatusBadRequest, err)
	default:
		a.writeError(w, http.StatusInternalServerError, err)
	}
}

func parseDateParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", raw)
	}
	return t, nil
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func (a *API) writeMethodNotAllowed(w http.ResponseWriter) {
	a.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	// 5xx responses carry a generic message so internal details (SQL errors,
	// file paths) never leak; 4xx messages are operator-facing.
	msg := err.Error()
	if status >= 500 {
		a.logger.Error("internal error", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
	}
	a.writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
