// Package handler exposes the checkout flow over HTTP: server-rendered pages
// under /checkout and a JSON API under /api.
package handler

import (
	"context"
	"html/template"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
)

// Checkout is the flow controller the handlers drive. *checkout.Service
// implements it.
type Checkout interface {
	Start(ctx context.Context, items []cart.Item) (*checkout.Session, error)
	Get(ctx context.Context, id string) (*checkout.Session, error)
	Submit(ctx context.Context, id string, card checkout.CardDetails) (*checkout.Session, error)
	SubmitAsync(ctx context.Context, id string, card checkout.CardDetails) (*checkout.Session, error)
	Close(ctx context.Context, id string) error
}

var _ Checkout = (*checkout.Service)(nil)

// Config holds non-dependency settings of the handlers.
type Config struct {
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64
}

// Handler serves the checkout routes.
type Handler struct {
	checkout Checkout
	pages    *template.Template
	cfg      Config
}

// New parses the page templates and returns a Handler.
func New(c Checkout, cfg Config) (*Handler, error) {
	pages, err := parseTemplates()
	if err != nil {
		return nil, errors.Wrap(err, "parse templates")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	return &Handler{checkout: c, pages: pages, cfg: cfg}, nil
}

// Register mounts all routes on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/checkout", h.StartPage).Methods(http.MethodPost)
	r.HandleFunc("/checkout/{id}", h.ViewPage).Methods(http.MethodGet)
	r.HandleFunc("/checkout/{id}/pay", h.PayPage).Methods(http.MethodPost)
	r.HandleFunc("/checkout/{id}/close", h.ClosePage).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/checkouts", h.CreateCheckout).Methods(http.MethodPost)
	api.HandleFunc("/checkouts/{id}", h.GetCheckout).Methods(http.MethodGet)
	api.HandleFunc("/checkouts/{id}/submit", h.SubmitCheckout).Methods(http.MethodPost)
	api.HandleFunc("/checkouts/{id}", h.CloseCheckout).Methods(http.MethodDelete)
}

// badRequestError marks malformed input.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &badRequestError{msg: errors.Errorf(format, args...).Error()}
}

// errorStatus maps an error to a status code and a client-safe message.
func errorStatus(err error) (int, string) {
	var (
		badReq  *badRequestError
		itemErr *cart.InvalidItemError
	)
	switch {
	case errors.As(err, &badReq):
		return http.StatusBadRequest, badReq.msg
	case errors.As(err, &itemErr):
		return http.StatusBadRequest, itemErr.Error()
	case errors.Is(err, checkout.ErrSessionNotFound), errors.Is(err, checkout.ErrSessionClosed):
		return http.StatusNotFound, checkout.ErrSessionNotFound.Error()
	case errors.Is(err, checkout.ErrSubmitInProgress), errors.Is(err, checkout.ErrAlreadyPaid):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// logFailure logs errors that map to a server error.
func logFailure(ctx context.Context, code int, err error) {
	if code >= http.StatusInternalServerError {
		zctx.From(ctx).Error("Checkout request failed", zap.Error(err))
	}
}
