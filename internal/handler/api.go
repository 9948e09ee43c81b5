package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/gorilla/mux"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
)

type createRequest struct {
	Cart []cart.Item `json:"cart"`
}

// decodeJSON reads an optional JSON body into v. An empty body leaves v
// untouched.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

// CreateCheckout handles POST /api/checkouts.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.apiError(w, r, err)
		return
	}

	sess, err := h.checkout.Start(r.Context(), req.Cart)
	if err != nil {
		h.apiError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/checkouts/"+sess.ID)
	writeSession(w, http.StatusCreated, sess)
}

// GetCheckout handles GET /api/checkouts/{id}.
func (h *Handler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	sess, err := h.checkout.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.apiError(w, r, err)
		return
	}
	writeSession(w, http.StatusOK, sess)
}

// SubmitCheckout handles POST /api/checkouts/{id}/submit. It blocks until
// the payment sink answered; a declined payment is a 200 with state "error".
func (h *Handler) SubmitCheckout(w http.ResponseWriter, r *http.Request) {
	var card checkout.CardDetails
	if err := h.decodeJSON(w, r, &card); err != nil {
		h.apiError(w, r, err)
		return
	}

	sess, err := h.checkout.Submit(r.Context(), mux.Vars(r)["id"], card)
	if err != nil {
		h.apiError(w, r, err)
		return
	}
	writeSession(w, http.StatusOK, sess)
}

// CloseCheckout handles DELETE /api/checkouts/{id}.
func (h *Handler) CloseCheckout(w http.ResponseWriter, r *http.Request) {
	if err := h.checkout.Close(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.apiError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) apiError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := errorStatus(err)
	logFailure(r.Context(), code, err)

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(code) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
	})
	writeJSON(w, code, e.Bytes())
}

// writeSession renders the session view. The total is a string with two
// decimals so clients never see float artifacts.
func writeSession(w http.ResponseWriter, code int, s *checkout.Session) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(s.ID) })
		e.Field("state", func(e *jx.Encoder) { e.Str(s.State.String()) })
		e.Field("total", func(e *jx.Encoder) { e.Str(s.FormattedTotal()) })
		if s.Error != "" {
			e.Field("error", func(e *jx.Encoder) { e.Str(s.Error) })
		}
		e.Field("attempts", func(e *jx.Encoder) { e.Int(s.Attempts) })
	})
	writeJSON(w, code, e.Bytes())
}

func writeJSON(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}
