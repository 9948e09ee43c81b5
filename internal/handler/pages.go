package handler

import (
	"bytes"
	"embed"
	"encoding/json"
	"html/template"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
)

//go:embed templates/*.html
var templateFS embed.FS

func parseTemplates() (*template.Template, error) {
	return template.ParseFS(templateFS, "templates/*.html")
}

// SuccessMessage replaces the form once the payment went through.
const SuccessMessage = "Payment successful! Thank you for your purchase."

type pageData struct {
	ID         string
	Total      string
	Error      string
	ShowForm   bool
	Processing bool
	Success    bool
	Message    string
}

func (h *Handler) viewData(s *checkout.Session) pageData {
	d := pageData{
		ID:    s.ID,
		Total: s.FormattedTotal(),
	}
	switch s.State {
	case checkout.StateSuccess:
		d.Success = true
		d.Message = SuccessMessage
	case checkout.StateProcessing:
		d.Processing = true
	case checkout.StateError:
		d.Error = s.Error
		d.ShowForm = true
	default:
		d.ShowForm = true
	}
	return d
}

// StartPage handles POST /checkout. The form field "cart" holds the cart
// snapshot as a JSON array; an absent field opens an empty checkout.
func (h *Handler) StartPage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.pageError(w, r, badRequest("invalid form: %v", err))
		return
	}

	var items []cart.Item
	if raw := r.PostFormValue("cart"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			h.pageError(w, r, badRequest("invalid cart: %v", err))
			return
		}
	}

	sess, err := h.checkout.Start(r.Context(), items)
	if err != nil {
		h.pageError(w, r, err)
		return
	}
	http.Redirect(w, r, "/checkout/"+sess.ID, http.StatusSeeOther)
}

// ViewPage handles GET /checkout/{id} and renders the view for the current
// state.
func (h *Handler) ViewPage(w http.ResponseWriter, r *http.Request) {
	sess, err := h.checkout.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.pageError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	h.render(w, r, http.StatusOK, "checkout.html", h.viewData(sess))
}

// PayPage handles POST /checkout/{id}/pay. The payment runs in the background
// and the browser is sent back to the view, which shows processing until the
// outcome is recorded.
func (h *Handler) PayPage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.pageError(w, r, badRequest("invalid form: %v", err))
		return
	}

	card := checkout.CardDetails{
		Number: r.PostFormValue("number"),
		Name:   r.PostFormValue("name"),
		Expiry: r.PostFormValue("expiry"),
		CVV:    r.PostFormValue("cvv"),
	}
	_, err := h.checkout.SubmitAsync(r.Context(), id, card)
	switch {
	case err == nil,
		errors.Is(err, checkout.ErrSubmitInProgress),
		errors.Is(err, checkout.ErrAlreadyPaid):
		// A double submit lands on the view of the attempt already running.
		http.Redirect(w, r, "/checkout/"+id, http.StatusSeeOther)
	default:
		h.pageError(w, r, err)
	}
}

// ClosePage handles POST /checkout/{id}/close: the customer left the
// checkout.
func (h *Handler) ClosePage(w http.ResponseWriter, r *http.Request) {
	if err := h.checkout.Close(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.pageError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "closed.html", nil)
}

func (h *Handler) pageError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := errorStatus(err)
	logFailure(r.Context(), code, err)
	h.render(w, r, code, "error.html", pageData{Message: msg})
}

// render executes the template into a buffer first so a template error
// never leaves a half-written page.
func (h *Handler) render(w http.ResponseWriter, r *http.Request, code int, name string, data any) {
	var buf bytes.Buffer
	if err := h.pages.ExecuteTemplate(&buf, name, data); err != nil {
		zctx.From(r.Context()).Error("Render page", zap.String("template", name), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_, _ = buf.WriteTo(w)
}
