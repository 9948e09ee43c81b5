package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/paysink/rest"
	"github.com/xenking/storefront/internal/storage/memory"
)

const exampleCart = `[{"price":19.99,"quantity":2},{"price":5.00,"quantity":1}]`

// scriptedSink answers each Record with the next queued error; nil means
// success. It also counts calls.
type scriptedSink struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (s *scriptedSink) Record(context.Context, payment.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func (s *scriptedSink) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestServer(t *testing.T, sink payment.Sink) *httptest.Server {
	t.Helper()

	svc, err := checkout.NewService(memory.NewSessionStore(time.Hour), sink)
	require.NoError(t, err)

	h, err := New(svc, Config{})
	require.NoError(t, err)

	router := mux.NewRouter()
	h.Register(router)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return srv
}

// noRedirect keeps 303 responses visible to the test.
func noRedirect(srv *httptest.Server) *http.Client {
	c := srv.Client()
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return c
}

type sessionView struct {
	ID       string `json:"id"`
	State    string `json:"state"`
	Total    string `json:"total"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

type errorView struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func createCheckout(t *testing.T, srv *httptest.Server) sessionView {
	t.Helper()
	resp := doJSON(t, srv, http.MethodPost, "/api/checkouts", `{"cart":`+exampleCart+`}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[sessionView](t, resp)
}

const testCardJSON = `{"number":"4111 1111 1111 1111","name":"John Doe","expiry":"12/30","cvv":"123"}`

func TestAPI_Create(t *testing.T) {
	srv := newTestServer(t, &scriptedSink{})

	resp := doJSON(t, srv, http.MethodPost, "/api/checkouts", `{"cart":`+exampleCart+`}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	view := decode[sessionView](t, resp)
	assert.NotEmpty(t, view.ID)
	assert.Equal(t, "idle", view.State)
	assert.Equal(t, "44.98", view.Total)
	assert.Empty(t, view.Error)
	assert.Equal(t, "/api/checkouts/"+view.ID, resp.Header.Get("Location"))
}

func TestAPI_CreateEmptyCart(t *testing.T) {
	srv := newTestServer(t, &scriptedSink{})

	for _, body := range []string{``, `{}`, `{"cart":[]}`} {
		resp := doJSON(t, srv, http.MethodPost, "/api/checkouts", body)
		require.Equal(t, http.StatusCreated, resp.StatusCode, "body %q", body)
		assert.Equal(t, "0.00", decode[sessionView](t, resp).Total)
	}
}

func TestAPI_CreateBadInput(t *testing.T) {
	srv := newTestServer(t, &scriptedSink{})

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed", body: `{"cart":`},
		{name: "negative price", body: `{"cart":[{"price":-1,"quantity":1}]}`},
		{name: "negative quantity", body: `{"cart":[{"price":1,"quantity":-2}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, srv, http.MethodPost, "/api/checkouts", tt.body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			body := decode[errorView](t, resp)
			assert.Equal(t, http.StatusBadRequest, body.Code)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestAPI_SubmitSuccess(t *testing.T) {
	sink := &scriptedSink{}
	srv := newTestServer(t, sink)
	created := createCheckout(t, srv)

	resp := doJSON(t, srv, http.MethodPost, "/api/checkouts/"+created.ID+"/submit", testCardJSON)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	view := decode[sessionView](t, resp)
	assert.Equal(t, "success", view.State)
	assert.Equal(t, "44.98", view.Total)
	assert.Empty(t, view.Error)
	assert.Equal(t, 1, view.Attempts)
	assert.Equal(t, 1, sink.callCount())

	resp = doJSON(t, srv, http.MethodPost, "/api/checkouts/"+created.ID+"/submit", testCardJSON)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, checkout.ErrAlreadyPaid.Error(), decode[errorView](t, resp).Message)
	assert.Equal(t, 1, sink.callCount(), "no call after success")
}

func TestAPI_SubmitCardDeclined(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = io.WriteString(w, `{"error":"card declined"}`)
	}))
	t.Cleanup(backend.Close)

	srv := newTestServer(t, rest.New(backend.URL, backend.Client()))
	created := createCheckout(t, srv)

	resp := doJSON(t, srv, http.MethodPost, "/api/checkouts/"+created.ID+"/submit", testCardJSON)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	view := decode[sessionView](t, resp)
	assert.Equal(t, "error", view.State)
	assert.Equal(t, "card declined", view.Error)
	assert.Equal(t, "44.98", view.Total)
}

func TestAPI_LatestErrorOnly(t *testing.T) {
	sink := &scriptedSink{errs: []error{
		&payment.RejectedError{Status: 402, Message: "card declined"},
		&payment.NetworkError{Op: "post transaction", Err: errors.New("connection refused")},
	}}
	srv := newTestServer(t, sink)
	created := createCheckout(t, srv)

	resp := doJSON(t, srv, http.MethodPost, "/api/checkouts/"+created.ID+"/submit", testCardJSON)
	assert.Equal(t, "card declined", decode[sessionView](t, resp).Error)

	resp = doJSON(t, srv, http.MethodPost, "/api/checkouts/"+created.ID+"/submit", testCardJSON)
	view := decode[sessionView](t, resp)
	assert.Equal(t, "error", view.State)
	assert.Equal(t, payment.MessageUnavailable, view.Error)
	assert.Equal(t, 2, view.Attempts)
}

func TestAPI_NotFound(t *testing.T) {
	srv := newTestServer(t, &scriptedSink{})

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/checkouts/missing", ""},
		{http.MethodPost, "/api/checkouts/missing/submit", testCardJSON},
		{http.MethodDelete, "/api/checkouts/missing", ""},
	} {
		resp := doJSON(t, srv, tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "%s %s", tc.method, tc.path)
		assert.Equal(t, checkout.ErrSessionNotFound.Error(), decode[errorView](t, resp).Message)
	}
}

func TestAPI_Close(t *testing.T) {
	srv := newTestServer(t, &scriptedSink{})
	created := createCheckout(t, srv)

	resp := doJSON(t, srv, http.MethodDelete, "/api/checkouts/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, srv, http.MethodGet, "/api/checkouts/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_SubmitBadBody(t *testing.T) {
	srv := newTestServer(t, &scriptedSink{})
	created := createCheckout(t, srv)

	resp := doJSON(t, srv, http.MethodPost, "/api/checkouts/"+created.ID+"/submit", `{"number":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func startPage(t *testing.T, srv *httptest.Server, cartJSON string) (*http.Response, string) {
	t.Helper()
	resp, err := noRedirect(srv).PostForm(srv.URL+"/checkout", url.Values{"cart": {cartJSON}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp, resp.Header.Get("Location")
}

func getPage(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := srv.Client().Get(srv.URL + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func pay(t *testing.T, srv *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := noRedirect(srv).PostForm(srv.URL+path+"/pay", url.Values{
		"number": {"4111 1111 1111 1111"},
		"name":   {"John Doe"},
		"expiry": {"12/30"},
		"cvv":    {"123"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func waitForPage(t *testing.T, srv *httptest.Server, path, needle string) string {
	t.Helper()
	var body string
	require.Eventually(t, func() bool {
		_, body = getPage(t, srv, path)
		return strings.Contains(body, needle)
	}, 2*time.Second, 10*time.Millisecond)
	return body
}

func TestPages_IdleView(t *testing.T) {
	srv := newTestServer(t, &scriptedSink{})

	resp, loc := startPage(t, srv, exampleCart)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.True(t, strings.HasPrefix(loc, "/checkout/"), loc)

	code, body := getPage(t, srv, loc)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "Total Amount: $44.98")
	assert.Contains(t, body, `maxlength="19"`)
	assert.Contains(t, body, `maxlength="5"`)
	assert.Contains(t, body, `maxlength="3"`)
	assert.Contains(t, body, `placeholder="John Doe" autocomplete="cc-name"`)
	assert.Contains(t, body, `action="`+loc+`/pay"`)
	assert.NotContains(t, body, `class="error"`)
}

func TestPages_EmptyCart(t *testing.T) {
	srv := newTestServer(t, &scriptedSink{})

	_, loc := startPage(t, srv, "")
	_, body := getPage(t, srv, loc)
	assert.Contains(t, body, "Total Amount: $0.00")
}

func TestPages_InvalidCart(t *testing.T) {
	srv := newTestServer(t, &scriptedSink{})

	resp, _ := startPage(t, srv, `{"price":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPages_Success(t *testing.T) {
	sink := &scriptedSink{}
	srv := newTestServer(t, sink)
	_, loc := startPage(t, srv, exampleCart)

	resp := pay(t, srv, loc)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, loc, resp.Header.Get("Location"))

	body := waitForPage(t, srv, loc, SuccessMessage)
	assert.NotContains(t, body, "<form")
	assert.NotContains(t, body, "Pay Now")

	resp = pay(t, srv, loc)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode, "paying again lands on the confirmation")
	assert.Equal(t, 1, sink.callCount())
}

func TestPages_Error(t *testing.T) {
	sink := &scriptedSink{errs: []error{
		&payment.RejectedError{Status: 402, Message: "card declined"},
		&payment.RejectedError{Status: 402, Message: "insufficient funds"},
	}}
	srv := newTestServer(t, sink)
	_, loc := startPage(t, srv, exampleCart)

	pay(t, srv, loc)
	body := waitForPage(t, srv, loc, "card declined")
	assert.Contains(t, body, "<form")
	assert.Contains(t, body, "Total Amount: $44.98")

	pay(t, srv, loc)
	body = waitForPage(t, srv, loc, "insufficient funds")
	assert.NotContains(t, body, "card declined")
	assert.Contains(t, body, "<form")
}

func TestPages_ErrorIsEscaped(t *testing.T) {
	sink := &scriptedSink{errs: []error{
		&payment.RejectedError{Status: 402, Message: `<script>alert(1)</script>`},
	}}
	srv := newTestServer(t, sink)
	_, loc := startPage(t, srv, exampleCart)

	pay(t, srv, loc)
	body := waitForPage(t, srv, loc, "&lt;script&gt;")
	assert.NotContains(t, body, "<script>")
}

type gatedSink struct {
	started chan struct{}
	release chan struct{}
}

func (s *gatedSink) Record(ctx context.Context, _ payment.Transaction) error {
	s.started <- struct{}{}
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestPages_Processing(t *testing.T) {
	sink := &gatedSink{started: make(chan struct{}, 1), release: make(chan struct{})}
	srv := newTestServer(t, sink)
	_, loc := startPage(t, srv, exampleCart)

	pay(t, srv, loc)
	<-sink.started

	_, body := getPage(t, srv, loc)
	assert.Contains(t, body, `class="spinner"`)
	assert.Contains(t, body, `http-equiv="refresh"`)
	assert.Contains(t, body, "Total Amount: $44.98")
	assert.NotContains(t, body, "<form")

	resp := pay(t, srv, loc)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode, "double submit is ignored")

	close(sink.release)
	waitForPage(t, srv, loc, SuccessMessage)
}

func TestPages_CloseAndNotFound(t *testing.T) {
	srv := newTestServer(t, &scriptedSink{})
	_, loc := startPage(t, srv, exampleCart)

	resp, err := srv.Client().PostForm(srv.URL+loc+"/close", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	code, body := getPage(t, srv, loc)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, body, checkout.ErrSessionNotFound.Error())
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{badRequest("bad"), http.StatusBadRequest},
		{checkout.ErrSessionNotFound, http.StatusNotFound},
		{checkout.ErrSessionClosed, http.StatusNotFound},
		{errors.Wrap(checkout.ErrSubmitInProgress, "submit"), http.StatusConflict},
		{checkout.ErrAlreadyPaid, http.StatusConflict},
		{errors.New("redis: connection pool timeout"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		code, msg := errorStatus(tt.err)
		assert.Equal(t, tt.code, code, tt.err.Error())
		assert.NotEmpty(t, msg)
	}

	_, msg := errorStatus(errors.New("redis: connection pool timeout"))
	assert.Equal(t, "internal server error", msg, "internal details are not leaked")
}
