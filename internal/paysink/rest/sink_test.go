package rest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/payment"
)

func testTransaction(amount string) payment.Transaction {
	return payment.Transaction{
		ID:     "tx-1",
		Amount: decimal.RequireFromString(amount),
		Card:   payment.Card{Number: "4111 1111 1111 1111"},
	}
}

func newServer(t *testing.T, status int, body string, seen *[]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		*seen = append(*seen, r.Method+" "+r.URL.Path+" "+r.Header.Get("Content-Type")+" "+string(data))
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSink_Success(t *testing.T) {
	var seen []string
	srv := newServer(t, http.StatusCreated, `{"id":1,"amount":44.98}`, &seen)

	err := New(srv.URL+"/", srv.Client()).Record(context.Background(), testTransaction("44.98"))
	require.NoError(t, err)

	require.Len(t, seen, 1)
	assert.Equal(t, `POST /transactions application/json {"amount":44.98}`, seen[0])
}

func TestSink_AmountEncoding(t *testing.T) {
	tests := []struct {
		amount string
		want   string
	}{
		{amount: "0.00", want: `{"amount":0}`},
		{amount: "10.50", want: `{"amount":10.5}`},
		{amount: "1234.56", want: `{"amount":1234.56}`},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			var seen []string
			srv := newServer(t, http.StatusOK, `{}`, &seen)

			require.NoError(t, New(srv.URL, srv.Client()).Record(context.Background(), testTransaction(tt.amount)))
			require.Len(t, seen, 1)
			assert.Equal(t, "POST /transactions application/json "+tt.want, seen[0])
		})
	}
}

func TestSink_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{name: "card declined", status: http.StatusPaymentRequired, body: `{"error":"card declined"}`, message: "card declined"},
		{name: "no error field", status: http.StatusBadRequest, body: `{"status":"bad"}`, message: payment.MessageFailed},
		{name: "not json", status: http.StatusBadGateway, body: `Bad Gateway`, message: payment.MessageFailed},
		{name: "empty body", status: http.StatusInternalServerError, body: ``, message: payment.MessageFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen []string
			srv := newServer(t, tt.status, tt.body, &seen)

			err := New(srv.URL, srv.Client()).Record(context.Background(), testTransaction("44.98"))

			var rejected *payment.RejectedError
			require.ErrorAs(t, err, &rejected)
			assert.Equal(t, tt.status, rejected.Status)
			assert.Equal(t, tt.message, payment.Message(err))
			assert.Len(t, seen, 1, "exactly one outbound call")
		})
	}
}

func TestSink_SuccessWithoutJSON(t *testing.T) {
	var seen []string
	srv := newServer(t, http.StatusOK, `ok`, &seen)

	err := New(srv.URL, srv.Client()).Record(context.Background(), testTransaction("1.00"))

	require.Error(t, err)
	assert.Equal(t, payment.MessageFailed, payment.Message(err))
}

func TestSink_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := New(url, nil).Record(context.Background(), testTransaction("1.00"))

	var netErr *payment.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, payment.MessageUnavailable, payment.Message(err))
}

func TestSink_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := New(srv.URL, srv.Client()).Record(ctx, testTransaction("1.00"))
	require.Error(t, err)
	assert.Equal(t, payment.MessageTimeout, payment.Message(err))
}
