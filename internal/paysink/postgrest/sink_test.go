package postgrest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/payment"
)

type captured struct {
	path   string
	apikey string
	auth   string
	prefer string
	body   string
}

func newServer(t *testing.T, status int, respBody string) (*httptest.Server, *[]captured) {
	t.Helper()
	var calls []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		calls = append(calls, captured{
			path:   r.URL.Path,
			apikey: r.Header.Get("apikey"),
			auth:   r.Header.Get("Authorization"),
			prefer: r.Header.Get("Prefer"),
			body:   string(data),
		})
		w.WriteHeader(status)
		_, _ = io.WriteString(w, respBody)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testConfig(url string) Config {
	return Config{
		URL:          url,
		APIKey:       "anon-key",
		Table:        "transactions",
		CreditCardID: 1,
		Description:  "Storefront order",
	}
}

func testTransaction() payment.Transaction {
	return payment.Transaction{
		ID:     "tx-1",
		Amount: decimal.RequireFromString("44.98"),
		Card:   payment.Card{Number: "4111 1111 1111 1111"},
	}
}

func TestSink_Record(t *testing.T) {
	srv, calls := newServer(t, http.StatusCreated, "")

	err := New(testConfig(srv.URL+"/"), srv.Client()).Record(context.Background(), testTransaction())
	require.NoError(t, err)

	require.Len(t, *calls, 1)
	got := (*calls)[0]
	assert.Equal(t, "/rest/v1/transactions", got.path)
	assert.Equal(t, "anon-key", got.apikey)
	assert.Equal(t, "Bearer anon-key", got.auth)
	assert.Equal(t, "return=minimal", got.prefer)
	assert.JSONEq(t, `[{
		"credit_card_id": 1,
		"cc_number": "4111111111111111",
		"transaction_amount": 44.98,
		"description": "Storefront order"
	}]`, got.body)
}

func TestSink_Rejected(t *testing.T) {
	srv, calls := newServer(t, http.StatusConflict,
		`{"code":"23505","message":"duplicate key value violates unique constraint"}`)

	err := New(testConfig(srv.URL), srv.Client()).Record(context.Background(), testTransaction())

	var rejected *payment.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusConflict, rejected.Status)
	assert.Equal(t, "duplicate key value violates unique constraint", payment.Message(err))
	assert.Len(t, *calls, 1)
}

func TestSink_RejectedWithoutMessage(t *testing.T) {
	srv, _ := newServer(t, http.StatusUnauthorized, `Unauthorized`)

	err := New(testConfig(srv.URL), srv.Client()).Record(context.Background(), testTransaction())

	assert.Equal(t, payment.MessageFailed, payment.Message(err))
}

func TestSink_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := New(testConfig(url), nil).Record(context.Background(), testTransaction())

	var netErr *payment.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, payment.MessageUnavailable, payment.Message(err))
}
