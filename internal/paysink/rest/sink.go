// Package rest records payments by posting them to a transactions endpoint.
package rest

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/paysink"
)

var _ payment.Sink = (*Sink)(nil)

// Sink posts {"amount": n} to {base}/transactions.
type Sink struct {
	endpoint string
	client   *http.Client
}

// New returns a Sink for the backend at baseURL.
func New(baseURL string, client *http.Client) *Sink {
	if client == nil {
		client = http.DefaultClient
	}
	return &Sink{
		endpoint: strings.TrimRight(baseURL, "/") + "/transactions",
		client:   client,
	}
}

// Record issues one POST. A 2xx answer with a JSON body is a success. Any
// other status is a rejection whose message is the body's "error" field.
func (s *Sink) Record(ctx context.Context, tx payment.Transaction) error {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.Obj(func(e *jx.Encoder) {
		e.Field("amount", func(e *jx.Encoder) {
			e.Float64(tx.Amount.InexactFloat64())
		})
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(e.Bytes()))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return &payment.NetworkError{Op: "post transaction", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := paysink.ReadBody(resp)
	if err != nil {
		return &payment.NetworkError{Op: "post transaction", Err: err}
	}

	lg := zctx.From(ctx).With(
		zap.String("transaction_id", tx.ID),
		zap.Int("status", resp.StatusCode),
	)

	if !paysink.IsSuccess(resp.StatusCode) {
		lg.Debug("Transaction rejected", zap.ByteString("body", body))
		return &payment.RejectedError{
			Status:  resp.StatusCode,
			Message: paysink.StringField(body, "error"),
		}
	}

	if !jx.Valid(body) {
		return &payment.RejectedError{Status: resp.StatusCode}
	}

	lg.Info("Transaction recorded", zap.ByteString("response", body))
	return nil
}
