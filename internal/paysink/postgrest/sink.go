// Package postgrest records payments as rows of a table exposed through a
// hosted PostgREST endpoint (e.g. Supabase).
package postgrest

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/paysink"
)

var _ payment.Sink = (*Sink)(nil)

// Config describes the hosted table.
type Config struct {
	URL          string
	APIKey       string
	Table        string
	CreditCardID int32
	Description  string
}

// Sink inserts one row per transaction.
type Sink struct {
	cfg      Config
	endpoint string
	client   *http.Client
}

// New returns a Sink for cfg.
func New(cfg Config, client *http.Client) *Sink {
	if client == nil {
		client = http.DefaultClient
	}
	return &Sink{
		cfg:      cfg,
		endpoint: strings.TrimRight(cfg.URL, "/") + "/rest/v1/" + url.PathEscape(cfg.Table),
		client:   client,
	}
}

func (s *Sink) encodeRow(e *jx.Encoder, tx payment.Transaction) {
	e.Arr(func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("credit_card_id", func(e *jx.Encoder) { e.Int32(s.cfg.CreditCardID) })
			e.Field("cc_number", func(e *jx.Encoder) { e.Str(tx.Card.Digits()) })
			e.Field("transaction_amount", func(e *jx.Encoder) { e.Float64(tx.Amount.InexactFloat64()) })
			e.Field("description", func(e *jx.Encoder) { e.Str(s.cfg.Description) })
		})
	})
}

// Record inserts the row. Error responses carry a "message" field which
// becomes the rejection message.
func (s *Sink) Record(ctx context.Context, tx payment.Transaction) error {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	s.encodeRow(e, tx)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(e.Bytes()))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")
	req.Header.Set("apikey", s.cfg.APIKey)
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return &payment.NetworkError{Op: "insert row", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := paysink.ReadBody(resp)
	if err != nil {
		return &payment.NetworkError{Op: "insert row", Err: err}
	}

	if !paysink.IsSuccess(resp.StatusCode) {
		zctx.From(ctx).Debug("Row insert rejected",
			zap.String("transaction_id", tx.ID),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body),
		)
		return &payment.RejectedError{
			Status:  resp.StatusCode,
			Message: paysink.StringField(body, "message"),
		}
	}

	zctx.From(ctx).Info("Transaction row inserted",
		zap.String("transaction_id", tx.ID),
		zap.String("table", s.cfg.Table),
	)
	return nil
}
