package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/payment"
)

const insertTransactionSQL = `INSERT INTO transactions (credit_card_id, cc_number, transaction_amount, description)
VALUES ($1, $2, $3, $4)`

var _ payment.Sink = (*TransactionSink)(nil)

// Execer is the subset of pgxpool.Pool used by TransactionSink.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// TransactionMeta holds the columns written unchanged with every row.
type TransactionMeta struct {
	CreditCardID int32
	Description  string
}

// TransactionSink records payments by inserting a row into the transactions
// table.
type TransactionSink struct {
	db   Execer
	meta TransactionMeta
}

// NewTransactionSink returns a TransactionSink writing through db.
func NewTransactionSink(db Execer, meta TransactionMeta) *TransactionSink {
	return &TransactionSink{db: db, meta: meta}
}

// Record inserts one row with the card number stripped of whitespace.
// Server errors become rejections carrying the server message; anything else
// is a network failure.
func (s *TransactionSink) Record(ctx context.Context, tx payment.Transaction) error {
	if _, err := s.db.Exec(ctx, insertTransactionSQL,
		s.meta.CreditCardID,
		tx.Card.Digits(),
		tx.Amount,
		s.meta.Description,
	); err != nil {
		return classify(err)
	}

	zctx.From(ctx).Debug("Transaction row inserted",
		zap.String("transaction_id", tx.ID),
		zap.String("amount", tx.Amount.StringFixed(2)),
	)
	return nil
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &payment.RejectedError{Message: pgErr.Message}
	}
	return &payment.NetworkError{Op: "insert transaction", Err: err}
}
