package postgres

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/payment"
)

type mockExecer struct {
	sql  string
	args []any
	err  error
}

func (m *mockExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.sql = sql
	m.args = args
	if m.err != nil {
		return pgconn.CommandTag{}, m.err
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func testTransaction() payment.Transaction {
	return payment.Transaction{
		ID:        "tx-1",
		SessionID: "s1",
		Amount:    decimal.RequireFromString("44.98"),
		Card:      payment.Card{Number: "4111 1111 1111 1111", Name: "John Doe"},
	}
}

func TestTransactionSink_Record(t *testing.T) {
	db := &mockExecer{}
	sink := NewTransactionSink(db, TransactionMeta{CreditCardID: 7, Description: "Storefront order"})

	require.NoError(t, sink.Record(context.Background(), testTransaction()))

	assert.Contains(t, db.sql, "INSERT INTO transactions")
	require.Len(t, db.args, 4)
	assert.Equal(t, int32(7), db.args[0])
	assert.Equal(t, "4111111111111111", db.args[1])
	amount, ok := db.args[2].(decimal.Decimal)
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("44.98").Equal(amount))
	assert.Equal(t, "Storefront order", db.args[3])
}

func TestTransactionSink_ServerError(t *testing.T) {
	db := &mockExecer{err: &pgconn.PgError{Code: "23514", Message: "new row violates check constraint"}}
	sink := NewTransactionSink(db, TransactionMeta{})

	err := sink.Record(context.Background(), testTransaction())

	var rejected *payment.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "new row violates check constraint", payment.Message(err))
}

func TestTransactionSink_ConnectionError(t *testing.T) {
	db := &mockExecer{err: errors.New("dial tcp: connection refused")}
	sink := NewTransactionSink(db, TransactionMeta{})

	err := sink.Record(context.Background(), testTransaction())

	var netErr *payment.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, payment.MessageUnavailable, payment.Message(err))
}
