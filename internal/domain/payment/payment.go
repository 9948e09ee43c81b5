// Package payment defines the transaction handed to a payment sink and the
// error taxonomy sinks report back.
package payment

import (
	"context"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Card carries the card details entered at checkout. Fields are forwarded
// as entered; the sink is the validation boundary.
type Card struct {
	Number string
	Name   string
	Expiry string
	CVV    string
}

// Digits returns the card number with every whitespace character removed.
func (c Card) Digits() string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, c.Number)
}

// MaskNumber returns the card number reduced to its last four characters,
// suitable for logs.
func MaskNumber(number string) string {
	digits := Card{Number: number}.Digits()
	if len(digits) <= 4 {
		return strings.Repeat("*", len(digits))
	}
	return strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
}

// Transaction is a single payment attempt for a checkout session.
type Transaction struct {
	ID        string
	SessionID string
	Amount    decimal.Decimal
	Card      Card
}

// Sink records a transaction in an external payment system. Implementations
// issue exactly one outbound call per Record and never retry.
type Sink interface {
	Record(ctx context.Context, tx Transaction) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, tx Transaction) error

// Record calls f(ctx, tx).
func (f SinkFunc) Record(ctx context.Context, tx Transaction) error {
	return f(ctx, tx)
}
