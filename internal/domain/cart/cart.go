// Package cart holds the cart snapshot handed to checkout and the total
// computed over it.
package cart

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Item is a priced, quantified line of a cart snapshot.
type Item struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// InvalidItemError indicates a line item with a negative price or quantity.
type InvalidItemError struct {
	Index  int
	Reason string
}

func (e *InvalidItemError) Error() string {
	return fmt.Sprintf("cart item %d: %s", e.Index, e.Reason)
}

// Validate checks that every item has a non-negative price and quantity.
// A zero quantity is allowed and contributes nothing to the total.
func Validate(items []Item) error {
	for i, item := range items {
		if item.Price.IsNegative() {
			return &InvalidItemError{Index: i, Reason: "price must not be negative"}
		}
		if item.Quantity < 0 {
			return &InvalidItemError{Index: i, Reason: "quantity must not be negative"}
		}
	}
	return nil
}

// Total returns the sum of price×quantity over items, rounded to 2 decimal
// places. An empty cart totals zero.
func Total(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total.Round(2)
}

// FormatTotal renders Total with exactly two decimal places, e.g. "44.98".
func FormatTotal(items []Item) string {
	return Total(items).StringFixed(2)
}
