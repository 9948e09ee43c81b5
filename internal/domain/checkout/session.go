package checkout

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/payment"
)

// State is the checkout view state.
type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
	StateSuccess    State = "success"
	StateError      State = "error"
)

// IsTerminal reports whether no further transition is defined from s.
func (s State) IsTerminal() bool {
	return s == StateSuccess
}

// CanSubmit reports whether a submission may start from s.
func (s State) CanSubmit() bool {
	return s == StateIdle || s == StateError
}

func (s State) String() string {
	return string(s)
}

// Sentinel errors for checkout operations.
var (
	ErrSessionNotFound  = errors.New("checkout session not found")
	ErrSubmitInProgress = errors.New("payment is already processing")
	ErrAlreadyPaid      = errors.New("checkout already paid")
	ErrSessionClosed    = errors.New("checkout session closed")
)

// Session is the snapshot of one checkout view: the cart it was opened with
// and where the state machine currently stands.
type Session struct {
	ID        string      `json:"id"`
	Items     []cart.Item `json:"items"`
	State     State       `json:"state"`
	Error     string      `json:"error,omitempty"`
	Attempts  int         `json:"attempts"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Total is recomputed from the cart on every call.
func (s *Session) Total() decimal.Decimal {
	return cart.Total(s.Items)
}

// FormattedTotal is Total with two decimal places.
func (s *Session) FormattedTotal() string {
	return cart.FormatTotal(s.Items)
}

// Clone returns a deep copy safe to hand out to callers.
func (s *Session) Clone() *Session {
	c := *s
	c.Items = append([]cart.Item(nil), s.Items...)
	return &c
}

// Store persists checkout sessions for the lifetime of a checkout view.
type Store interface {
	Create(ctx context.Context, s *Session) error
	// Get returns ErrSessionNotFound when the session does not exist.
	Get(ctx context.Context, id string) (*Session, error)
	// Update returns ErrSessionNotFound when the session was deleted.
	Update(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}

// Input caps applied to card fields, matching the checkout form. The
// cardholder name is not capped.
const (
	maxNumberLen = 19
	maxExpiryLen = 5
	maxCVVLen    = 3
)

// CardDetails is what the customer typed into the card form.
type CardDetails struct {
	Number string `json:"number"`
	Name   string `json:"name"`
	Expiry string `json:"expiry"`
	CVV    string `json:"cvv"`
}

// Capped truncates number, expiry and CVV to their input caps. No other
// validation is applied.
func (c CardDetails) Capped() CardDetails {
	return CardDetails{
		Number: truncate(c.Number, maxNumberLen),
		Name:   c.Name,
		Expiry: truncate(c.Expiry, maxExpiryLen),
		CVV:    truncate(c.CVV, maxCVVLen),
	}
}

func (c CardDetails) card() payment.Card {
	return payment.Card{
		Number: c.Number,
		Name:   c.Name,
		Expiry: c.Expiry,
		CVV:    c.CVV,
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
