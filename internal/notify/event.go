// Package notify publishes finished checkout attempts to a message broker.
package notify

import (
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/checkout"
)

// ContentType of every published event.
const ContentType = "application/json"

// encodeOutcome writes the event payload for o. The error field is omitted
// for successful attempts.
func encodeOutcome(e *jx.Encoder, o checkout.Outcome) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("session_id", func(e *jx.Encoder) { e.Str(o.SessionID) })
		e.Field("state", func(e *jx.Encoder) { e.Str(o.State.String()) })
		e.Field("total", func(e *jx.Encoder) { e.Str(o.Total) })
		if o.Error != "" {
			e.Field("error", func(e *jx.Encoder) { e.Str(o.Error) })
		}
		e.Field("attempt", func(e *jx.Encoder) { e.Int(o.Attempt) })
		e.Field("at", func(e *jx.Encoder) { e.Str(o.At.UTC().Format(time.RFC3339Nano)) })
	})
}

// Event returns the JSON payload for o.
func Event(o checkout.Outcome) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeOutcome(e, o)
	return append([]byte(nil), e.Bytes()...)
}

// RoutingKey returns "checkout.<state>".
func RoutingKey(o checkout.Outcome) string {
	return "checkout." + o.State.String()
}
