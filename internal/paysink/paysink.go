// Package paysink holds the pieces shared by the HTTP payment sinks.
package paysink

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// maxBodySize caps how much of a payment backend response is read.
const maxBodySize = 1 << 20

// NewHTTPClient returns a client whose outbound requests are traced. The
// checkout service bounds each call with its own deadline, so the client
// timeout is only a backstop.
func NewHTTPClient(tp trace.TracerProvider) *http.Client {
	var opts []otelhttp.Option
	if tp != nil {
		opts = append(opts, otelhttp.WithTracerProvider(tp))
	}
	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport, opts...),
		Timeout:   2 * time.Minute,
	}
}

// ReadBody reads at most maxBodySize bytes of the response body.
func ReadBody(resp *http.Response) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	return data, nil
}

// StringField returns the string value of a top-level field of a JSON
// object. It returns "" when data is not an object, the field is absent or
// it is not a string.
func StringField(data []byte, key string) string {
	var value string
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return ""
	}
	if err := d.ObjBytes(func(d *jx.Decoder, k []byte) error {
		if string(k) != key || d.Next() != jx.String {
			return d.Skip()
		}
		s, err := d.Str()
		if err != nil {
			return err
		}
		value = s
		return nil
	}); err != nil {
		return ""
	}
	return value
}

// IsSuccess reports whether the status code is in the 2xx range.
func IsSuccess(code int) bool {
	return code >= 200 && code < 300
}
