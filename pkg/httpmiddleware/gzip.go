package httpmiddleware

import (
	"compress/gzip"
	"net/http"
	"strings"
	"sync"

	"github.com/klauspost/pgzip"
)

// Gzip compresses responses for clients sending Accept-Encoding: gzip.
func Gzip(level int) Middleware {
	pool := sync.Pool{New: func() any {
		zw, err := pgzip.NewWriterLevel(nil, level)
		if err != nil {
			zw, _ = pgzip.NewWriterLevel(nil, gzip.DefaultCompression)
		}
		return zw
	}}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Accept-Encoding")
			if r.Method == http.MethodHead || !acceptsGzip(r) {
				next.ServeHTTP(w, r)
				return
			}

			zw := pool.Get().(*pgzip.Writer)
			zw.Reset(w)
			gw := &gzipWriter{ResponseWriter: w, zw: zw}
			defer func() {
				if gw.compressing {
					_ = zw.Close()
				}
				pool.Put(zw)
			}()
			next.ServeHTTP(gw, r)
		})
	}
}

func acceptsGzip(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		enc, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(enc, "gzip") {
			return true
		}
	}
	return false
}

// gzipWriter starts compressing on the first write, unless the handler
// answered without a body or already encoded it.
type gzipWriter struct {
	http.ResponseWriter
	zw          *pgzip.Writer
	wroteHeader bool
	compressing bool
}

func (w *gzipWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true

	h := w.Header()
	if code != http.StatusNoContent && code != http.StatusNotModified &&
		h.Get("Content-Encoding") == "" {
		h.Set("Content-Encoding", "gzip")
		h.Del("Content-Length")
		w.compressing = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *gzipWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", http.DetectContentType(b))
		}
		w.WriteHeader(http.StatusOK)
	}
	if !w.compressing {
		return w.ResponseWriter.Write(b)
	}
	return w.zw.Write(b)
}

func (w *gzipWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
