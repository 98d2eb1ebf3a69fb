// Package trace tags each request with an ID, logs its lifecycle and keeps
// running request counters.
package trace

import (
	"context"
	"net/http"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"moneta/internal/log"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

type ctxKey struct{}

var validRequestID = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,64}$`)

// Metrics is a point-in-time view of the tracer counters.
type Metrics struct {
	Total        int64 `json:"total"`
	ClientErrors int64 `json:"clientErrors"`
	ServerErrors int64 `json:"serverErrors"`
	AvgLatencyUS int64 `json:"avgLatencyMicros"`
}

type Tracer struct {
	clientIP func(*http.Request) string
	logger   *log.StructuredLogger

	total, clientErrs, serverErrs, micros atomic.Int64
}

func NewTracer(clientIP func(*http.Request) string, logger *log.StructuredLogger) *Tracer {
	if logger == nil {
		logger = log.NewStructuredLogger(nil)
	}
	if clientIP == nil {
		clientIP = func(r *http.Request) string { return r.RemoteAddr }
	}
	return &Tracer{clientIP: clientIP, logger: logger}
}

// NewRequestID returns a fresh random ID.
func NewRequestID() string {
	return "req_" + uuid.NewString()
}

func (t *Tracer) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ip := t.clientIP(r)

		// A well-formed upstream ID is kept so logs correlate across proxies.
		id := r.Header.Get(RequestIDHeader)
		if !validRequestID.MatchString(id) {
			id = NewRequestID()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), ctxKey{}, id)
		ctx = log.WithLogger(ctx, log.FromContext(ctx).With(log.FieldRequestID, id))
		r = r.WithContext(ctx)

		t.logger.LogHTTPStart(ctx, r, id, ip)
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		elapsed := time.Since(start)
		t.observe(elapsed, sw.status)
		t.logger.LogHTTPEnd(ctx, r, id, sw.status, elapsed.Milliseconds(), ip)
	})
}

func (t *Tracer) observe(d time.Duration, status int) {
	t.total.Add(1)
	t.micros.Add(d.Microseconds())
	switch {
	case status >= 500:
		t.serverErrs.Add(1)
	case status >= 400:
		t.clientErrs.Add(1)
	}
}

func (t *Tracer) Metrics() Metrics {
	m := Metrics{
		Total:        t.total.Load(),
		ClientErrors: t.clientErrs.Load(),
		ServerErrors: t.serverErrs.Load(),
	}
	if m.Total > 0 {
		m.AvgLatencyUS = t.micros.Load() / m.Total
	}
	return m
}

// RequestID returns the ID assigned by Wrap, or "" outside a traced request.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
