package log

import (
	"errors"
	"log/slog"

	"moneta/internal/core"
)

// Attribute keys shared by every component.
const (
	FieldComponent     = "component"
	FieldOperation     = "operation"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldUserAgent     = "user_agent"
	FieldError         = "error"
	FieldErrorKind     = "error_kind"
	FieldUserID        = "user_id"
	FieldTransactionID = "transaction_id"
	FieldBudgetID      = "budget_id"
	FieldEventID       = "event_id"
	FieldCategory      = "category"
	FieldAmountCents   = "amount_cents"
	FieldTxType        = "tx_type"
)

const (
	ComponentApp         = "app"
	ComponentHTTP        = "http"
	ComponentLedger      = "ledger"
	ComponentAggregation = "aggregation"
	ComponentAMQP        = "amqp"
	ComponentWorker      = "worker"
	ComponentSheets      = "sheets"
	ComponentBackend     = "backend"
	ComponentAuth        = "auth"
	ComponentStream      = "stream"
	ComponentStorage     = "storage"
	ComponentSecurity    = "security"
)

const (
	OpCreate    = "create"
	OpRead      = "read"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpList      = "list"
	OpSubscribe = "subscribe"
	OpRetry     = "retry"
	OpRender    = "render"
)

// ErrorKind names the ledger error class of err for log filtering.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, core.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, core.ErrValidation):
		return "validation"
	case errors.Is(err, core.ErrMissingIdentifier):
		return "missing_identifier"
	case errors.Is(err, core.ErrNotFound):
		return "not_found"
	case errors.Is(err, core.ErrConflict):
		return "conflict"
	case errors.Is(err, core.ErrWriteFailure):
		return "write_failure"
	case errors.Is(err, core.ErrReadFailure):
		return "read_failure"
	}
	return "internal"
}

// Fields accumulates attributes in insertion order.
type Fields struct {
	attrs []slog.Attr
}

func NewFields() *Fields {
	return &Fields{}
}

func (f *Fields) add(key string, v any) *Fields {
	f.attrs = append(f.attrs, slog.Any(key, v))
	return f
}

func (f *Fields) WithRequestID(requestID string) *Fields {
	if requestID == "" {
		return f
	}
	return f.add(FieldRequestID, requestID)
}

func (f *Fields) WithClientIP(ip string) *Fields {
	return f.add(FieldClientIP, ip)
}

// WithUser adds the session user when there is one.
func (f *Fields) WithUser(userID string) *Fields {
	if userID == "" {
		return f
	}
	return f.add(FieldUserID, userID)
}

// WithError records the message and its ErrorKind.
func (f *Fields) WithError(err error) *Fields {
	if err == nil {
		return f
	}
	return f.add(FieldError, err.Error()).add(FieldErrorKind, ErrorKind(err))
}

func (f *Fields) WithOperation(op string) *Fields {
	return f.add(FieldOperation, op)
}

func (f *Fields) WithTransaction(id, txType, category string, amountCents int64) *Fields {
	return f.add(FieldTransactionID, id).
		add(FieldTxType, txType).
		add(FieldCategory, category).
		add(FieldAmountCents, amountCents)
}

func (f *Fields) WithHTTPRequest(method, path, query, userAgent string) *Fields {
	f.add(FieldMethod, method).add(FieldPath, path)
	if query != "" {
		f.add(FieldQuery, query)
	}
	if userAgent != "" {
		f.add(FieldUserAgent, userAgent)
	}
	return f
}

func (f *Fields) WithHTTPResponse(statusCode int, durationMs int64) *Fields {
	return f.add(FieldStatusCode, statusCode).add(FieldDuration, durationMs)
}

// Args returns the attributes as slog arguments.
func (f *Fields) Args() []any {
	out := make([]any, len(f.attrs))
	for i, a := range f.attrs {
		out[i] = a
	}
	return out
}
