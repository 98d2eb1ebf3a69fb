package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"moneta/internal/core"
)

// maxBodyBytes bounds request bodies; ledger records are small.
const maxBodyBytes = 64 << 10

var errBodyTooLarge = errors.New("request body too large")

// RequestBodyParser reads a flat JSON object or a form-encoded body into
// trimmed, sanitized string fields. The body is read once; Parse may be
// called repeatedly and returns the same result.
type RequestBodyParser struct {
	raw      []byte
	mimeType string
	readErr  error

	done   bool
	err    error
	json   bool
	fields map[string]string
}

func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{}
	p.mimeType, _, _ = mime.ParseMediaType(r.Header.Get("Content-Type"))
	p.raw, p.readErr = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if p.readErr == nil && len(p.raw) > maxBodyBytes {
		p.readErr = errBodyTooLarge
	}
	return p
}

func (p *RequestBodyParser) Parse() error {
	if p.done {
		return p.err
	}
	p.done = true
	p.fields = map[string]string{}

	trimmed := bytes.TrimSpace(p.raw)
	switch {
	case p.readErr != nil:
		p.err = p.readErr
	case len(trimmed) == 0:
	case p.mimeType == "application/json" || trimmed[0] == '{':
		p.json = true
		p.err = p.decodeJSON()
	default:
		p.err = p.decodeForm()
	}
	return p.err
}

func (p *RequestBodyParser) decodeJSON() error {
	dec := json.NewDecoder(bytes.NewReader(p.raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return fmt.Errorf("malformed JSON body: %w", err)
	}
	for k, v := range obj {
		if s, ok := scalar(v); ok {
			p.fields[k] = clean(s)
		}
	}
	return nil
}

func (p *RequestBodyParser) decodeForm() error {
	form, err := url.ParseQuery(string(p.raw))
	if err != nil {
		return fmt.Errorf("malformed form body: %w", err)
	}
	for k := range form {
		p.fields[k] = clean(form.Get(k))
	}
	return nil
}

func clean(s string) string {
	return strings.TrimSpace(sanitizeInput(s))
}

// scalar renders a decoded JSON scalar. Objects, arrays and null are not
// field values.
func scalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case bool:
		return strconv.FormatBool(x), true
	}
	return "", false
}

// Get returns the field value, or "" when absent.
func (p *RequestBodyParser) Get(key string) string {
	return p.fields[key]
}

// Has reports whether the body carried key at all.
func (p *RequestBodyParser) Has(key string) bool {
	_, ok := p.fields[key]
	return ok
}

// IsJSON reports whether the body was decoded as JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.json
}

// Money parses key as a positive decimal amount.
func (p *RequestBodyParser) Money(key string) (core.Money, error) {
	m, err := core.ParseMoney(p.Get(key))
	if err != nil {
		return core.Money{}, fmt.Errorf("%s: %w", key, err)
	}
	return m, nil
}

// Date parses key as YYYY-MM-DD, returning fallback when absent.
func (p *RequestBodyParser) Date(key string, fallback core.Date) (core.Date, error) {
	raw := p.Get(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := core.ParseDate(raw)
	if err != nil {
		return core.Date{}, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// QueryInt reads a non-negative integer query parameter, returning fallback
// when it is absent.
func QueryInt(query url.Values, key string, fallback int) (int, error) {
	v := strings.TrimSpace(query.Get(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", core.ErrValidation, key)
	}
	return n, nil
}

// sanitizeInput drops ASCII control characters other than tab, CR and LF.
func sanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		if r < ' ' && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
}
