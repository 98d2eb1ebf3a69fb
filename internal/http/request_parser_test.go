package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneta/internal/core"
)

func newBodyRequest(contentType, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/transactions", strings.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	return r
}

func TestRequestBodyParser(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		key         string
		want        string
		wantJSON    bool
	}{
		{
			name:        "json string",
			contentType: "application/json",
			body:        `{"title":"  Coffee  "}`,
			key:         "title",
			want:        "Coffee",
			wantJSON:    true,
		},
		{
			name:        "json number",
			contentType: "application/json; charset=utf-8",
			body:        `{"amount":12.5}`,
			key:         "amount",
			want:        "12.5",
			wantJSON:    true,
		},
		{
			name:     "json sniffed without content type",
			body:     `{"category":"Food"}`,
			key:      "category",
			want:     "Food",
			wantJSON: true,
		},
		{
			name:        "form encoded",
			contentType: "application/x-www-form-urlencoded",
			body:        "title=Rent&amount=900",
			key:         "amount",
			want:        "900",
		},
		{
			name:        "control characters stripped",
			contentType: "application/json",
			body:        `{"title":"Lun\u0000ch"}`,
			key:         "title",
			want:        "Lunch",
			wantJSON:    true,
		},
		{
			name:        "missing key",
			contentType: "application/json",
			body:        `{"title":"x"}`,
			key:         "category",
			want:        "",
			wantJSON:    true,
		},
		{
			name: "empty body",
			key:  "title",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewRequestBodyParser(newBodyRequest(tt.contentType, tt.body))
			require.NoError(t, p.Parse())
			assert.Equal(t, tt.want, p.Get(tt.key))
			assert.Equal(t, tt.wantJSON, p.IsJSON())
		})
	}
}

func TestRequestBodyParser_MalformedJSON(t *testing.T) {
	p := NewRequestBodyParser(newBodyRequest("application/json", `{"title":`))
	err := p.Parse()
	require.Error(t, err)
	// Parse is idempotent.
	assert.Equal(t, err, p.Parse())
}

func TestRequestBodyParser_TooLarge(t *testing.T) {
	body := `{"title":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	p := NewRequestBodyParser(newBodyRequest("application/json", body))
	assert.Error(t, p.Parse())
}

func TestRequestBodyParser_Money(t *testing.T) {
	p := NewRequestBodyParser(newBodyRequest("application/json", `{"amount":"12,30","bad":"abc","zero":0}`))
	require.NoError(t, p.Parse())

	m, err := p.Money("amount")
	require.NoError(t, err)
	assert.Equal(t, int64(1230), m.Cents)

	_, err = p.Money("bad")
	assert.True(t, errors.Is(err, core.ErrValidation))

	_, err = p.Money("zero")
	assert.True(t, errors.Is(err, core.ErrValidation))

	_, err = p.Money("missing")
	assert.True(t, errors.Is(err, core.ErrValidation))
}

func TestRequestBodyParser_Date(t *testing.T) {
	p := NewRequestBodyParser(newBodyRequest("application/json", `{"date":"2024-03-15","bad":"15/03/2024"}`))
	require.NoError(t, p.Parse())
	fallback := core.NewDate(2024, 1, 1)

	d, err := p.Date("date", fallback)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-15", d.String())

	d, err = p.Date("missing", fallback)
	require.NoError(t, err)
	assert.Equal(t, fallback, d)

	_, err = p.Date("bad", fallback)
	assert.True(t, errors.Is(err, core.ErrValidation))
}

func TestQueryInt(t *testing.T) {
	q := url.Values{"days": {"14"}, "neg": {"-1"}, "word": {"soon"}}

	n, err := QueryInt(q, "days", 7)
	require.NoError(t, err)
	assert.Equal(t, 14, n)

	n, err = QueryInt(q, "absent", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = QueryInt(q, "neg", 7)
	assert.True(t, errors.Is(err, core.ErrValidation))

	_, err = QueryInt(q, "word", 7)
	assert.True(t, errors.Is(err, core.ErrValidation))
}

func TestRequestBodyParser_HasAndNonScalars(t *testing.T) {
	p := NewRequestBodyParser(newBodyRequest("application/json", `{"spent":"","tags":["a"],"meta":{"k":1},"note":null}`))
	require.NoError(t, p.Parse())

	assert.True(t, p.Has("spent"))
	assert.False(t, p.Has("tags"))
	assert.False(t, p.Has("meta"))
	assert.False(t, p.Has("note"))
}

func TestRequestBodyParser_ArrayBody(t *testing.T) {
	p := NewRequestBodyParser(newBodyRequest("application/json", `[1,2]`))
	assert.Error(t, p.Parse())
}
