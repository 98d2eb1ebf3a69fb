package storage

import (
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between the supported engines.
type Dialect struct {
	Name   string // golang-migrate database name
	Driver string // database/sql driver name
	// Numbered placeholders ($1, $2, ...) instead of ?.
	numbered bool
	// greatest is the two-argument max function.
	greatest string
}

var (
	SQLite   = Dialect{Name: "sqlite", Driver: "sqlite", greatest: "MAX"}
	Postgres = Dialect{Name: "pgx", Driver: "pgx", numbered: true, greatest: "GREATEST"}
)

// Rebind rewrites ? placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// NonNegative wraps expr so it never drops below zero.
func (d Dialect) NonNegative(expr string) string {
	return d.greatest + "(0, " + expr + ")"
}
