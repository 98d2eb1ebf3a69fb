package core

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

// DateLayout is the wire and storage layout of a calendar date.
const DateLayout = "2006-01-02"

// UncategorizedLabel replaces the empty category in summaries.
const UncategorizedLabel = "etc."

const maxTitleLength = 200

type (
	TransactionType string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	Transaction struct {
		ID        string
		Title     string
		Amount    Money
		Category  string // empty means uncategorized
		Date      Date
		Type      TransactionType
		CreatedAt time.Time
	}

	Budget struct {
		ID         string
		Category   string
		Limit      Money
		Spent      Money
		CreateDate time.Time
		Version    int64 // bumped on every spent/limit write
	}

	Bill struct {
		ID         string
		Name       string
		Amount     Money
		DueDate    Date
		CreateDate time.Time
	}
)

var (
	ErrInvalidDay    = fmt.Errorf("%w: invalid day", ErrValidation)
	ErrInvalidMonth  = fmt.Errorf("%w: invalid month", ErrValidation)
	ErrInvalidDate   = fmt.Errorf("%w: invalid date", ErrValidation)
	ErrInvalidAmount = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrInvalidType   = fmt.Errorf("%w: invalid transaction type", ErrValidation)
	ErrEmptyTitle    = fmt.Errorf("%w: empty title", ErrValidation)
	ErrTitleTooLong  = fmt.Errorf("%w: title too long (max %d characters)", ErrValidation, maxTitleLength)
	ErrEmptyCategory = fmt.Errorf("%w: empty category", ErrValidation)
	ErrEmptyName     = fmt.Errorf("%w: empty name", ErrValidation)
	ErrNegativeSpent = fmt.Errorf("%w: negative spent", ErrValidation)
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseTransactionType accepts "income" or "expense" in any case.
func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(strings.ToLower(strings.TrimSpace(s)))
	if err := t.Validate(); err != nil {
		return "", err
	}
	return t, nil
}

func (t TransactionType) Validate() error {
	switch t {
	case Income, Expense:
		return nil
	default:
		return ErrInvalidType
	}
}

func (m Money) Validate() error {
	if m.Cents <= 0 || m.Cents > MaxCents {
		return ErrInvalidAmount
	}
	return nil
}

func (t Transaction) Validate() error {
	if len(strings.TrimSpace(t.Title)) == 0 {
		return ErrEmptyTitle
	}
	if utf8.RuneCountInString(t.Title) > maxTitleLength {
		return ErrTitleTooLong
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if err := t.Type.Validate(); err != nil {
		return err
	}
	return t.Date.Validate()
}

// IsExpense reports whether the transaction participates in budget aggregation.
func (t Transaction) IsExpense() bool { return t.Type == Expense }

func (b Budget) Validate() error {
	if strings.TrimSpace(b.Category) == "" {
		return ErrEmptyCategory
	}
	if err := b.Limit.Validate(); err != nil {
		return err
	}
	if b.Spent.Cents < 0 {
		return ErrNegativeSpent
	}
	return nil
}

// Progress is spent/limit clamped to [0, 1]; zero when no limit is set.
func (b Budget) Progress() float64 {
	if b.Limit.Cents <= 0 {
		return 0
	}
	p := float64(b.Spent.Cents) / float64(b.Limit.Cents)
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

func (b Budget) OverLimit() bool {
	return b.Spent.Cents > b.Limit.Cents
}

// Remaining is limit minus spent and may be negative.
func (b Budget) Remaining() Money {
	return Money{Cents: b.Limit.Cents - b.Spent.Cents}
}

func (b Bill) Validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return ErrEmptyName
	}
	if err := b.Amount.Validate(); err != nil {
		return err
	}
	return b.DueDate.Validate()
}

// DueWithin reports whether the bill falls due in [from, from+days].
func (b Bill) DueWithin(from Date, days int) bool {
	if b.DueDate.Before(from.Time) {
		return false
	}
	return !b.DueDate.After(from.AddDate(0, 0, days))
}
