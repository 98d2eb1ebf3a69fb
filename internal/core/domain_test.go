package core

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestDateJSON(t *testing.T) {
	d := NewDate(2024, 1, 2)
	b, err := d.MarshalJSON()
	if err != nil || string(b) != `"2024-01-02"` {
		t.Fatalf("marshal: got %s (err=%v)", b, err)
	}
	var back Date
	if err := back.UnmarshalJSON(b); err != nil || !back.Equal(d.Time) {
		t.Fatalf("unmarshal: got %v (err=%v)", back, err)
	}
	if err := back.UnmarshalJSON([]byte(`"02/01/2024"`)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParseTransactionType(t *testing.T) {
	for in, want := range map[string]TransactionType{"income": Income, " Expense ": Expense} {
		got, err := ParseTransactionType(in)
		if err != nil || got != want {
			t.Fatalf("%q: got %q (err=%v)", in, got, err)
		}
	}
	if _, err := ParseTransactionType("transfer"); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
}

func TestTransactionValidate(t *testing.T) {
	good := Transaction{
		Title:  "Groceries",
		Amount: Money{Cents: 1250},
		Date:   NewDate(2025, 1, 1),
		Type:   Expense,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	uncategorized := good
	uncategorized.Category = ""
	if err := uncategorized.Validate(); err != nil {
		t.Fatalf("empty category must be valid, got %v", err)
	}

	long := make([]byte, 201)
	for i := range long {
		long[i] = 'a'
	}
	accented := good
	accented.Title = strings.Repeat("è", 200)
	if err := accented.Validate(); err != nil {
		t.Fatalf("200 two-byte characters must be valid, got %v", err)
	}

	bads := map[string]Transaction{
		"empty title":   {Title: " ", Amount: Money{Cents: 1}, Date: NewDate(2025, 1, 1), Type: Income},
		"long runes":    {Title: strings.Repeat("è", 201), Amount: Money{Cents: 1}, Date: NewDate(2025, 1, 1), Type: Income},
		"huge amount":   {Title: "a", Amount: Money{Cents: MaxCents + 1}, Date: NewDate(2025, 1, 1), Type: Income},
		"long title":    {Title: string(long), Amount: Money{Cents: 1}, Date: NewDate(2025, 1, 1), Type: Income},
		"zero amount":   {Title: "a", Amount: Money{Cents: 0}, Date: NewDate(2025, 1, 1), Type: Income},
		"bad type":      {Title: "a", Amount: Money{Cents: 1}, Date: NewDate(2025, 1, 1), Type: "gift"},
		"missing date":  {Title: "a", Amount: Money{Cents: 1}, Type: Expense},
		"negative cash": {Title: "a", Amount: Money{Cents: -5}, Date: NewDate(2025, 1, 1), Type: Expense},
	}
	for name, tx := range bads {
		err := tx.Validate()
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestBudgetValidateAndProgress(t *testing.T) {
	b := Budget{Category: "Food", Limit: Money{Cents: 10000}}
	if err := b.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Budget{Limit: Money{Cents: 1}}).Validate(); !errors.Is(err, ErrEmptyCategory) {
		t.Fatalf("expected ErrEmptyCategory, got %v", err)
	}
	if err := (Budget{Category: "x"}).Validate(); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	cases := []struct {
		spent, limit int64
		progress     float64
		over         bool
	}{
		{0, 10000, 0, false},
		{2500, 10000, 0.25, false},
		{10000, 10000, 1, false},
		{15000, 10000, 1, true},
		{500, 0, 0, true},
	}
	for _, tc := range cases {
		b := Budget{Category: "Food", Limit: Money{Cents: tc.limit}, Spent: Money{Cents: tc.spent}}
		if got := b.Progress(); got != tc.progress {
			t.Fatalf("spent=%d limit=%d: progress %v, want %v", tc.spent, tc.limit, got, tc.progress)
		}
		if got := b.OverLimit(); got != tc.over {
			t.Fatalf("spent=%d limit=%d: over %v, want %v", tc.spent, tc.limit, got, tc.over)
		}
	}
}

func TestBillValidateAndDue(t *testing.T) {
	bill := Bill{Name: "Rent", Amount: Money{Cents: 80000}, DueDate: NewDate(2025, 3, 10)}
	if err := bill.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Bill{Amount: Money{Cents: 1}, DueDate: NewDate(2025, 1, 1)}).Validate(); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
	if err := (Bill{Name: "x", DueDate: NewDate(2025, 1, 1)}).Validate(); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	if !bill.DueWithin(NewDate(2025, 3, 3), 7) {
		t.Fatal("bill due in 7 days should be within a 7 day horizon")
	}
	if bill.DueWithin(NewDate(2025, 3, 1), 7) {
		t.Fatal("bill due in 9 days should be outside a 7 day horizon")
	}
	if bill.DueWithin(NewDate(2025, 3, 11), 30) {
		t.Fatal("past bill must not be due")
	}
}

func TestApplyDelta(t *testing.T) {
	cases := []struct {
		spent, delta, want int64
	}{
		{0, 500, 500},
		{500, -200, 300},
		{300, -900, 0},
		{math.MaxInt64 - 10, 100, math.MaxInt64},
	}
	for _, tc := range cases {
		if got := ApplyDelta(Money{Cents: tc.spent}, tc.delta); got.Cents != tc.want {
			t.Errorf("ApplyDelta(%d, %d) = %d, want %d", tc.spent, tc.delta, got.Cents, tc.want)
		}
	}
}

func TestAggregationEventRoles(t *testing.T) {
	origin := AggregationEvent{TransactionID: "tx", Delta: 300, Status: AggregationCompleted}
	reversal := AggregationEvent{TransactionID: "tx", Delta: -300, Status: AggregationCompleted}
	direct := AggregationEvent{Delta: 300, Status: AggregationCompleted}

	if !origin.Origin() || origin.Reversal() || !origin.Retained() {
		t.Fatalf("origin misclassified: %+v", origin)
	}
	if reversal.Origin() || !reversal.Reversal() || reversal.Retained() {
		t.Fatalf("reversal misclassified: %+v", reversal)
	}
	if direct.Origin() || direct.Retained() {
		t.Fatalf("direct recording misclassified: %+v", direct)
	}
	origin.Status = AggregationReversed
	if origin.Retained() || !origin.Status.Terminal() || !AggregationCancelled.Terminal() {
		t.Fatal("reversed and cancelled events are terminal and cleanable")
	}
}
