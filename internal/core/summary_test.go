package core

import (
	"reflect"
	"testing"
)

func tx(day int, typ TransactionType, category string, cents int64) Transaction {
	return Transaction{
		Title:    string(typ) + " " + category,
		Amount:   Money{Cents: cents},
		Category: category,
		Date:     NewDate(2024, 1, day),
		Type:     typ,
	}
}

func TestSummarizeTotals(t *testing.T) {
	txs := []Transaction{
		tx(3, Income, "Salary", 200000),
		tx(3, Expense, "Food", 3000),
		tx(2, Expense, "", 1500),
		tx(2, Expense, "Food", 2000),
		tx(1, Expense, "Rent", 90000),
		tx(1, Income, "", 5000),
		tx(1, Expense, "", 500),
	}
	s := Summarize(txs)

	if s.TotalIncome.Cents != 205000 {
		t.Fatalf("income: got %d", s.TotalIncome.Cents)
	}
	if s.TotalExpenses.Cents != 97000 {
		t.Fatalf("expenses: got %d", s.TotalExpenses.Cents)
	}
	if s.Balance.Cents != s.TotalIncome.Cents-s.TotalExpenses.Cents {
		t.Fatalf("balance: got %d", s.Balance.Cents)
	}

	var sum int64
	names := make([]string, 0, len(s.Breakdown))
	for _, c := range s.Breakdown {
		if c.Name == "" {
			t.Fatal("empty category must be relabeled")
		}
		sum += c.Amount.Cents
		names = append(names, c.Name)
	}
	if sum != s.TotalExpenses.Cents {
		t.Fatalf("breakdown sum %d != total expenses %d", sum, s.TotalExpenses.Cents)
	}
	if want := []string{"Rent", "Food", UncategorizedLabel}; !reflect.DeepEqual(names, want) {
		t.Fatalf("breakdown order: got %v, want %v", names, want)
	}
	if got := s.Breakdown[2].Amount.Cents; got != 2000 {
		t.Fatalf("etc. bucket: got %d", got)
	}
	if got := s.Breakdown[1].Percent.String(); got != "5.15" {
		t.Fatalf("food percent: got %s", got)
	}

	if len(s.Recent) != RecentLimit {
		t.Fatalf("recent: got %d items", len(s.Recent))
	}
	for i := range s.Recent {
		if !reflect.DeepEqual(s.Recent[i], txs[i]) {
			t.Fatalf("recent[%d] does not preserve input order", i)
		}
	}
}

func TestSummarizeNegativeBalanceAndNoExpenses(t *testing.T) {
	s := Summarize([]Transaction{tx(1, Expense, "Food", 1000)})
	if s.Balance.Cents != -1000 {
		t.Fatalf("balance: got %d", s.Balance.Cents)
	}

	s = Summarize([]Transaction{tx(1, Income, "Salary", 1000)})
	if len(s.Breakdown) != 0 {
		t.Fatalf("breakdown: got %v", s.Breakdown)
	}
	if !Percentage(0, 0).IsZero() {
		t.Fatal("percentage with zero total must be 0")
	}

	s = Summarize(nil)
	if s.Balance.Cents != 0 || len(s.Recent) != 0 {
		t.Fatalf("empty summary: got %+v", s)
	}
}

func TestGroupByDay(t *testing.T) {
	first := tx(1, Income, "Salary", 10000)
	second := tx(2, Expense, "Food", 2500)
	third := tx(2, Expense, "", 500)

	groups := GroupByDay([]Transaction{first, second, third})
	if len(groups) != 2 {
		t.Fatalf("got %d groups", len(groups))
	}
	if groups[0].Day.String() != "2024-01-02" || groups[1].Day.String() != "2024-01-01" {
		t.Fatalf("order: got %s, %s", groups[0].Day, groups[1].Day)
	}
	if len(groups[0].Transactions) != 2 || groups[0].Transactions[0].Title != second.Title {
		t.Fatalf("day items: got %+v", groups[0].Transactions)
	}

	if got := groups[0].Lines(); !reflect.DeepEqual(got, []string{"Expense: 30.00"}) {
		t.Fatalf("expense-only header: got %v", got)
	}
	if got := groups[1].Lines(); !reflect.DeepEqual(got, []string{"Income: 100.00"}) {
		t.Fatalf("income-only header: got %v", got)
	}

	both := GroupByDay([]Transaction{first, tx(1, Expense, "Food", 100)})
	if got := both[0].Lines(); len(got) != 2 {
		t.Fatalf("both lines expected, got %v", got)
	}
}

func TestFilterCategories(t *testing.T) {
	cats := []string{"Food", "Fuel", "food", "", "Rent", "Food"}
	if got := FilterCategories(cats, "fo"); !reflect.DeepEqual(got, []string{"Food", "food"}) {
		t.Fatalf("got %v", got)
	}
	if got := FilterCategories(cats, ""); !reflect.DeepEqual(got, []string{"Food", "Fuel", "food", "Rent"}) {
		t.Fatalf("got %v", got)
	}
	if got := FilterCategories(cats, "zzz"); got != nil {
		t.Fatalf("got %v", got)
	}
}
