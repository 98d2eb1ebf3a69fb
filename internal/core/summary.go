package core

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// RecentLimit is the size of the recent-transactions feed.
const RecentLimit = 5

// CategoryAmount represents an expense amount aggregated by category name.
type CategoryAmount struct {
	Name    string
	Amount  Money
	Percent decimal.Decimal // share of total expenses, 0-100
}

// Summary holds the dashboard figures derived from a transaction set.
type Summary struct {
	TotalIncome   Money
	TotalExpenses Money
	Balance       Money
	Breakdown     []CategoryAmount
	Recent        []Transaction
}

// DayGroup is a calendar day of transactions with its subtotals.
type DayGroup struct {
	Day          Date
	Transactions []Transaction
	Income       Money
	Expense      Money
}

// Summarize computes dashboard figures over txs. It does not sort: Recent is
// the first RecentLimit items in the order given.
func Summarize(txs []Transaction) Summary {
	var s Summary
	byCategory := make(map[string]int64)

	for _, tx := range txs {
		switch tx.Type {
		case Income:
			s.TotalIncome.Cents += tx.Amount.Cents
		case Expense:
			s.TotalExpenses.Cents += tx.Amount.Cents
			byCategory[CategoryLabel(tx.Category)] += tx.Amount.Cents
		}
	}
	s.Balance = s.TotalIncome.Sub(s.TotalExpenses)
	s.Breakdown = breakdown(byCategory, s.TotalExpenses)

	n := min(len(txs), RecentLimit)
	s.Recent = append([]Transaction(nil), txs[:n]...)
	return s
}

// CategoryLabel maps the uncategorized marker to its display label.
func CategoryLabel(category string) string {
	if category == "" {
		return UncategorizedLabel
	}
	return category
}

func breakdown(byCategory map[string]int64, total Money) []CategoryAmount {
	out := make([]CategoryAmount, 0, len(byCategory))
	for name, cents := range byCategory {
		out = append(out, CategoryAmount{
			Name:    name,
			Amount:  Money{Cents: cents},
			Percent: Percentage(cents, total.Cents),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount.Cents != out[j].Amount.Cents {
			return out[i].Amount.Cents > out[j].Amount.Cents
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Percentage returns part/total*100 rounded to two places, or zero when total is zero.
func Percentage(part, total int64) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(part).Mul(hundred).Div(decimal.NewFromInt(total)).Round(2)
}

// GroupByDay partitions txs by their own calendar date, newest day first.
// Order within a day follows the input.
func GroupByDay(txs []Transaction) []DayGroup {
	index := make(map[string]int)
	var groups []DayGroup

	for _, tx := range txs {
		day := DateOf(tx.Date.Time)
		key := day.String()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, DayGroup{Day: day})
		}
		g := &groups[i]
		g.Transactions = append(g.Transactions, tx)
		switch tx.Type {
		case Income:
			g.Income.Cents += tx.Amount.Cents
		case Expense:
			g.Expense.Cents += tx.Amount.Cents
		}
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Day.After(groups[j].Day.Time)
	})
	return groups
}

// Lines renders the day header subtotals, leaving out zero totals.
func (g DayGroup) Lines() []string {
	var lines []string
	if g.Income.Cents != 0 {
		lines = append(lines, "Income: "+g.Income.String())
	}
	if g.Expense.Cents != 0 {
		lines = append(lines, "Expense: "+g.Expense.String())
	}
	return lines
}

// FilterCategories returns the distinct categories containing query, case
// insensitively, in first-seen order. An empty query matches everything.
func FilterCategories(categories []string, query string) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	seen := make(map[string]struct{}, len(categories))
	var out []string
	for _, c := range categories {
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		if q == "" || strings.Contains(strings.ToLower(c), q) {
			out = append(out, c)
		}
	}
	return out
}
