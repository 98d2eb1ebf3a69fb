package http

import (
	"time"

	"github.com/shopspring/decimal"

	"moneta/internal/core"
)

type transactionView struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Amount    core.Money `json:"amount"`
	Category  string     `json:"category"`
	Type      string     `json:"type"`
	Date      core.Date  `json:"date"`
	CreatedAt time.Time  `json:"createdAt"`
}

type budgetView struct {
	ID         string     `json:"id"`
	Category   string     `json:"category"`
	Limit      core.Money `json:"limit"`
	Spent      core.Money `json:"spent"`
	Remaining  core.Money `json:"remaining"`
	Progress   float64    `json:"progress"`
	OverLimit  bool       `json:"overLimit"`
	CreateDate time.Time  `json:"createDate"`
}

type billView struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Amount     core.Money `json:"amount"`
	DueDate    core.Date  `json:"dueDate"`
	CreateDate time.Time  `json:"createDate"`
}

type categoryView struct {
	Name    string          `json:"name"`
	Amount  core.Money      `json:"amount"`
	Percent decimal.Decimal `json:"percent"`
}

type summaryView struct {
	TotalIncome   core.Money        `json:"totalIncome"`
	TotalExpenses core.Money        `json:"totalExpenses"`
	Balance       core.Money        `json:"balance"`
	Breakdown     []categoryView    `json:"breakdown"`
	Recent        []transactionView `json:"recent"`
}

type dayGroupView struct {
	Day          core.Date         `json:"day"`
	Income       core.Money        `json:"income"`
	Expense      core.Money        `json:"expense"`
	Lines        []string          `json:"lines"`
	Transactions []transactionView `json:"transactions"`
}

type aggregationView struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transactionId,omitempty"`
	Category      string    `json:"category"`
	Delta         int64     `json:"deltaCents"`
	Status        string    `json:"status"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"lastError,omitempty"`
	BudgetID      string    `json:"budgetId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func toTransactionView(t core.Transaction) transactionView {
	return transactionView{
		ID:        t.ID,
		Title:     t.Title,
		Amount:    t.Amount,
		Category:  t.Category,
		Type:      string(t.Type),
		Date:      t.Date,
		CreatedAt: t.CreatedAt,
	}
}

func toTransactionViews(txs []core.Transaction) []transactionView {
	out := make([]transactionView, len(txs))
	for i, t := range txs {
		out[i] = toTransactionView(t)
	}
	return out
}

func toBudgetView(b core.Budget) budgetView {
	return budgetView{
		ID:         b.ID,
		Category:   b.Category,
		Limit:      b.Limit,
		Spent:      b.Spent,
		Remaining:  b.Remaining(),
		Progress:   b.Progress(),
		OverLimit:  b.OverLimit(),
		CreateDate: b.CreateDate,
	}
}

func toBudgetViews(budgets []core.Budget) []budgetView {
	out := make([]budgetView, len(budgets))
	for i, b := range budgets {
		out[i] = toBudgetView(b)
	}
	return out
}

func toBillView(b core.Bill) billView {
	return billView{ID: b.ID, Name: b.Name, Amount: b.Amount, DueDate: b.DueDate, CreateDate: b.CreateDate}
}

func toBillViews(bills []core.Bill) []billView {
	out := make([]billView, len(bills))
	for i, b := range bills {
		out[i] = toBillView(b)
	}
	return out
}

func toSummaryView(s core.Summary) summaryView {
	breakdown := make([]categoryView, len(s.Breakdown))
	for i, c := range s.Breakdown {
		breakdown[i] = categoryView{Name: c.Name, Amount: c.Amount, Percent: c.Percent}
	}
	return summaryView{
		TotalIncome:   s.TotalIncome,
		TotalExpenses: s.TotalExpenses,
		Balance:       s.Balance,
		Breakdown:     breakdown,
		Recent:        toTransactionViews(s.Recent),
	}
}

func toDayGroupViews(groups []core.DayGroup) []dayGroupView {
	out := make([]dayGroupView, len(groups))
	for i, g := range groups {
		lines := g.Lines()
		if lines == nil {
			lines = []string{}
		}
		out[i] = dayGroupView{
			Day:          g.Day,
			Income:       g.Income,
			Expense:      g.Expense,
			Lines:        lines,
			Transactions: toTransactionViews(g.Transactions),
		}
	}
	return out
}

func toAggregationViews(events []core.AggregationEvent) []aggregationView {
	out := make([]aggregationView, len(events))
	for i, e := range events {
		out[i] = aggregationView{
			ID:            e.ID,
			TransactionID: e.TransactionID,
			Category:      e.Category,
			Delta:         e.Delta,
			Status:        string(e.Status),
			Attempts:      e.Attempts,
			LastError:     e.LastError,
			BudgetID:      e.BudgetID,
			CreatedAt:     e.CreatedAt,
			UpdatedAt:     e.UpdatedAt,
		}
	}
	return out
}
