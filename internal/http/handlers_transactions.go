package http

import (
	"net/http"

	"moneta/internal/core"
	"moneta/internal/ledger"
	"moneta/internal/log"
)

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.ledger.Transactions(r.Context())
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	NewJSONResponse().Data(toTransactionViews(txs)).Write(w)
}

// handleCreateTransaction accepts title, amount, type, and optional category
// and date. The date defaults to today.
func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	body := NewRequestBodyParser(r)
	if err := body.Parse(); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	amount, err := body.Money("amount")
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	txType, err := core.ParseTransactionType(body.Get("type"))
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	date, err := body.Date("date", s.today())
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}

	tx, err := s.ledger.RecordTransaction(r.Context(), core.Transaction{
		Title:    body.Get("title"),
		Amount:   amount,
		Category: body.Get("category"),
		Type:     txType,
		Date:     date,
	})
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}

	user, _ := ledger.UserFromContext(r.Context())
	s.logger.LogTransactionRecorded(r.Context(), user, tx.ID, string(tx.Type), tx.Category, tx.Amount.Cents)
	NewJSONResponse().Status(http.StatusCreated).Data(toTransactionView(tx)).Write(w)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteTransaction(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, r, log.OpDelete, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleDayGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.ledger.DayGroups(r.Context())
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	NewJSONResponse().Data(toDayGroupViews(groups)).Write(w)
}
