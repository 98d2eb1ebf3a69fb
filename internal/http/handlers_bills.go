package http

import (
	"net/http"

	"moneta/internal/core"
	"moneta/internal/log"
)

func (s *Server) handleListBills(w http.ResponseWriter, r *http.Request) {
	bills, err := s.ledger.Bills(r.Context())
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	NewJSONResponse().Data(toBillViews(bills)).Write(w)
}

func (s *Server) handleCreateBill(w http.ResponseWriter, r *http.Request) {
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
	due, err := body.Date("dueDate", core.Date{})
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	bill, err := s.ledger.CreateBill(r.Context(), core.Bill{
		Name:    body.Get("name"),
		Amount:  amount,
		DueDate: due,
	})
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Data(toBillView(bill)).Write(w)
}

func (s *Server) handleDeleteBill(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteBill(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, r, log.OpDelete, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

// handleDueBills lists bills due between today and today+days, soonest first.
func (s *Server) handleDueBills(w http.ResponseWriter, r *http.Request) {
	days, err := QueryInt(r.URL.Query(), "days", s.dueHorizon)
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	bills, err := s.ledger.DueBills(r.Context(), s.today(), days)
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	NewJSONResponse().Data(toBillViews(bills)).Write(w)
}
