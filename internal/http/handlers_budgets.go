package http

import (
	"net/http"

	"moneta/internal/log"
)

// handleListBudgets returns budgets newest first, each with its progress.
func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	budgets, err := s.ledger.Budgets(r.Context())
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	NewJSONResponse().Data(toBudgetViews(budgets)).Write(w)
}

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	body := NewRequestBodyParser(r)
	if err := body.Parse(); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	limit, err := body.Money("limit")
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	b, err := s.ledger.CreateBudget(r.Context(), body.Get("category"), limit)
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Data(toBudgetView(b)).Write(w)
}

// handleUpdateBudget changes the limit; spent is never client-writable.
func (s *Server) handleUpdateBudget(w http.ResponseWriter, r *http.Request) {
	body := NewRequestBodyParser(r)
	if err := body.Parse(); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if body.Has("spent") {
		UnprocessableEntityError("spent is maintained by aggregation").Write(w)
		return
	}
	limit, err := body.Money("limit")
	if err != nil {
		s.fail(w, r, log.OpUpdate, err)
		return
	}
	b, err := s.ledger.UpdateBudgetLimit(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.fail(w, r, log.OpUpdate, err)
		return
	}
	NewJSONResponse().Data(toBudgetView(b)).Write(w)
}

func (s *Server) handleDeleteBudget(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteBudget(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, r, log.OpDelete, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	names, err := s.ledger.Categories(r.Context(), sanitizeInput(r.URL.Query().Get("q")))
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	NewJSONResponse().Data(names).Write(w)
}
