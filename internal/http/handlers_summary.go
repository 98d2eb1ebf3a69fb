package http

import (
	"net/http"
	"strconv"

	"moneta/internal/log"
)

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.ledger.Summary(r.Context())
	if err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Data(toSummaryView(summary)).Write(w)
}

// handleSummaryChart renders the expense breakdown as a PNG pie chart. A
// ledger without expenses has nothing to draw and answers 204.
func (s *Server) handleSummaryChart(w http.ResponseWriter, r *http.Request) {
	summary, err := s.ledger.Summary(r.Context())
	if err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}
	png, err := RenderBreakdownChart(summary.Breakdown)
	if err != nil {
		s.fail(w, r, log.OpRender, err)
		return
	}
	if png == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Failed to write chart", log.FieldError, err.Error())
	}
}
