package http

import (
	"net/http"
	"strings"

	"moneta/internal/core"
	"moneta/internal/log"
)

func (s *Server) handleListAggregations(w http.ResponseWriter, r *http.Request) {
	status := core.AggregationStatus(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))))
	events, err := s.ledger.Aggregations(r.Context(), status)
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	NewJSONResponse().Data(toAggregationViews(events)).Write(w)
}

func (s *Server) handleRetryAggregations(w http.ResponseWriter, r *http.Request) {
	n, err := s.ledger.RetryFailedAggregations(r.Context())
	if err != nil {
		s.fail(w, r, log.OpRetry, err)
		return
	}
	NewJSONResponse().Data(map[string]int{"requeued": n}).Write(w)
}
