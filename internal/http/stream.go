package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"moneta/internal/log"
)

// handleTransactionStream pushes the full ordered transaction list as a
// server-sent "snapshot" event on subscribe and after every change. Comment
// lines keep idle connections open through proxies.
func (s *Server) handleTransactionStream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	ctx := r.Context()

	snapshots, err := s.ledger.SubscribeTransactions(ctx)
	if err != nil {
		s.fail(w, r, log.OpSubscribe, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	logger := log.FromContext(ctx).WithComponent(log.ComponentStream)
	if err := rc.Flush(); err != nil {
		logger.WarnContext(ctx, "Streaming unsupported", log.FieldError, err.Error())
		return
	}

	logger.DebugContext(ctx, "Transaction stream opened")
	defer logger.DebugContext(ctx, "Transaction stream closed")

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case txs, ok := <-snapshots:
			if !ok {
				return
			}
			data, err := json.Marshal(toTransactionViews(txs))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to encode snapshot", log.FieldError, err.Error())
				return
			}
			if _, err := fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
