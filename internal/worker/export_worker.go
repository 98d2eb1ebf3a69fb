package worker

import (
	"context"
	"fmt"
	"log/slog"

	"moneta/internal/amqp"
	"moneta/internal/sheets"
)

// ExportWorker mirrors ledger events into the configured spreadsheet.
type ExportWorker struct {
	exporter sheets.TransactionExporter
}

func NewExportWorker(exporter sheets.TransactionExporter) *ExportWorker {
	if exporter == nil {
		exporter = sheets.NopExporter{}
	}
	return &ExportWorker{exporter: exporter}
}

// HandleLedgerEvent exports a single ledger event. An error requeues the
// message; payloads that can never be exported are logged and dropped.
func (w *ExportWorker) HandleLedgerEvent(ctx context.Context, ev *amqp.LedgerEvent) error {
	slog.InfoContext(ctx, "Processing ledger event",
		"kind", ev.Kind,
		"id", ev.ID,
		"user_id", ev.UserID)

	action, ok := actionFor(ev.Kind)
	if !ok {
		slog.WarnContext(ctx, "Dropping ledger event of unknown kind", "kind", ev.Kind, "id", ev.ID)
		return nil
	}

	tx, err := ev.TransactionFromPayload()
	if err != nil {
		slog.ErrorContext(ctx, "Dropping ledger event with invalid payload", "id", ev.ID, "error", err)
		return nil
	}

	if err := w.exporter.Export(ctx, ev.UserID, tx, action); err != nil {
		return fmt.Errorf("export transaction %s: %w", ev.ID, err)
	}

	slog.InfoContext(ctx, "Exported transaction",
		"id", ev.ID,
		"action", action,
		"amount_cents", tx.Amount.Cents)
	return nil
}

func actionFor(kind amqp.EventKind) (sheets.Action, bool) {
	switch kind {
	case amqp.TransactionCreated:
		return sheets.ActionCreated, true
	case amqp.TransactionDeleted:
		return sheets.ActionDeleted, true
	}
	return "", false
}
