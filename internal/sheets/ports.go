package sheets

import (
	"context"

	"moneta/internal/core"
)

// Action names the ledger change an exported row records.
type Action string

const (
	ActionCreated Action = "created"
	ActionDeleted Action = "deleted"
)

// Ports for outbound adapters.
type (
	// TransactionExporter mirrors ledger changes to an external sheet.
	TransactionExporter interface {
		Export(ctx context.Context, userID string, tx core.Transaction, action Action) error
	}
)

// NopExporter drops every export. Used when no spreadsheet is configured.
type NopExporter struct{}

func (NopExporter) Export(context.Context, string, core.Transaction, Action) error { return nil }
