// Package google exports ledger transactions to a Google Sheet.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	ports "moneta/internal/sheets"

	"moneta/internal/core"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Credentials selects how the exporter reaches the Sheets API. A service
// account (JSON, then File) wins; otherwise the OAuth client and the token
// saved by moneta-sheets-auth are used.
type Credentials struct {
	JSON string
	File string

	OAuth     OAuthClient
	TokenFile string
}

type Exporter struct {
	svc           *gsheet.Service
	spreadsheetID string
	rng           string
}

var _ ports.TransactionExporter = (*Exporter)(nil)

// NewExporter appends rows to rng (e.g. "Transactions!A:G") of the spreadsheet.
func NewExporter(ctx context.Context, spreadsheetID, rng string, creds Credentials) (*Exporter, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet ID")
	}
	svc, err := newSheetsService(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newExporter(svc, spreadsheetID, rng), nil
}

func newExporter(svc *gsheet.Service, spreadsheetID, rng string) *Exporter {
	if rng == "" {
		rng = "Transactions!A:G"
	}
	return &Exporter{svc: svc, spreadsheetID: spreadsheetID, rng: rng}
}

// newSheetsService initializes a Sheets Service from service account or
// OAuth user credentials.
func newSheetsService(ctx context.Context, creds Credentials) (*gsheet.Service, error) {
	var credentialsJSON []byte
	var err error

	switch {
	case strings.TrimSpace(creds.JSON) == "" && strings.TrimSpace(creds.File) == "" && creds.OAuth.configured():
		return newOAuthSheetsService(ctx, creds)
	case strings.TrimSpace(creds.JSON) != "":
		slog.InfoContext(ctx, "Using inline JSON credentials")
		credentialsJSON = []byte(creds.JSON)
	case strings.TrimSpace(creds.File) != "":
		slog.InfoContext(ctx, "Reading credentials from file", "path", creds.File)
		credentialsJSON, err = os.ReadFile(creds.File)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or an OAuth client)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	slog.InfoContext(ctx, "Google Sheets service created successfully")
	return service, nil
}

func newOAuthSheetsService(ctx context.Context, creds Credentials) (*gsheet.Service, error) {
	cfg, err := LoadOAuthConfig(creds.OAuth)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(creds.TokenFile) == "" {
		return nil, errors.New("missing oauth token file (run moneta-sheets-auth)")
	}
	tok, err := LoadToken(creds.TokenFile)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Using OAuth user credentials", "token_file", creds.TokenFile)

	service, err := gsheet.NewService(ctx, goption.WithTokenSource(cfg.TokenSource(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// Export appends one row per ledger change.
func (e *Exporter) Export(ctx context.Context, userID string, tx core.Transaction, action ports.Action) error {
	if e.svc == nil {
		return errors.New("sheets service not initialized")
	}
	vr := &gsheet.ValueRange{Values: [][]interface{}{Row(userID, tx, action)}}
	resp, err := e.svc.Spreadsheets.Values.Append(e.spreadsheetID, e.rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append transaction row: %w", err)
	}

	ref := ""
	if resp.Updates != nil {
		ref = resp.Updates.UpdatedRange
	}
	slog.InfoContext(ctx, "Exported transaction to Google Sheets",
		"transaction_id", tx.ID, "action", action, "sheets_ref", ref)
	return nil
}

// Row renders the exported columns: date, title, category, type, amount,
// action, user.
func Row(userID string, tx core.Transaction, action ports.Action) []interface{} {
	return []interface{}{
		tx.Date.String(),
		tx.Title,
		core.CategoryLabel(tx.Category),
		string(tx.Type),
		tx.Amount.String(),
		string(action),
		userID,
	}
}
