package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"moneta/internal/core"
	"moneta/internal/sheets"
)

func sampleTransaction() core.Transaction {
	return core.Transaction{
		ID:       "tx-1",
		Title:    "Groceries",
		Amount:   core.Money{Cents: 4550},
		Category: "Food",
		Date:     core.NewDate(2024, 3, 9),
		Type:     core.Expense,
	}
}

func TestRow(t *testing.T) {
	row := Row("alice", sampleTransaction(), sheets.ActionCreated)
	want := []interface{}{"2024-03-09", "Groceries", "Food", "expense", "45.50", "created", "alice"}
	if len(row) != len(want) {
		t.Fatalf("row has %d columns, want %d", len(row), len(want))
	}
	for i := range want {
		if row[i] != want[i] {
			t.Errorf("column %d = %v, want %v", i, row[i], want[i])
		}
	}
}

func TestRow_Uncategorized(t *testing.T) {
	tx := sampleTransaction()
	tx.Category = ""
	row := Row("bob", tx, sheets.ActionDeleted)
	if row[2] != core.UncategorizedLabel {
		t.Errorf("category column = %v, want %q", row[2], core.UncategorizedLabel)
	}
	if row[5] != "deleted" {
		t.Errorf("action column = %v, want deleted", row[5])
	}
}

func TestNewExporter_MissingSpreadsheetID(t *testing.T) {
	_, err := NewExporter(context.Background(), "  ", "", Credentials{JSON: "{}"})
	if err == nil || err.Error() != "missing spreadsheet ID" {
		t.Fatalf("expected missing spreadsheet ID error, got %v", err)
	}
}

func TestNewExporter_MissingCredentials(t *testing.T) {
	_, err := NewExporter(context.Background(), "sheet-1", "", Credentials{})
	if err == nil || !strings.Contains(err.Error(), "missing credentials") {
		t.Fatalf("expected missing credentials error, got %v", err)
	}
}

func TestNewExporter_UnreadableCredentialsFile(t *testing.T) {
	_, err := NewExporter(context.Background(), "sheet-1", "", Credentials{File: "/non/existent/sa.json"})
	if err == nil || !strings.Contains(err.Error(), "read service account file") {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestExporter_Export(t *testing.T) {
	var gotPath string
	var gotBody gsheet.ValueRange
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"updates":{"updatedRange":"Transactions!A2:G2"}}`)
	}))
	defer srv.Close()

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithoutAuthentication())
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	exp := newExporter(svc, "sheet-1", "")

	if err := exp.Export(context.Background(), "alice", sampleTransaction(), sheets.ActionCreated); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if !strings.Contains(gotPath, "sheet-1") || !strings.HasSuffix(gotPath, ":append") {
		t.Errorf("unexpected request path %q", gotPath)
	}
	if len(gotBody.Values) != 1 || len(gotBody.Values[0]) != 7 {
		t.Fatalf("unexpected body %+v", gotBody.Values)
	}
	if gotBody.Values[0][1] != "Groceries" {
		t.Errorf("title column = %v", gotBody.Values[0][1])
	}
}

func TestExporter_ExportWithoutService(t *testing.T) {
	exp := &Exporter{spreadsheetID: "sheet-1"}
	if err := exp.Export(context.Background(), "alice", sampleTransaction(), sheets.ActionCreated); err == nil {
		t.Fatal("expected error without service")
	}
}

func TestNopExporter(t *testing.T) {
	var exp sheets.TransactionExporter = sheets.NopExporter{}
	if err := exp.Export(context.Background(), "alice", sampleTransaction(), sheets.ActionCreated); err != nil {
		t.Fatalf("NopExporter.Export() error = %v", err)
	}
}
