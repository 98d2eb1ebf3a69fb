package google

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

const clientSecret = `{"installed":{"client_id":"id.apps.googleusercontent.com","client_secret":"s","auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token","redirect_uris":["http://localhost"]}}`

func TestLoadOAuthConfig(t *testing.T) {
	cfg, err := LoadOAuthConfig(OAuthClient{JSON: clientSecret})
	if err != nil {
		t.Fatalf("LoadOAuthConfig: %v", err)
	}
	if cfg.ClientID != "id.apps.googleusercontent.com" {
		t.Errorf("client id = %q", cfg.ClientID)
	}
	if len(cfg.Scopes) != 1 || !strings.Contains(cfg.Scopes[0], "spreadsheets") {
		t.Errorf("scopes = %v", cfg.Scopes)
	}

	if _, err := LoadOAuthConfig(OAuthClient{}); err == nil {
		t.Fatal("expected error without client")
	}
	if _, err := LoadOAuthConfig(OAuthClient{JSON: "{}"}); err == nil {
		t.Fatal("expected error for malformed client")
	}
}

func TestSaveAndLoadToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	want := &oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", Expiry: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}

	if err := SaveToken(path, want); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("token file mode = %v", info.Mode().Perm())
	}

	got, err := LoadToken(path)
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	if got.RefreshToken != "r" || !got.Expiry.Equal(want.Expiry) {
		t.Errorf("token = %+v", got)
	}
}

func TestLoadToken_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadToken(path); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestNewExporter_OAuthWithoutToken(t *testing.T) {
	_, err := NewExporter(context.Background(), "sheet-1", "", Credentials{OAuth: OAuthClient{JSON: clientSecret}})
	if err == nil || !strings.Contains(err.Error(), "missing oauth token file") {
		t.Fatalf("expected missing token error, got %v", err)
	}
}
