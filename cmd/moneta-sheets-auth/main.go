// Command moneta-sheets-auth runs the OAuth consent flow once and saves the
// resulting token for the worker's Google Sheets export.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"golang.org/x/oauth2"

	"moneta/internal/cli"
	"moneta/internal/config"
	"moneta/internal/log"
	gsheet "moneta/internal/sheets/google"
)

func main() {
	cli.LoadEnvFile()
	cfg := config.Load()
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat, log.ComponentSheets)

	oauthCfg, err := gsheet.LoadOAuthConfig(gsheet.OAuthClient{
		JSON: cfg.GoogleOAuthClientJSON,
		File: cfg.GoogleOAuthClientFile,
	})
	if err != nil {
		logger.Error("Failed to load OAuth client", "error", err)
		os.Exit(1)
	}

	// The redirect URI must be listed among the client's authorized redirect URIs.
	redirectPort := os.Getenv("OAUTH_REDIRECT_PORT")
	if redirectPort == "" {
		redirectPort = "8085"
	}
	oauthCfg.RedirectURL = "http://localhost:" + redirectPort + "/callback"

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	code, err := awaitCode(ctx, ":"+redirectPort, oauthCfg)
	if err != nil {
		logger.Error("Authorization failed", "error", err)
		os.Exit(1)
	}

	tok, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		logger.Error("Token exchange failed", "error", err)
		os.Exit(1)
	}
	if err := gsheet.SaveToken(cfg.GoogleOAuthTokenFile, tok); err != nil {
		logger.Error("Failed to save token", "error", err)
		os.Exit(1)
	}
	logger.Info("Saved token", "path", cfg.GoogleOAuthTokenFile)
}

// awaitCode serves the OAuth callback on addr until a code arrives or ctx ends.
func awaitCode(ctx context.Context, addr string, cfg *oauth2.Config) (string, error) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /callback", func(w http.ResponseWriter, r *http.Request) {
		if errStr := r.URL.Query().Get("error"); errStr != "" {
			http.Error(w, "OAuth error: "+errStr, http.StatusBadRequest)
			errCh <- fmt.Errorf("consent denied: %s", errStr)
			return
		}
		fmt.Fprintln(w, "You may close this window and return to the terminal.")
		codeCh <- r.URL.Query().Get("code")
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	fmt.Printf("Open this URL to authorize:\n%s\n", cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline))

	select {
	case code := <-codeCh:
		if code == "" {
			return "", errors.New("callback carried no code")
		}
		return code, nil
	case err := <-errCh:
		return "", err
	case <-ctx.Done():
		return "", fmt.Errorf("authorization timed out: %w", ctx.Err())
	}
}
