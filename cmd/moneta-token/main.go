// Command moneta-token issues a bearer token for a ledger user, signed with
// JWT_SECRET, for local use and scripting against the API.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"moneta/internal/auth"
	"moneta/internal/cli"
	"moneta/internal/config"
)

func main() {
	cli.LoadEnvFile()

	user := flag.String("user", "", "user id to embed in the token")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	cfg := config.Load()
	if cfg.JWTSecret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is required")
		os.Exit(1)
	}
	if *user == "" {
		fmt.Fprintln(os.Stderr, "-user is required")
		flag.Usage()
		os.Exit(2)
	}

	token, err := auth.NewManager(cfg.JWTSecret).Issue(*user, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
