// Command cleanup hard-deletes expired and tombstoned OAuth2 credentials
// past the grace window. Intended for cron; the server runs the same sweep
// on CLEANUP_INTERVAL.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bowlinehq/bowline/internal/config"
	"github.com/bowlinehq/bowline/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.New(ctx, postgres.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: 2,
		MinConns: 1,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	cutoff := time.Now().UTC().Add(-cfg.Cleanup.Grace)
	fmt.Printf("Sweeping credentials expired before %s...\n", cutoff.Format(time.RFC3339))

	codes, err := postgres.NewAuthorizationCodeRepository(db).DeleteExpired(ctx, cutoff)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sweep authorization codes: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Deleted %d authorization codes.\n", codes)

	tokens, err := postgres.NewAccessTokenRepository(db).DeleteExpired(ctx, cutoff)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sweep token records: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Deleted %d token records.\n", tokens)
}
