// Operator CLI to run the refresh token cleanup once, optionally as a dry
// run. The server schedules the same sweep daily, this command exists for
// manual runs and cron-less deployments.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/masjidku/masjidauth/internal/db"
	"github.com/masjidku/masjidauth/internal/logger"
	"github.com/masjidku/masjidauth/internal/repository/postgres"
	"github.com/masjidku/masjidauth/internal/service/cleanup"
)

func main() {
	var (
		databaseDSN string
		graceDays   int
		dryRun      bool
		logLevel    string
	)

	fs := pflag.NewFlagSet("cleanup", pflag.ExitOnError)
	fs.StringVarP(&databaseDSN, "database", "d", os.Getenv("DATABASE_URI"), "Database connection string")
	fs.IntVar(&graceDays, "revoked-grace", 30, "Days revoked tokens are retained")
	fs.BoolVar(&dryRun, "dry-run", false, "Report what would be deleted without deleting")
	fs.StringVarP(&logLevel, "log-level", "l", logger.LevelInfo, "Logging level")
	_ = fs.Parse(os.Args[1:])

	if databaseDSN == "" {
		fmt.Fprintln(os.Stderr, "database connection string is required (-d or DATABASE_URI)")
		os.Exit(1)
	}

	log, err := logger.New(logger.EnvDevelopment, logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "can't initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.ConnectAndMigrate(ctx, databaseDSN)
	if err != nil {
		log.Error("can't connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	sweeper := cleanup.New(cleanup.Config{
		RevokedGrace: time.Duration(graceDays) * 24 * time.Hour,
	}, postgres.NewStorage(pool), log)

	result, err := sweeper.Sweep(ctx, dryRun)
	if err != nil {
		log.Error("cleanup failed", "error", err)
		os.Exit(1)
	}

	verb := "Deleted"
	if dryRun {
		verb = "Would delete"
	}
	fmt.Printf("%s %d revoked tokens (older than %d days)\n", verb, result.RevokedDeleted, graceDays)
	fmt.Printf("%s %d expired tokens\n", verb, result.ExpiredDeleted)
	fmt.Printf("%s total %d tokens\n", verb, result.Total())
}
