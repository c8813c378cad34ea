package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/pflag"

	"ms-ticket-gate/internal/database/migrations"
	"ms-ticket-gate/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	var dsn string
	var target uint

	flagSet := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	flagSet.StringVar(&dsn, "dsn", os.Getenv("POSTGRES_DSN"), "Postgres connection string (default: $POSTGRES_DSN)")
	flagSet.UintVar(&target, "to", 0, "with the 'to' command, the schema version to migrate to")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	args := flagSet.Args()
	if len(args) != 1 {
		printHelp(flagSet)
		return errors.New("expected exactly one command")
	}
	if dsn == "" {
		return errors.New("no DSN: pass --dsn or set POSTGRES_DSN")
	}

	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open PostgreSQL: %w", err)
	}

	runner, err := migrations.NewRunner(sqldb, logger.NewWriterLogger(os.Stdout))
	if err != nil {
		_ = sqldb.Close()
		return err
	}
	defer runner.Close()

	switch args[0] {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "to":
		if !flagSet.Changed("to") {
			return errors.New("the 'to' command needs --to")
		}
		return runner.To(target)
	case "version":
		version, dirty, err := runner.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version %d (dirty=%t)\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Apply the ticket_orders schema migrations.

Usage:
  migrate [flags] up|down|version|to

Flags:
%s`, flagSet.FlagUsages())
}
