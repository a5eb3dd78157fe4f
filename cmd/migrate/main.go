// Command migrate applies the embedded schema migrations.
//
//	migrate [--database-url URL] up|down|version
//
// The database URL defaults to DATABASE_URL, read from the environment or a
// local .env file.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"billingsync/internal/db"
)

// migrator is the subset of db.Migrator the commands use.
type migrator interface {
	Up() error
	Down() error
	Version() (version uint, dirty bool, err error)
}

var errUsage = errors.New("usage")

func main() {
	_ = godotenv.Load()

	dbURL := flag.String("database-url", os.Getenv("DATABASE_URL"), "Postgres connection URL (or DATABASE_URL env)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: migrate [flags] up|down|version\n\n")
		fmt.Fprintf(os.Stderr, "Apply or inspect the billingsync schema migrations.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	if *dbURL == "" {
		fmt.Fprintf(os.Stderr, "error: --database-url or DATABASE_URL is required\n")
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	m, err := db.NewMigrator(*dbURL, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	err = runCommand(m, flag.Arg(0), os.Stdout)
	if closeErr := m.Close(); closeErr != nil {
		logger.Warn("failed to close migrator", "error", closeErr)
	}
	if errors.Is(err, errUsage) {
		fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runCommand executes one subcommand and reports the resulting version.
func runCommand(m migrator, cmd string, out io.Writer) error {
	switch cmd {
	case "up":
		if err := m.Up(); err != nil {
			return err
		}
	case "down":
		if err := m.Down(); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if dirty {
		fmt.Fprintf(out, "version %d (dirty)\n", version)
		return nil
	}
	fmt.Fprintf(out, "version %d\n", version)
	return nil
}
