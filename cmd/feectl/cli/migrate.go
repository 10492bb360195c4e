package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/schoolledger/feeledger/migrations"
)

var gooseRunFunc = goose.RunContext // mockable

// MigrateOptions defines available flags for the migrate command.
type MigrateOptions struct {
	DSN string
	// Command is a goose command such as up, down, status or version.
	Command string
	Args    []string
	Stdout  io.Writer
	Stderr  io.Writer
}

// MigrateCommand runs the embedded schema migrations against DSN.
func MigrateCommand(ctx context.Context, opts MigrateOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	if opts.DSN == "" {
		_, _ = fmt.Fprintln(stderr, "migrate: database dsn must be provided")
		return 1
	}
	if opts.Command == "" {
		opts.Command = "up"
	}
	db, err := sql.Open("pgx", opts.DSN)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "migrate: open database: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(log.New(stdout, "", 0))
	if err := goose.SetDialect("postgres"); err != nil {
		_, _ = fmt.Fprintf(stderr, "migrate: %v\n", err)
		return 1
	}
	if err := gooseRunFunc(ctx, opts.Command, db, ".", opts.Args...); err != nil {
		_, _ = fmt.Fprintf(stderr, "migrate %s: %v\n", opts.Command, err)
		return 1
	}
	return 0
}
