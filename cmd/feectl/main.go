package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/schoolledger/feeledger/cmd/feectl/cli"
	"github.com/schoolledger/feeledger/internal/app"
)

const usage = `usage: feectl <command> [flags]

commands:
  migrate [up|down|status|version|...]   apply embedded schema migrations
  generate -classes 1,2 -month 4 -year 2025 -scope monthly
                                         enqueue a dues generation run
  integrity                              enqueue a ledger integrity scan
  queue [-json]                          print job queue statistics
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping feectl")
		return
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return 1
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}

	switch args[0] {
	case "migrate":
		opts := cli.MigrateOptions{DSN: cfg.PGDSN, Stdout: stdout, Stderr: stderr}
		if len(args) > 1 {
			opts.Command = args[1]
			opts.Args = args[2:]
		}
		return cli.MigrateCommand(ctx, opts)
	case "generate":
		fs := flag.NewFlagSet("generate", flag.ContinueOnError)
		fs.SetOutput(stderr)
		opts := cli.GenerateOptions{Stdout: stdout, Stderr: stderr}
		fs.StringVar(&opts.Classes, "classes", "", "comma separated class ids (default: every class with a rate)")
		fs.IntVar(&opts.Month, "month", 0, "period month 1-12 (default: current month)")
		fs.IntVar(&opts.Year, "year", 0, "period year (default: current year)")
		fs.StringVar(&opts.Scope, "scope", "monthly", "monthly or annual")
		if err := fs.Parse(args[1:]); err != nil {
			return 1
		}
		jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
		defer closeQuietly(jobsCLI, stderr)
		return jobsCLI.GenerateCommand(ctx, opts)
	case "integrity":
		jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
		defer closeQuietly(jobsCLI, stderr)
		return jobsCLI.IntegrityCommand(ctx, stdout, stderr)
	case "queue":
		fs := flag.NewFlagSet("queue", flag.ContinueOnError)
		fs.SetOutput(stderr)
		opts := cli.QueueOptions{Stdout: stdout, Stderr: stderr}
		fs.BoolVar(&opts.JSONOutput, "json", false, "print JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return 1
		}
		jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
		defer closeQuietly(jobsCLI, stderr)
		return jobsCLI.QueueCommand(ctx, opts)
	case "help", "-h", "--help":
		_, _ = fmt.Fprint(stdout, usage)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "feectl: unknown command %q\n\n%s", args[0], usage)
		return 1
	}
}

func closeQuietly(c io.Closer, stderr io.Writer) {
	if err := c.Close(); err != nil {
		_, _ = fmt.Fprintf(stderr, "close: %v\n", err)
	}
}
