package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/subcommands"

	"finlink/internal/domain/connection"
)

// --- migrateCmd ---

type migrateCmd struct {
	down bool
}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "apply pending database migrations" }
func (*migrateCmd) Usage() string {
	return `admin migrate [-down]

  Applies every pending migration, or rolls back the most recent one with -down.
`
}

func (c *migrateCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.down, "down", false, "Roll back the most recent migration instead.")
}

func (c *migrateCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	_, db, err := openDB()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer db.Close()

	if c.down {
		err = db.MigrateDown()
	} else {
		err = db.MigrateUp()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// --- providersCmd ---

type providersCmd struct{}

func (*providersCmd) Name() string     { return "providers" }
func (*providersCmd) Synopsis() string { return "check that every configured provider is registered" }
func (*providersCmd) Usage() string {
	return `admin providers

  Lists the providers enabled in the environment and whether the database
  knows them. Missing rows are added by seed-providers.
`
}

func (*providersCmd) SetFlags(*flag.FlagSet) {}

func (*providersCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, err := newEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer e.Close()

	status := subcommands.ExitSuccess
	for _, name := range e.adapters.Names() {
		p, err := e.registry.Provider(ctx, name)
		switch {
		case errors.Is(err, connection.ErrProviderNotFound):
			fmt.Printf("%-15s MISSING\n", name)
			status = subcommands.ExitFailure
		case err != nil:
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
			return subcommands.ExitFailure
		default:
			fmt.Printf("%-15s ok (id %d)\n", name, p.ID)
		}
	}
	return status
}

// --- seedProvidersCmd ---

type seedProvidersCmd struct{}

func (*seedProvidersCmd) Name() string     { return "seed-providers" }
func (*seedProvidersCmd) Synopsis() string { return "insert a provider row for every enabled provider" }
func (*seedProvidersCmd) Usage() string {
	return `admin seed-providers

  Inserts missing provider rows for the providers enabled in the environment.
  Existing rows are left untouched.
`
}

func (*seedProvidersCmd) SetFlags(*flag.FlagSet) {}

func (*seedProvidersCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, err := newEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer e.Close()

	n, err := e.connections.SeedProviders(ctx, e.adapters.Names())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Printf("Seeded %d provider(s)\n", n)
	return subcommands.ExitSuccess
}

// --- syncCmd ---

type syncCmd struct {
	provider   string
	connection int64
	timeout    time.Duration
}

func (*syncCmd) Name() string     { return "sync" }
func (*syncCmd) Synopsis() string { return "pull accounts and transactions from a polled provider" }
func (*syncCmd) Usage() string {
	return `admin sync -provider <name> | -connection <id> [-timeout 30m]

  Syncs every connection of a provider, or a single institution connection,
  and prints the result as JSON.
`
}

func (c *syncCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.provider, "provider", "", "Provider whose connections to sync.")
	f.Int64Var(&c.connection, "connection", 0, "Sync a single institution connection by id.")
	f.DurationVar(&c.timeout, "timeout", 30*time.Minute, "Timeout for the whole run.")
}

func (c *syncCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if (c.provider == "") == (c.connection == 0) {
		fmt.Fprintln(os.Stderr, "Error: exactly one of -provider or -connection is required.")
		return subcommands.ExitUsageError
	}

	e, err := newEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer e.Close()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	var result any
	if c.connection != 0 {
		result, err = e.sync.SyncConnectionByID(ctx, c.connection)
	} else {
		result, err = e.sync.SyncProvider(ctx, strings.ToLower(c.provider))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(result); encErr != nil {
		fmt.Fprintln(os.Stderr, encErr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Sync failed: %v\n", err)
		return subcommands.ExitFailure
	}
	log.Printf("Sync completed in %v", time.Since(start).Round(time.Millisecond))
	return subcommands.ExitSuccess
}

// --- deregisterCmd ---

type deregisterCmd struct {
	user     string
	provider string
}

func (*deregisterCmd) Name() string     { return "deregister" }
func (*deregisterCmd) Synopsis() string { return "remove a user's provider registration" }
func (*deregisterCmd) Usage() string {
	return `admin deregister -user <id> -provider <name>

  Deletes the vendor-side user where the provider keeps one, then removes the
  local registration. Linked accounts are kept and detached.
`
}

func (c *deregisterCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "User id.")
	f.StringVar(&c.provider, "provider", "", "Provider name.")
}

func (c *deregisterCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.user == "" || c.provider == "" {
		fmt.Fprintln(os.Stderr, "Error: -user and -provider are required.")
		return subcommands.ExitUsageError
	}

	e, err := newEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer e.Close()

	if err := e.link.Deregister(ctx, c.user, strings.ToLower(c.provider)); err != nil {
		fmt.Fprintf(os.Stderr, "Deregister failed: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("User %s deregistered from %s\n", c.user, c.provider)
	return subcommands.ExitSuccess
}
