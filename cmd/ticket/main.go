// Package main implements the ticket CLI: the queue front-end that agent
// containers and humans share. Every invocation opens the store, runs one
// coordinator operation, and exits. Exit codes are part of the agent
// contract: 0 success, 1 domain failure, 2 caller misuse.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/arctek/swarm/internal/db"
	"github.com/arctek/swarm/internal/queue"
	"github.com/arctek/swarm/ticket"
)

var dbPath string

var rootCmd = &cobra.Command{
	Use:           "ticket",
	Short:         "SQLite-backed task queue for autonomous agent swarms",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "",
		"Path to SQLite database (default: TICKET_DB or auto-discovered)")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{msg: err.Error()}
	})

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(countCmd)
	rootCmd.AddCommand(claimNextCmd)
	rootCmd.AddCommand(commentCmd)
	rootCmd.AddCommand(commentsCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(markDoneCmd)
	rootCmd.AddCommand(unclaimCmd)
	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(unblockCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(releaseOrphansCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error: "+err.Error())
		os.Exit(exitCode(err))
	}
}

// exitCode maps a command error to the CLI's exit contract: 2 for caller
// misuse, 1 for everything else.
func exitCode(err error) int {
	var ue *usageError
	if errors.As(err, &ue) {
		return 2
	}
	return 1
}

// usageError marks caller misuse so main exits 2 instead of 1.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, a ...any) error {
	return &usageError{msg: fmt.Sprintf(format, a...)}
}

// exactArgs is cobra.ExactArgs with the usage exit code attached.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usagef("%s: accepts %d arg(s), received %d", cmd.Name(), n, len(args))
		}
		return nil
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, usagef("invalid ticket id %q", s)
	}
	return id, nil
}

// resolveDB picks the store path: explicit flag, then TICKET_DB, then the
// ancestor walk.
func resolveDB() string {
	if dbPath != "" {
		return dbPath
	}
	if env := os.Getenv("TICKET_DB"); env != "" {
		return env
	}
	return discoverDB()
}

// discoverDB walks up from the working directory looking for the
// well-known store path, so the CLI works from anywhere inside a swarm
// project. Falls back to a database in the current directory.
func discoverDB() string {
	dir, err := os.Getwd()
	if err != nil {
		return "./tickets.db"
	}
	return discoverFrom(dir)
}

func discoverFrom(dir string) string {
	for {
		candidate := filepath.Join(dir, ".swarm", "tickets", "tickets.db")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "./tickets.db"
}

// openQueue opens the version-gated store and wraps it in a coordinator.
// The caller closes the returned DB.
func openQueue() (*db.DB, *queue.Coordinator, error) {
	d, err := db.Open(resolveDB())
	if err != nil {
		return nil, nil, err
	}
	return d, queue.New(d), nil
}

// parseTypeFlag validates a --type value; enum misuse is a usage error.
func parseTypeFlag(s string) error {
	if s == "" {
		return nil
	}
	if _, err := ticket.ParseType(s); err != nil {
		return usagef("invalid --type %q (task, proposal, question, verify)", s)
	}
	return nil
}

// parseFormatFlag validates a --format value.
func parseFormatFlag(s string) error {
	if s != "text" && s != "json" {
		return usagef("invalid --format %q (text, json)", s)
	}
	return nil
}
