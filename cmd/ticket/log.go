package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arctek/swarm/internal/db"
)

var logLimit int

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show activity log",
	Args:  exactArgs(0),
	RunE:  runLog,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Args:  exactArgs(0),
	RunE:  runMigrate,
}

// releaseOrphansCmd is hidden: the fleet startup script invokes it before
// launching any agent container.
var releaseOrphansCmd = &cobra.Command{
	Use:    "release-orphans",
	Short:  "Release tickets held by agents from a previous run",
	Hidden: true,
	Args:   exactArgs(0),
	RunE:   runReleaseOrphans,
}

func init() {
	logCmd.Flags().IntVar(&logLimit, "limit", 20, "Max entries to show")
}

func runLog(cmd *cobra.Command, args []string) error {
	d, q, err := openQueue()
	if err != nil {
		return err
	}
	defer d.Close()

	entries, err := q.Activity(logLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No activity.")
		return nil
	}

	for _, e := range entries {
		ticketStr := "   "
		if e.TicketID != nil {
			ticketStr = fmt.Sprintf("#%d", *e.TicketID)
		}
		agentStr := ""
		if e.AgentID != nil {
			agentStr = *e.AgentID
		}
		fmt.Printf("[%s] %-6s %-18s %-14s %s\n",
			fmtTime(e.CreatedAt), ticketStr, e.Action, agentStr, e.Detail)
	}
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	result, err := db.Migrate(resolveDB())
	if err != nil {
		return err
	}

	for _, name := range result.Applied {
		fmt.Printf("Applied migration %s.\n", name)
	}
	if len(result.Applied) > 0 {
		fmt.Printf("Database migrated to version %d.\n", result.Version)
	} else {
		fmt.Printf("Database already at version %d.\n", result.Version)
	}
	return nil
}

func runReleaseOrphans(cmd *cobra.Command, args []string) error {
	d, q, err := openQueue()
	if err != nil {
		return err
	}
	defer d.Close()

	count, err := q.ReleaseOrphans()
	if err != nil {
		return err
	}
	fmt.Printf("Released %d orphaned agent ticket(s).\n", count)
	return nil
}
