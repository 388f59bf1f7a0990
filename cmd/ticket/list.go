package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arctek/swarm/internal/queue"
	"github.com/arctek/swarm/ticket"
)

var (
	listStatus     string
	listAssignedTo string
	listFormat     string

	showFormat string

	countStatus string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tickets",
	Args:  exactArgs(0),
	RunE:  runList,
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show ticket detail",
	Args:  exactArgs(1),
	RunE:  runShow,
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Count tickets",
	Args:  exactArgs(0),
	RunE:  runCount,
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (comma-separated)")
	listCmd.Flags().StringVar(&listAssignedTo, "assigned-to", "", "Filter by assignee")
	listCmd.Flags().StringVar(&listFormat, "format", "text", "Output format (text, json)")

	showCmd.Flags().StringVar(&showFormat, "format", "text", "Output format (text, json)")

	countCmd.Flags().StringVar(&countStatus, "status", "", "Filter by status (comma-separated)")
}

// buildFilter parses the shared --status / --assigned-to filter flags.
func buildFilter(statusCSV, assignedTo string) (queue.ListFilter, error) {
	var f queue.ListFilter
	if statusCSV != "" {
		statuses, err := ticket.ParseStatusSet(statusCSV)
		if err != nil {
			return f, err
		}
		f.Statuses = statuses
	}
	f.AssignedTo = assignedTo
	return f, nil
}

func runList(cmd *cobra.Command, args []string) error {
	if err := parseFormatFlag(listFormat); err != nil {
		return err
	}
	filter, err := buildFilter(listStatus, listAssignedTo)
	if err != nil {
		return err
	}

	d, q, err := openQueue()
	if err != nil {
		return err
	}
	defer d.Close()

	tickets, err := q.List(filter)
	if err != nil {
		return err
	}

	if listFormat == "json" {
		return printJSON(tickets)
	}
	printTicketTable(tickets)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	if err := parseFormatFlag(showFormat); err != nil {
		return err
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	d, q, err := openQueue()
	if err != nil {
		return err
	}
	defer d.Close()

	detail, err := q.Show(id)
	if err != nil {
		return err
	}

	if showFormat == "json" {
		return printJSON(detailJSON(detail))
	}
	printTicketDetail(detail)
	return nil
}

func runCount(cmd *cobra.Command, args []string) error {
	filter, err := buildFilter(countStatus, "")
	if err != nil {
		return err
	}

	d, q, err := openQueue()
	if err != nil {
		return err
	}
	defer d.Close()

	n, err := q.Count(filter)
	if err != nil {
		return err
	}
	fmt.Println(n)
	return nil
}
