package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arctek/swarm/internal/queue"
)

var (
	updateTitle       string
	updateDescription string
	updateAssign      string
	updateStatus      string
	updateType        string
)

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a ticket",
	Args:  exactArgs(1),
	RunE:  runUpdate,
}

func init() {
	f := updateCmd.Flags()
	f.StringVar(&updateTitle, "title", "", "New title")
	f.StringVar(&updateDescription, "description", "", "New description")
	f.StringVar(&updateAssign, "assign", "", "New assignee")
	f.StringVar(&updateStatus, "status", "", "New status")
	f.StringVar(&updateType, "type", "", "New ticket type")
}

func runUpdate(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if err := parseTypeFlag(updateType); err != nil {
		return err
	}

	var req queue.UpdateRequest
	if cmd.Flags().Changed("title") {
		req.Title = &updateTitle
	}
	if cmd.Flags().Changed("description") {
		req.Description = &updateDescription
	}
	if cmd.Flags().Changed("assign") {
		req.AssignedTo = &updateAssign
	}
	if cmd.Flags().Changed("status") {
		req.Status = &updateStatus
	}
	if cmd.Flags().Changed("type") {
		req.Type = &updateType
	}
	if req == (queue.UpdateRequest{}) {
		return usagef("nothing to update")
	}

	d, q, err := openQueue()
	if err != nil {
		return err
	}
	defer d.Close()

	if err := q.Update(id, req); err != nil {
		return err
	}
	fmt.Printf("Ticket %d updated.\n", id)
	return nil
}
