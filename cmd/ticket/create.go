package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arctek/swarm/internal/queue"
)

var (
	createDescription       string
	createParent            int64
	createAssign            string
	createBlockedBy         int64
	createCreatedBy         string
	createType              string
	createBlockDependentsOf int64
)

var createCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a new ticket",
	Args:  exactArgs(1),
	RunE:  runCreate,
}

func init() {
	f := createCmd.Flags()
	f.StringVar(&createDescription, "description", "", "Ticket description")
	f.Int64Var(&createParent, "parent", 0, "Parent ticket ID")
	f.StringVar(&createAssign, "assign", "", "Assign to agent/human")
	f.Int64Var(&createBlockedBy, "blocked-by", 0,
		"ID of ticket that must complete before this one")
	f.StringVar(&createCreatedBy, "created-by", "", "Creator identifier (default: human)")
	f.StringVar(&createType, "type", "", "Ticket type (default: auto-detected)")
	f.Int64Var(&createBlockDependentsOf, "block-dependents-of", 0,
		"All tickets blocked by this ID also become blocked by the new ticket")
}

func runCreate(cmd *cobra.Command, args []string) error {
	if err := parseTypeFlag(createType); err != nil {
		return err
	}

	req := queue.CreateRequest{
		Title:       args[0],
		Description: createDescription,
		AssignedTo:  createAssign,
		CreatedBy:   createCreatedBy,
		Type:        createType,
	}
	if cmd.Flags().Changed("parent") {
		req.Parent = &createParent
	}
	if cmd.Flags().Changed("blocked-by") {
		req.BlockedBy = &createBlockedBy
	}
	if cmd.Flags().Changed("block-dependents-of") {
		req.BlockDependentsOf = &createBlockDependentsOf
	}

	d, q, err := openQueue()
	if err != nil {
		return err
	}
	defer d.Close()

	id, err := q.Create(req)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}
