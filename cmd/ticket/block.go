package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	blockBy   int64
	unblockBy int64
)

var blockCmd = &cobra.Command{
	Use:   "block <id>",
	Short: "Add a blocker relationship",
	Args:  exactArgs(1),
	RunE:  runBlock,
}

var unblockCmd = &cobra.Command{
	Use:   "unblock <id>",
	Short: "Remove a blocker relationship",
	Args:  exactArgs(1),
	RunE:  runUnblock,
}

func init() {
	blockCmd.Flags().Int64Var(&blockBy, "by", 0, "Ticket that blocks it")
	unblockCmd.Flags().Int64Var(&unblockBy, "by", 0, "Ticket that was blocking")
}

func runBlock(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("by") {
		return usagef("--by is required")
	}

	d, q, err := openQueue()
	if err != nil {
		return err
	}
	defer d.Close()

	if err := q.Block(id, blockBy); err != nil {
		return err
	}
	fmt.Printf("Ticket %d is now blocked by ticket %d.\n", id, blockBy)
	return nil
}

func runUnblock(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("by") {
		return usagef("--by is required")
	}

	d, q, err := openQueue()
	if err != nil {
		return err
	}
	defer d.Close()

	if err := q.Unblock(id, unblockBy); err != nil {
		return err
	}
	fmt.Printf("Ticket %d is no longer blocked by ticket %d.\n", id, unblockBy)
	return nil
}
