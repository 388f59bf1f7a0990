package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	claimAgent  string
	claimFormat string
)

var claimNextCmd = &cobra.Command{
	Use:   "claim-next",
	Short: "Claim the next available ticket",
	Args:  exactArgs(0),
	RunE:  runClaimNext,
}

var completeCmd = &cobra.Command{
	Use:   "complete <id>",
	Short: "Signal work is finished (sets ready)",
	Args:  exactArgs(1),
	RunE:  runComplete,
}

// markDoneCmd is hidden: only the agent loop's post-push step finalizes a
// ticket, never a human at the keyboard.
var markDoneCmd = &cobra.Command{
	Use:    "mark-done <id>",
	Short:  "Finalize a ready ticket",
	Hidden: true,
	Args:   exactArgs(1),
	RunE:   runMarkDone,
}

var unclaimCmd = &cobra.Command{
	Use:   "unclaim <id>",
	Short: "Release a claimed ticket",
	Args:  exactArgs(1),
	RunE:  runUnclaim,
}

func init() {
	claimNextCmd.Flags().StringVar(&claimAgent, "agent", "", "Agent identifier")
	claimNextCmd.Flags().StringVar(&claimFormat, "format", "text", "Output format (text, json)")
}

func runClaimNext(cmd *cobra.Command, args []string) error {
	if claimAgent == "" {
		return usagef("--agent is required")
	}
	if err := parseFormatFlag(claimFormat); err != nil {
		return err
	}

	d, q, err := openQueue()
	if err != nil {
		return err
	}
	defer d.Close()

	detail, err := q.ClaimNext(claimAgent)
	if err != nil {
		return err
	}

	if claimFormat == "json" {
		return printJSON(detailJSON(detail))
	}
	printTicketDetail(detail)
	return nil
}

func runComplete(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	d, q, err := openQueue()
	if err != nil {
		return err
	}
	defer d.Close()

	if err := q.Complete(id); err != nil {
		return err
	}
	fmt.Printf("Ticket %d work complete.\n", id)
	return nil
}

func runMarkDone(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	d, q, err := openQueue()
	if err != nil {
		return err
	}
	defer d.Close()

	if err := q.MarkDone(id); err != nil {
		return err
	}
	fmt.Printf("Ticket %d done.\n", id)
	return nil
}

func runUnclaim(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	d, q, err := openQueue()
	if err != nil {
		return err
	}
	defer d.Close()

	if err := q.Unclaim(id); err != nil {
		return err
	}
	fmt.Printf("Ticket %d unclaimed.\n", id)
	return nil
}
