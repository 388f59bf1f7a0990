package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/arctek/swarm/ticket"
)

func fmtTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTicketTable prints tickets as the fixed-width text table agents and
// humans scan by eye.
func printTicketTable(tickets []ticket.Ticket) {
	if len(tickets) == 0 {
		fmt.Println("No tickets found.")
		return
	}
	header := fmt.Sprintf("%5s  %-14s  %-10s  %-14s  Title", "ID", "Status", "Type", "Assigned")
	fmt.Println(header)
	fmt.Println(strings.Repeat("-", len(header)))
	for _, t := range tickets {
		fmt.Printf("%5d  %-14s  %-10s  %-14s  %s\n",
			t.ID, t.Status, t.Type, t.Assignee(), t.Title)
	}
}

// printTicketDetail prints full detail for a single ticket.
func printTicketDetail(d *ticket.Detail) {
	fmt.Printf("Ticket #%d\n", d.ID)
	fmt.Printf("  Title:       %s\n", d.Title)
	fmt.Printf("  Type:        %s\n", d.Type)
	fmt.Printf("  Status:      %s\n", d.Status)
	fmt.Printf("  Assigned:    %s\n", orNone(d.Assignee()))
	fmt.Printf("  Created by:  %s\n", d.CreatedBy)
	fmt.Printf("  Parent:      %s\n", parentStr(d.ParentID))
	fmt.Printf("  Created:     %s\n", fmtTime(d.CreatedAt))
	fmt.Printf("  Updated:     %s\n", fmtTime(d.UpdatedAt))

	if d.Description != "" {
		fmt.Println("  Description:")
		for _, line := range strings.Split(d.Description, "\n") {
			fmt.Printf("    %s\n", line)
		}
	}

	if len(d.BlockedBy) > 0 {
		fmt.Printf("  Blocked by:  %s\n", joinIDs(blockerIDs(d.BlockedBy)))
	}
	if len(d.Blocks) > 0 {
		fmt.Printf("  Blocks:      %s\n", joinIDs(blockerIDs(d.Blocks)))
	}

	if len(d.Comments) > 0 {
		fmt.Printf("\n  Comments (%d):\n", len(d.Comments))
		for _, c := range d.Comments {
			fmt.Printf("    [%s] %s: %s\n", fmtTime(c.CreatedAt), c.Author, c.Body)
		}
	}
}

// detailPayload is the CLI's JSON detail shape: blocker edges flatten to
// id lists, which is what the agent loop parses.
type detailPayload struct {
	ticket.Ticket
	BlockedBy []int64          `json:"blocked_by"`
	Blocks    []int64          `json:"blocks"`
	Comments  []ticket.Comment `json:"comments"`
}

func detailJSON(d *ticket.Detail) detailPayload {
	return detailPayload{
		Ticket:    d.Ticket,
		BlockedBy: blockerIDs(d.BlockedBy),
		Blocks:    blockerIDs(d.Blocks),
		Comments:  d.Comments,
	}
}

func blockerIDs(refs []ticket.BlockerRef) []int64 {
	ids := make([]int64, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.ID)
	}
	return ids
}

func joinIDs(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%d", id))
	}
	return strings.Join(parts, ", ")
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func parentStr(id *int64) string {
	if id == nil {
		return "(none)"
	}
	return fmt.Sprintf("%d", *id)
}
