// Package ticket defines the shared data model for the swarm ticket queue.
// Tickets move through a fixed lifecycle while agents claim them from a
// shared SQLite-backed queue; blocker edges between tickets constrain which
// work is claimable.
package ticket

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle stage of a ticket.
type Status string

const (
	StatusOpen       Status = "open"        // Unclaimed, available if unblocked
	StatusInProgress Status = "in_progress" // Claimed by an agent
	StatusReady      Status = "ready"       // Work complete, awaiting finalization
	StatusDone       Status = "done"        // Finalized after the post-push step
)

// statuses lists every valid status, in lifecycle order.
var statuses = []Status{StatusOpen, StatusInProgress, StatusReady, StatusDone}

// ParseStatus validates a single status string.
func ParseStatus(s string) (Status, error) {
	for _, st := range statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
}

// ParseStatusSet parses a comma-separated status filter.
func ParseStatusSet(csv string) ([]Status, error) {
	var out []Status
	for _, part := range strings.Split(csv, ",") {
		st, err := ParseStatus(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Type categorizes what kind of work a ticket represents.
type Type string

const (
	TypeTask     Type = "task"     // Regular unit of agent work
	TypeProposal Type = "proposal" // Needs a human decision
	TypeQuestion Type = "question" // Human answer blocks other work
	TypeVerify   Type = "verify"   // Verification pass over finished work
)

// ParseType validates a ticket type string.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeTask, TypeProposal, TypeQuestion, TypeVerify:
		return Type(s), nil
	}
	return "", fmt.Errorf("%w: unknown ticket type %q", ErrValidation, s)
}

// Human is the identity recorded when no creator is supplied, and the
// assignee that marks a ticket as waiting on a person rather than an agent.
const Human = "human"

// Ticket is a unit of work in the queue.
//
// AssignedTo and ParentID are nil when unset; the JSON field names are the
// wire contract shared with the dashboard and must not change.
type Ticket struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	AssignedTo  *string   `json:"assigned_to"`
	ParentID    *int64    `json:"parent_id"`
	CreatedBy   string    `json:"created_by"`
	Type        Type      `json:"type"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Assignee returns the assigned agent identifier, or "" when unassigned.
func (t *Ticket) Assignee() string {
	if t.AssignedTo == nil {
		return ""
	}
	return *t.AssignedTo
}

// Comment is an append-only note on a ticket.
type Comment struct {
	ID        int64     `json:"id"`
	TicketID  int64     `json:"ticket_id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Action is the stable short tag recorded with each activity event.
type Action string

const (
	ActionCreated        Action = "created"
	ActionUpdated        Action = "updated"
	ActionClaimed        Action = "claimed"
	ActionCommented      Action = "commented"
	ActionUnclaimed      Action = "unclaimed"
	ActionCompleted      Action = "completed"
	ActionDone           Action = "done"
	ActionBlockerAdded   Action = "blocker_added"
	ActionBlockerRemoved Action = "blocker_removed"
)

// ActivityEvent is an immutable audit record of a coordinator operation.
// Events commit in the same transaction as the state change they describe.
type ActivityEvent struct {
	ID        int64     `json:"id"`
	TicketID  *int64    `json:"ticket_id"`
	AgentID   *string   `json:"agent_id"`
	Action    Action    `json:"action"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// BlockerRef describes one side of a blocker edge together with the status
// (and, in detail views, the title) of the ticket on the other side.
type BlockerRef struct {
	ID     int64  `json:"id"`
	Title  string `json:"title,omitempty"`
	Status Status `json:"status"`
}

// ChildRef is a compact reference to a child ticket.
type ChildRef struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Status Status `json:"status"`
}

// Detail is a ticket plus everything the show command and the dashboard
// detail view join in.
type Detail struct {
	Ticket
	Comments  []Comment    `json:"comments"`
	BlockedBy []BlockerRef `json:"blocked_by"` // tickets this one waits on
	Blocks    []BlockerRef `json:"blocks"`     // tickets waiting on this one
	Children  []ChildRef   `json:"children"`
	IsBlocked bool         `json:"is_blocked"`
}
