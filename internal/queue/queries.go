package queue

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/arctek/swarm/internal/db"
	"github.com/arctek/swarm/ticket"
)

const ticketColumns = `id, title, COALESCE(description, ''), status, assigned_to, parent_id, created_by, type, created_at, updated_at`

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTicket(s scanner) (*ticket.Ticket, error) {
	var t ticket.Ticket
	var assigned sql.NullString
	var parent sql.NullInt64
	err := s.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &assigned, &parent,
		&t.CreatedBy, &t.Type, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if assigned.Valid {
		t.AssignedTo = &assigned.String
	}
	if parent.Valid {
		t.ParentID = &parent.Int64
	}
	return &t, nil
}

// Get returns a single ticket by id.
func (c *Coordinator) Get(id int64) (*ticket.Ticket, error) {
	row := c.db.QueryRow("SELECT "+ticketColumns+" FROM tickets WHERE id = ?", id)
	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: ticket %d", ticket.ErrNotFound, id)
	}
	if err != nil {
		return nil, db.Classify(err)
	}
	return t, nil
}

// ListFilter narrows List and Count. An empty status set means the default
// view: everything except done. All lifts that default; the dashboard's
// list endpoint returns finished tickets too.
type ListFilter struct {
	Statuses   []ticket.Status
	AssignedTo string
	All        bool
}

func (f ListFilter) where() (string, []any) {
	var conds []string
	var args []any

	if len(f.Statuses) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Statuses)), ",")
		conds = append(conds, "status IN ("+placeholders+")")
		for _, st := range f.Statuses {
			args = append(args, st)
		}
	} else if !f.All {
		conds = append(conds, "status != 'done'")
	}

	if f.AssignedTo != "" {
		conds = append(conds, "assigned_to = ?")
		args = append(args, f.AssignedTo)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns tickets matching the filter, ordered by id.
func (c *Coordinator) List(f ListFilter) ([]ticket.Ticket, error) {
	where, args := f.where()
	rows, err := c.db.Query("SELECT "+ticketColumns+" FROM tickets"+where+" ORDER BY id", args...)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	var tickets []ticket.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

// Count returns the number of tickets matching the filter.
func (c *Coordinator) Count(f ListFilter) (int64, error) {
	where, args := f.where()
	var n int64
	if err := c.db.QueryRow("SELECT COUNT(*) FROM tickets"+where, args...).Scan(&n); err != nil {
		return 0, db.Classify(err)
	}
	return n, nil
}

// ListBlocker is one blocker edge as a list row reports it. The wire
// names differ from the detail view's and are part of the dashboard
// contract.
type ListBlocker struct {
	BlockedBy     int64         `json:"blocked_by"`
	BlockerStatus ticket.Status `json:"blocker_status"`
}

// Overview is a list row enriched with the dashboard's derived fields.
type Overview struct {
	ticket.Ticket
	CommentCount int           `json:"comment_count"`
	BlockedBy    []ListBlocker `json:"blocked_by"`
	IsBlocked    bool          `json:"is_blocked"`
}

// ListOverview returns list rows with comment counts and blocker state,
// the shape the dashboard's ticket list consumes.
func (c *Coordinator) ListOverview(f ListFilter) ([]Overview, error) {
	tickets, err := c.List(f)
	if err != nil {
		return nil, err
	}

	overviews := make([]Overview, 0, len(tickets))
	for _, t := range tickets {
		o := Overview{Ticket: t, BlockedBy: []ListBlocker{}}

		if err := c.db.QueryRow(
			"SELECT COUNT(*) FROM comments WHERE ticket_id = ?", t.ID,
		).Scan(&o.CommentCount); err != nil {
			return nil, db.Classify(err)
		}

		rows, err := c.db.Query(`
			SELECT b.blocked_by, t.status
			FROM blockers b JOIN tickets t ON t.id = b.blocked_by
			WHERE b.ticket_id = ?`, t.ID)
		if err != nil {
			return nil, db.Classify(err)
		}
		for rows.Next() {
			var ref ListBlocker
			if err := rows.Scan(&ref.BlockedBy, &ref.BlockerStatus); err != nil {
				rows.Close()
				return nil, err
			}
			if ref.BlockerStatus != ticket.StatusDone {
				o.IsBlocked = true
			}
			o.BlockedBy = append(o.BlockedBy, ref)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}

		overviews = append(overviews, o)
	}
	return overviews, nil
}

// Show returns a ticket with its comments, blocker edges in both
// directions, and children.
func (c *Coordinator) Show(id int64) (*ticket.Detail, error) {
	t, err := c.Get(id)
	if err != nil {
		return nil, err
	}

	d := &ticket.Detail{
		Ticket:    *t,
		Comments:  []ticket.Comment{},
		BlockedBy: []ticket.BlockerRef{},
		Blocks:    []ticket.BlockerRef{},
		Children:  []ticket.ChildRef{},
	}

	comments, err := c.Comments(id)
	if err != nil {
		return nil, err
	}
	d.Comments = comments

	rows, err := c.db.Query(`
		SELECT b.blocked_by, t.title, t.status
		FROM blockers b JOIN tickets t ON t.id = b.blocked_by
		WHERE b.ticket_id = ?`, id)
	if err != nil {
		return nil, db.Classify(err)
	}
	for rows.Next() {
		var ref ticket.BlockerRef
		if err := rows.Scan(&ref.ID, &ref.Title, &ref.Status); err != nil {
			rows.Close()
			return nil, err
		}
		if ref.Status != ticket.StatusDone {
			d.IsBlocked = true
		}
		d.BlockedBy = append(d.BlockedBy, ref)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = c.db.Query(`
		SELECT b.ticket_id, t.title, t.status
		FROM blockers b JOIN tickets t ON t.id = b.ticket_id
		WHERE b.blocked_by = ?`, id)
	if err != nil {
		return nil, db.Classify(err)
	}
	for rows.Next() {
		var ref ticket.BlockerRef
		if err := rows.Scan(&ref.ID, &ref.Title, &ref.Status); err != nil {
			rows.Close()
			return nil, err
		}
		d.Blocks = append(d.Blocks, ref)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = c.db.Query(
		"SELECT id, title, status FROM tickets WHERE parent_id = ? ORDER BY id", id)
	if err != nil {
		return nil, db.Classify(err)
	}
	for rows.Next() {
		var ch ticket.ChildRef
		if err := rows.Scan(&ch.ID, &ch.Title, &ch.Status); err != nil {
			rows.Close()
			return nil, err
		}
		d.Children = append(d.Children, ch)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return d, nil
}

// Comments returns a ticket's comments in creation order. The ticket must
// exist.
func (c *Coordinator) Comments(id int64) ([]ticket.Comment, error) {
	var found int64
	err := c.db.QueryRow("SELECT id FROM tickets WHERE id = ?", id).Scan(&found)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: ticket %d", ticket.ErrNotFound, id)
	}
	if err != nil {
		return nil, db.Classify(err)
	}

	rows, err := c.db.Query(
		"SELECT id, ticket_id, author, body, created_at FROM comments WHERE ticket_id = ? ORDER BY created_at, id",
		id)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	comments := []ticket.Comment{}
	for rows.Next() {
		var cm ticket.Comment
		if err := rows.Scan(&cm.ID, &cm.TicketID, &cm.Author, &cm.Body, &cm.CreatedAt); err != nil {
			return nil, err
		}
		comments = append(comments, cm)
	}
	return comments, rows.Err()
}

// ActivityEntry is an audit event joined with the title of the ticket it
// refers to, when that ticket still exists.
type ActivityEntry struct {
	ticket.ActivityEvent
	TicketTitle *string `json:"ticket_title"`
}

// Activity returns the most recent audit events, newest first. Events from
// the same transaction share a timestamp, so the id breaks ties to keep
// the emitted order stable.
func (c *Coordinator) Activity(limit int) ([]ActivityEntry, error) {
	rows, err := c.db.Query(`
		SELECT a.id, a.ticket_id, a.agent_id, a.action, COALESCE(a.detail, ''), a.created_at, t.title
		FROM activity_log a
		LEFT JOIN tickets t ON t.id = a.ticket_id
		ORDER BY a.created_at DESC, a.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	entries := []ActivityEntry{}
	for rows.Next() {
		var e ActivityEntry
		var tid sql.NullInt64
		var agent sql.NullString
		var title sql.NullString
		if err := rows.Scan(&e.ID, &tid, &agent, &e.Action, &e.Detail, &e.CreatedAt, &title); err != nil {
			return nil, err
		}
		if tid.Valid {
			e.TicketID = &tid.Int64
		}
		if agent.Valid {
			e.AgentID = &agent.String
		}
		if title.Valid {
			e.TicketTitle = &title.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats summarizes the board for the dashboard: per-status counts plus the
// derived needs_human, blocked, and total figures.
func (c *Coordinator) Stats() (map[string]int64, error) {
	stats := map[string]int64{}

	rows, err := c.db.Query("SELECT status, COUNT(*) FROM tickets GROUP BY status")
	if err != nil {
		return nil, db.Classify(err)
	}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats[status] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var needsHuman int64
	if err := c.db.QueryRow(
		"SELECT COUNT(*) FROM tickets WHERE assigned_to = ? AND status != 'done'", ticket.Human,
	).Scan(&needsHuman); err != nil {
		return nil, db.Classify(err)
	}
	stats["needs_human"] = needsHuman

	var blocked int64
	if err := c.db.QueryRow(`
		SELECT COUNT(DISTINCT b.ticket_id)
		FROM blockers b
		JOIN tickets bt ON bt.id = b.blocked_by
		JOIN tickets t ON t.id = b.ticket_id
		WHERE bt.status != 'done' AND t.status != 'done'
	`).Scan(&blocked); err != nil {
		return nil, db.Classify(err)
	}
	stats["blocked"] = blocked

	var total int64
	if err := c.db.QueryRow("SELECT COUNT(*) FROM tickets").Scan(&total); err != nil {
		return nil, db.Classify(err)
	}
	stats["total"] = total

	return stats, nil
}

// Assignment ties an in-progress ticket to the agent working on it.
type Assignment struct {
	TicketID    int64  `json:"ticket_id"`
	TicketTitle string `json:"ticket_title"`
}

// Assignments returns the current in-progress work keyed by assignee. The
// dashboard matches the keys against container names; when naming
// conventions diverge the mapping silently empties, by contract.
func (c *Coordinator) Assignments() (map[string]Assignment, error) {
	rows, err := c.db.Query(
		"SELECT assigned_to, id, title FROM tickets WHERE status = 'in_progress' AND assigned_to IS NOT NULL")
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	out := map[string]Assignment{}
	for rows.Next() {
		var agent string
		var a Assignment
		if err := rows.Scan(&agent, &a.TicketID, &a.TicketTitle); err != nil {
			return nil, err
		}
		out[agent] = a
	}
	return out, rows.Err()
}
