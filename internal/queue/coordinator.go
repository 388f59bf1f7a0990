// Package queue implements the coordination layer over the ticket store:
// atomic claim, blocker bookkeeping, status transitions, and the audit
// trail. Every mutating operation runs in a single immediate-write
// transaction and appends its activity event before committing, so
// observers of a state change always observe the matching event.
package queue

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/arctek/swarm/internal/db"
	"github.com/arctek/swarm/ticket"
)

// commentPreviewLen bounds the comment excerpt carried in the activity log.
const commentPreviewLen = 200

// Coordinator is the business layer over the shared SQLite store.
type Coordinator struct {
	db *db.DB
}

// New creates a coordinator over an open, version-verified database.
func New(d *db.DB) *Coordinator {
	return &Coordinator{db: d}
}

// withTx runs fn inside an immediate-write transaction. Begin and Commit
// failures are classified so lock timeouts surface as retryable busy
// errors.
func (c *Coordinator) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := c.db.Begin()
	if err != nil {
		return db.Classify(err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return db.Classify(err)
	}
	return nil
}

// logActivity appends one activity event inside the caller's transaction.
func logActivity(tx *sql.Tx, ticketID *int64, agentID *string, action ticket.Action, detail string) error {
	_, err := tx.Exec(
		"INSERT INTO activity_log (ticket_id, agent_id, action, detail) VALUES (?, ?, ?, ?)",
		ticketID, agentID, action, detail,
	)
	if err != nil {
		return fmt.Errorf("failed to log activity: %w", err)
	}
	return nil
}

// CreateRequest carries the fields of a new ticket. Title is required;
// everything else is optional.
type CreateRequest struct {
	Title             string
	Description       string
	Parent            *int64
	AssignedTo        string // "" = unassigned
	CreatedBy         string // defaults to "human"
	Type              string // "" = auto-detect
	BlockedBy         *int64
	BlockDependentsOf *int64
}

// defaultType picks the ticket type when none is supplied: a ticket handed
// to a human with a blocker is a question about that work, a ticket handed
// to a human on its own is a proposal, anything else is a task.
func (r *CreateRequest) defaultType() ticket.Type {
	if r.AssignedTo == ticket.Human {
		if r.BlockedBy != nil {
			return ticket.TypeQuestion
		}
		return ticket.TypeProposal
	}
	return ticket.TypeTask
}

// Create inserts a new ticket, its initial blocker edges, and the created
// event in one transaction. Returns the new ticket id.
func (c *Coordinator) Create(req CreateRequest) (int64, error) {
	if strings.TrimSpace(req.Title) == "" {
		return 0, fmt.Errorf("%w: ticket title cannot be empty", ticket.ErrValidation)
	}

	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = ticket.Human
	}

	ttype := req.defaultType()
	if req.Type != "" {
		parsed, err := ticket.ParseType(req.Type)
		if err != nil {
			return 0, err
		}
		ttype = parsed
	}

	var newID int64
	err := c.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			"INSERT INTO tickets (title, description, parent_id, assigned_to, created_by, type) VALUES (?, ?, ?, ?, ?, ?)",
			req.Title, req.Description, req.Parent, nullStr(req.AssignedTo), createdBy, ttype,
		)
		if err != nil {
			return db.Classify(err)
		}
		newID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read new ticket id: %w", err)
		}

		if req.BlockedBy != nil {
			if err := requireTicket(tx, *req.BlockedBy); err != nil {
				return err
			}
			if _, err := tx.Exec(
				"INSERT INTO blockers (ticket_id, blocked_by) VALUES (?, ?)",
				newID, *req.BlockedBy,
			); err != nil {
				return db.Classify(err)
			}
			if err := logActivity(tx, &newID, &createdBy, ticket.ActionBlockerAdded,
				fmt.Sprintf("Blocked by ticket #%d", *req.BlockedBy)); err != nil {
				return err
			}
		}

		if req.BlockDependentsOf != nil {
			if err := c.copyDependents(tx, newID, *req.BlockDependentsOf, createdBy); err != nil {
				return err
			}
		}

		return logActivity(tx, &newID, &createdBy, ticket.ActionCreated, req.Title)
	})
	if err != nil {
		return 0, err
	}
	return newID, nil
}

// copyDependents makes every ticket currently blocked by source also
// blocked by the new ticket. Duplicate edges are skipped silently.
func (c *Coordinator) copyDependents(tx *sql.Tx, newID, source int64, createdBy string) error {
	if err := requireTicket(tx, source); err != nil {
		return err
	}

	rows, err := tx.Query("SELECT ticket_id FROM blockers WHERE blocked_by = ?", source)
	if err != nil {
		return fmt.Errorf("failed to query dependents: %w", err)
	}
	var dependents []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		dependents = append(dependents, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, dep := range dependents {
		depID := dep
		_, err := tx.Exec(
			"INSERT INTO blockers (ticket_id, blocked_by) VALUES (?, ?)",
			depID, newID,
		)
		if err != nil {
			if db.IsConstraint(err) {
				continue // already blocked by the new ticket
			}
			return db.Classify(err)
		}
		if err := logActivity(tx, &depID, &createdBy, ticket.ActionBlockerAdded,
			fmt.Sprintf("Blocked by #%d (via --block-dependents-of #%d)", newID, source)); err != nil {
			return err
		}
	}
	return nil
}

// UpdateRequest carries the fields to change; nil fields are untouched.
type UpdateRequest struct {
	Title       *string
	Description *string
	AssignedTo  *string
	Status      *string
	Type        *string
}

// Update writes the supplied fields and the updated event. A direct
// transition to done is rejected: that path belongs to MarkDone, invoked
// by the agent runtime after its push step.
func (c *Coordinator) Update(id int64, req UpdateRequest) error {
	if req.Status != nil {
		if _, err := ticket.ParseStatus(*req.Status); err != nil {
			return err
		}
	}
	if req.Type != nil {
		if _, err := ticket.ParseType(*req.Type); err != nil {
			return err
		}
	}

	var sets []string
	var args []any
	var changes []string
	if req.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *req.Title)
		changes = append(changes, "title -> "+*req.Title)
	}
	if req.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *req.Description)
		changes = append(changes, "description updated")
	}
	if req.AssignedTo != nil {
		sets = append(sets, "assigned_to = ?")
		args = append(args, nullStr(*req.AssignedTo))
		changes = append(changes, "assigned_to -> "+*req.AssignedTo)
	}
	if req.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *req.Status)
		changes = append(changes, "status -> "+*req.Status)
	}
	if req.Type != nil {
		sets = append(sets, "type = ?")
		args = append(args, *req.Type)
		changes = append(changes, "type -> "+*req.Type)
	}
	if len(sets) == 0 {
		return fmt.Errorf("%w: nothing to update", ticket.ErrValidation)
	}

	return c.withTx(func(tx *sql.Tx) error {
		if err := requireTicket(tx, id); err != nil {
			return err
		}
		// Checked after existence so a missing ticket reports not-found
		// even when the caller also asked for the forbidden transition.
		if req.Status != nil && ticket.Status(*req.Status) == ticket.StatusDone {
			return fmt.Errorf("%w: cannot set status to 'done' directly; use mark-done", ticket.ErrValidation)
		}
		query := "UPDATE tickets SET " + strings.Join(sets, ", ") + ", updated_at = CURRENT_TIMESTAMP WHERE id = ?"
		if _, err := tx.Exec(query, append(args, id)...); err != nil {
			return db.Classify(err)
		}
		return logActivity(tx, &id, nil, ticket.ActionUpdated, strings.Join(changes, "; "))
	})
}

// ClaimNext atomically claims the least-id claimable ticket for agent: the
// ticket must be open, unassigned, and have no blocker that is not done.
// The immediate-write transaction serializes concurrent claimers, so at
// most one agent ever claims any given ticket. Returns ErrNoWork when the
// queue has nothing admissible.
func (c *Coordinator) ClaimNext(agent string) (*ticket.Detail, error) {
	var claimedID int64
	err := c.withTx(func(tx *sql.Tx) error {
		err := tx.QueryRow(`
			SELECT id FROM tickets
			WHERE status = 'open'
			  AND assigned_to IS NULL
			  AND id NOT IN (
			      SELECT b.ticket_id
			      FROM blockers b
			      JOIN tickets t ON t.id = b.blocked_by
			      WHERE t.status != 'done'
			  )
			ORDER BY id ASC
			LIMIT 1
		`).Scan(&claimedID)
		if err == sql.ErrNoRows {
			return ticket.ErrNoWork
		}
		if err != nil {
			return db.Classify(err)
		}

		if _, err := tx.Exec(
			"UPDATE tickets SET assigned_to = ?, status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
			agent, ticket.StatusInProgress, claimedID,
		); err != nil {
			return db.Classify(err)
		}
		return logActivity(tx, &claimedID, &agent, ticket.ActionClaimed, "Claimed by "+agent)
	})
	if err != nil {
		return nil, err
	}
	return c.Show(claimedID)
}

// Block adds the edge (id blocked_by by). If the blocked ticket is
// currently assigned it is auto-released first: an agent must not keep
// working on a ticket whose preconditions just changed, and the synthetic
// unclaimed event commits ahead of the blocker_added event.
func (c *Coordinator) Block(id, by int64) error {
	return c.withTx(func(tx *sql.Tx) error {
		for _, tid := range []int64{id, by} {
			if err := requireTicket(tx, tid); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(
			"INSERT INTO blockers (ticket_id, blocked_by) VALUES (?, ?)", id, by,
		); err != nil {
			if db.IsConstraint(err) {
				return fmt.Errorf("%w: ticket %d is already blocked by %d", ticket.ErrConflict, id, by)
			}
			return db.Classify(err)
		}

		var assigned sql.NullString
		if err := tx.QueryRow("SELECT assigned_to FROM tickets WHERE id = ?", id).Scan(&assigned); err != nil {
			return db.Classify(err)
		}
		if assigned.Valid {
			prev := assigned.String
			if err := logActivity(tx, &id, &prev, ticket.ActionUnclaimed,
				fmt.Sprintf("Auto-released (blocked by #%d)", by)); err != nil {
				return err
			}
			if _, err := tx.Exec(
				"UPDATE tickets SET assigned_to = NULL, status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
				ticket.StatusOpen, id,
			); err != nil {
				return db.Classify(err)
			}
		}

		return logActivity(tx, &id, nil, ticket.ActionBlockerAdded, fmt.Sprintf("Blocked by #%d", by))
	})
}

// Unblock removes the edge (id blocked_by by). The ticket's status is left
// alone: an in-progress ticket that loses a blocker stays in progress.
func (c *Coordinator) Unblock(id, by int64) error {
	return c.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			"DELETE FROM blockers WHERE ticket_id = ? AND blocked_by = ?", id, by,
		)
		if err != nil {
			return db.Classify(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: no such blocker relationship", ticket.ErrNotFound)
		}
		return logActivity(tx, &id, nil, ticket.ActionBlockerRemoved, fmt.Sprintf("Unblocked from #%d", by))
	})
}

// Complete signals the agent's work is finished: status becomes ready, the
// assignment is kept for attribution during finalization.
func (c *Coordinator) Complete(id int64) error {
	return c.setStatus(id, ticket.StatusReady, ticket.ActionCompleted,
		fmt.Sprintf("Ticket #%d marked work complete", id))
}

// MarkDone finalizes a ready ticket. Only the agent runtime's post-push
// step calls this; everything else goes through Complete.
func (c *Coordinator) MarkDone(id int64) error {
	return c.setStatus(id, ticket.StatusDone, ticket.ActionDone,
		fmt.Sprintf("Ticket #%d marked done", id))
}

// setStatus writes a status transition attributed to the current assignee.
func (c *Coordinator) setStatus(id int64, status ticket.Status, action ticket.Action, detail string) error {
	return c.withTx(func(tx *sql.Tx) error {
		var assigned sql.NullString
		err := tx.QueryRow("SELECT assigned_to FROM tickets WHERE id = ?", id).Scan(&assigned)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: ticket %d", ticket.ErrNotFound, id)
		}
		if err != nil {
			return db.Classify(err)
		}

		if _, err := tx.Exec(
			"UPDATE tickets SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
			status, id,
		); err != nil {
			return db.Classify(err)
		}

		var agent *string
		if assigned.Valid {
			agent = &assigned.String
		}
		return logActivity(tx, &id, agent, action, detail)
	})
}

// Unclaim releases a claimed ticket back to the open pool, attributing the
// unclaimed event to the previous assignee.
func (c *Coordinator) Unclaim(id int64) error {
	return c.withTx(func(tx *sql.Tx) error {
		var assigned sql.NullString
		err := tx.QueryRow("SELECT assigned_to FROM tickets WHERE id = ?", id).Scan(&assigned)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: ticket %d", ticket.ErrNotFound, id)
		}
		if err != nil {
			return db.Classify(err)
		}

		if _, err := tx.Exec(
			"UPDATE tickets SET assigned_to = NULL, status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
			ticket.StatusOpen, id,
		); err != nil {
			return db.Classify(err)
		}

		var agent *string
		detail := "Released"
		if assigned.Valid {
			agent = &assigned.String
			detail = "Released by " + assigned.String
		}
		return logActivity(tx, &id, agent, ticket.ActionUnclaimed, detail)
	})
}

// Comment appends a comment and a commented event carrying a truncated
// preview of the body for log readability.
func (c *Coordinator) Comment(id int64, author, body string) error {
	return c.withTx(func(tx *sql.Tx) error {
		if err := requireTicket(tx, id); err != nil {
			return err
		}
		if _, err := tx.Exec(
			"INSERT INTO comments (ticket_id, author, body) VALUES (?, ?, ?)",
			id, author, body,
		); err != nil {
			return db.Classify(err)
		}
		return logActivity(tx, &id, &author, ticket.ActionCommented, truncateRunes(body, commentPreviewLen))
	})
}

// requireTicket returns ErrNotFound unless the ticket exists.
func requireTicket(tx *sql.Tx, id int64) error {
	var found int64
	err := tx.QueryRow("SELECT id FROM tickets WHERE id = ?", id).Scan(&found)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: ticket %d", ticket.ErrNotFound, id)
	}
	if err != nil {
		return db.Classify(err)
	}
	return nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
