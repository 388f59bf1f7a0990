package queue

import (
	"database/sql"
	"fmt"

	"github.com/arctek/swarm/ticket"
)

// ReleaseOrphans returns every agent-held, unfinished ticket to the open
// pool. Swarm startup runs this before launching containers so that work
// abandoned by a previous generation of agents becomes claimable again.
// Tickets assigned to a human are left alone. Returns the number of
// tickets released.
func (c *Coordinator) ReleaseOrphans() (int, error) {
	var released int
	err := c.withTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(`
			SELECT id, assigned_to FROM tickets
			WHERE assigned_to IS NOT NULL AND assigned_to != ? AND status != 'done'
			ORDER BY id`, ticket.Human)
		if err != nil {
			return err
		}

		type orphan struct {
			id    int64
			agent string
		}
		var orphans []orphan
		for rows.Next() {
			var o orphan
			if err := rows.Scan(&o.id, &o.agent); err != nil {
				rows.Close()
				return err
			}
			orphans = append(orphans, o)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, o := range orphans {
			if _, err := tx.Exec(
				"UPDATE tickets SET assigned_to = NULL, status = 'open', updated_at = CURRENT_TIMESTAMP WHERE id = ?",
				o.id,
			); err != nil {
				return fmt.Errorf("failed to release ticket %d: %w", o.id, err)
			}
			if err := logActivity(tx, &o.id, &o.agent, ticket.ActionUnclaimed, "Auto-released on swarm start"); err != nil {
				return err
			}
		}
		released = len(orphans)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}
