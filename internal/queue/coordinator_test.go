package queue

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/arctek/swarm/internal/db"
	"github.com/arctek/swarm/ticket"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tickets.db")
	if _, err := db.Migrate(path); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	d, err := db.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return New(d)
}

func mustCreate(t *testing.T, c *Coordinator, req CreateRequest) int64 {
	t.Helper()
	id, err := c.Create(req)
	if err != nil {
		t.Fatalf("Create(%q): %v", req.Title, err)
	}
	return id
}

// latestActions returns the n newest activity actions, newest first.
func latestActions(t *testing.T, c *Coordinator, n int) []ticket.Action {
	t.Helper()
	entries, err := c.Activity(n)
	if err != nil {
		t.Fatalf("Activity: %v", err)
	}
	actions := make([]ticket.Action, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	return actions
}

func TestCreateDefaults(t *testing.T) {
	c := newTestCoordinator(t)

	id := mustCreate(t, c, CreateRequest{Title: "first task"})
	got, err := c.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != ticket.StatusOpen {
		t.Errorf("status = %s, want open", got.Status)
	}
	if got.CreatedBy != ticket.Human {
		t.Errorf("created_by = %s, want human", got.CreatedBy)
	}
	if got.Type != ticket.TypeTask {
		t.Errorf("type = %s, want task", got.Type)
	}
	if got.AssignedTo != nil {
		t.Errorf("assigned_to = %v, want nil", *got.AssignedTo)
	}

	actions := latestActions(t, c, 1)
	if len(actions) != 1 || actions[0] != ticket.ActionCreated {
		t.Errorf("latest action = %v, want created", actions)
	}
}

func TestCreateTypeInference(t *testing.T) {
	c := newTestCoordinator(t)

	blocker := mustCreate(t, c, CreateRequest{Title: "agent work"})

	tests := []struct {
		name string
		req  CreateRequest
		want ticket.Type
	}{
		{"plain", CreateRequest{Title: "t"}, ticket.TypeTask},
		{"human proposal", CreateRequest{Title: "t", AssignedTo: ticket.Human}, ticket.TypeProposal},
		{"human question", CreateRequest{Title: "t", AssignedTo: ticket.Human, BlockedBy: &blocker}, ticket.TypeQuestion},
		{"explicit verify", CreateRequest{Title: "t", AssignedTo: ticket.Human, Type: "verify"}, ticket.TypeVerify},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := mustCreate(t, c, tt.req)
			got, err := c.Get(id)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Type != tt.want {
				t.Errorf("type = %s, want %s", got.Type, tt.want)
			}
		})
	}
}

func TestCreateEmptyTitle(t *testing.T) {
	c := newTestCoordinator(t)

	_, err := c.Create(CreateRequest{Title: "   "})
	if !errors.Is(err, ticket.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestCreateMissingBlocker(t *testing.T) {
	c := newTestCoordinator(t)

	missing := int64(999)
	_, err := c.Create(CreateRequest{Title: "t", BlockedBy: &missing})
	if !errors.Is(err, ticket.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// The failed create must leave nothing behind.
	n, err := c.Count(ListFilter{All: true})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Errorf("count = %d after failed create, want 0", n)
	}
}

func TestClaimNextOrder(t *testing.T) {
	c := newTestCoordinator(t)

	first := mustCreate(t, c, CreateRequest{Title: "a"})
	mustCreate(t, c, CreateRequest{Title: "b"})

	got, err := c.ClaimNext("agent-1")
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if got.ID != first {
		t.Errorf("claimed %d, want %d", got.ID, first)
	}
	if got.Status != ticket.StatusInProgress {
		t.Errorf("status = %s, want in_progress", got.Status)
	}
	if got.Assignee() != "agent-1" {
		t.Errorf("assignee = %q, want agent-1", got.Assignee())
	}
}

func TestClaimNextSkipsBlockedAndAssigned(t *testing.T) {
	c := newTestCoordinator(t)

	blocker := mustCreate(t, c, CreateRequest{Title: "blocker"})
	blocked := mustCreate(t, c, CreateRequest{Title: "blocked", BlockedBy: &blocker})
	mustCreate(t, c, CreateRequest{Title: "assigned", AssignedTo: ticket.Human})

	got, err := c.ClaimNext("agent-1")
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if got.ID != blocker {
		t.Errorf("claimed %d, want %d", got.ID, blocker)
	}

	// Nothing else is claimable while the blocker is unfinished.
	if _, err := c.ClaimNext("agent-2"); !errors.Is(err, ticket.ErrNoWork) {
		t.Fatalf("expected ErrNoWork, got %v", err)
	}

	// Completing is not enough; only done unblocks dependents.
	if err := c.Complete(blocker); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, err := c.ClaimNext("agent-2"); !errors.Is(err, ticket.ErrNoWork) {
		t.Fatalf("expected ErrNoWork while blocker is ready, got %v", err)
	}

	if err := c.MarkDone(blocker); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	got, err = c.ClaimNext("agent-2")
	if err != nil {
		t.Fatalf("ClaimNext after done: %v", err)
	}
	if got.ID != blocked {
		t.Errorf("claimed %d, want %d", got.ID, blocked)
	}
}

func TestClaimNextEmpty(t *testing.T) {
	c := newTestCoordinator(t)

	if _, err := c.ClaimNext("agent-1"); !errors.Is(err, ticket.ErrNoWork) {
		t.Fatalf("expected ErrNoWork, got %v", err)
	}
}

func TestConcurrentClaims(t *testing.T) {
	c := newTestCoordinator(t)

	const tickets = 3
	const agents = 8
	for i := 0; i < tickets; i++ {
		mustCreate(t, c, CreateRequest{Title: "work"})
	}

	var wg sync.WaitGroup
	claimed := make(chan int64, agents)
	empty := make(chan struct{}, agents)
	errs := make(chan error, agents)

	for i := 0; i < agents; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			got, err := c.ClaimNext("agent")
			switch {
			case err == nil:
				claimed <- got.ID
			case errors.Is(err, ticket.ErrNoWork):
				empty <- struct{}{}
			default:
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(claimed)
	close(empty)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent claim: %v", err)
	}

	seen := map[int64]bool{}
	for id := range claimed {
		if seen[id] {
			t.Fatalf("ticket %d claimed twice", id)
		}
		seen[id] = true
	}
	if len(seen) != tickets {
		t.Errorf("claimed %d distinct tickets, want %d", len(seen), tickets)
	}
	if got := len(empty); got != agents-tickets {
		t.Errorf("%d agents got no work, want %d", got, agents-tickets)
	}
}

func TestBlockAutoReleasesAssignee(t *testing.T) {
	c := newTestCoordinator(t)

	work := mustCreate(t, c, CreateRequest{Title: "work"})
	question := mustCreate(t, c, CreateRequest{Title: "question", AssignedTo: ticket.Human})

	if _, err := c.ClaimNext("agent-1"); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	if err := c.Block(work, question); err != nil {
		t.Fatalf("Block: %v", err)
	}

	got, err := c.Get(work)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != ticket.StatusOpen {
		t.Errorf("status = %s, want open", got.Status)
	}
	if got.AssignedTo != nil {
		t.Errorf("assigned_to = %v, want nil", *got.AssignedTo)
	}

	// The synthetic release is recorded before the blocker edge.
	actions := latestActions(t, c, 2)
	want := []ticket.Action{ticket.ActionBlockerAdded, ticket.ActionUnclaimed}
	for i, a := range want {
		if actions[i] != a {
			t.Fatalf("activity tail = %v, want %v", actions, want)
		}
	}

	entries, err := c.Activity(2)
	if err != nil {
		t.Fatalf("Activity: %v", err)
	}
	if entries[1].AgentID == nil || *entries[1].AgentID != "agent-1" {
		t.Errorf("unclaimed event attributed to %v, want agent-1", entries[1].AgentID)
	}
}

func TestBlockUnassignedLeavesStatus(t *testing.T) {
	c := newTestCoordinator(t)

	a := mustCreate(t, c, CreateRequest{Title: "a"})
	b := mustCreate(t, c, CreateRequest{Title: "b"})

	if err := c.Block(a, b); err != nil {
		t.Fatalf("Block: %v", err)
	}

	actions := latestActions(t, c, 1)
	if actions[0] != ticket.ActionBlockerAdded {
		t.Errorf("latest action = %s, want blocker_added", actions[0])
	}
}

func TestBlockDuplicateEdge(t *testing.T) {
	c := newTestCoordinator(t)

	a := mustCreate(t, c, CreateRequest{Title: "a"})
	b := mustCreate(t, c, CreateRequest{Title: "b"})

	if err := c.Block(a, b); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if err := c.Block(a, b); !errors.Is(err, ticket.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestUnblock(t *testing.T) {
	c := newTestCoordinator(t)

	a := mustCreate(t, c, CreateRequest{Title: "a"})
	b := mustCreate(t, c, CreateRequest{Title: "b"})

	if err := c.Unblock(a, b); !errors.Is(err, ticket.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := c.Block(a, b); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if err := c.Unblock(a, b); err != nil {
		t.Fatalf("Unblock: %v", err)
	}

	d, err := c.Show(a)
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if len(d.BlockedBy) != 0 || d.IsBlocked {
		t.Errorf("still blocked after unblock: %+v", d)
	}
}

func TestCopyDependents(t *testing.T) {
	c := newTestCoordinator(t)

	gate := mustCreate(t, c, CreateRequest{Title: "gate"})
	dep1 := mustCreate(t, c, CreateRequest{Title: "dep1", BlockedBy: &gate})
	dep2 := mustCreate(t, c, CreateRequest{Title: "dep2", BlockedBy: &gate})

	review := mustCreate(t, c, CreateRequest{Title: "review", BlockDependentsOf: &gate})

	for _, id := range []int64{dep1, dep2} {
		d, err := c.Show(id)
		if err != nil {
			t.Fatalf("Show(%d): %v", id, err)
		}
		found := false
		for _, ref := range d.BlockedBy {
			if ref.ID == review {
				found = true
			}
		}
		if !found {
			t.Errorf("ticket %d not blocked by new ticket %d: %+v", id, review, d.BlockedBy)
		}
	}
}

func TestLifecycle(t *testing.T) {
	c := newTestCoordinator(t)

	id := mustCreate(t, c, CreateRequest{Title: "work"})
	if _, err := c.ClaimNext("agent-1"); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	if err := c.Complete(id); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got, err := c.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != ticket.StatusReady {
		t.Errorf("status after complete = %s, want ready", got.Status)
	}
	if got.Assignee() != "agent-1" {
		t.Errorf("complete dropped the assignment")
	}

	// Direct transition to done is reserved for MarkDone.
	done := "done"
	if err := c.Update(id, UpdateRequest{Status: &done}); !errors.Is(err, ticket.ErrValidation) {
		t.Fatalf("expected ErrValidation for direct done, got %v", err)
	}

	if err := c.MarkDone(id); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}

	// Done tickets leave the default view but stay countable.
	tickets, err := c.List(ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tickets) != 0 {
		t.Errorf("default list shows %d tickets, want 0", len(tickets))
	}
	n, err := c.Count(ListFilter{All: true})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("total = %d, want 1", n)
	}
}

func TestUnclaim(t *testing.T) {
	c := newTestCoordinator(t)

	id := mustCreate(t, c, CreateRequest{Title: "work"})
	if _, err := c.ClaimNext("agent-1"); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if err := c.Unclaim(id); err != nil {
		t.Fatalf("Unclaim: %v", err)
	}

	got, err := c.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != ticket.StatusOpen || got.AssignedTo != nil {
		t.Errorf("unclaim left %s/%v, want open/unassigned", got.Status, got.AssignedTo)
	}

	// The released ticket is claimable again.
	if _, err := c.ClaimNext("agent-2"); err != nil {
		t.Fatalf("ClaimNext after unclaim: %v", err)
	}
}

func TestUpdateFields(t *testing.T) {
	c := newTestCoordinator(t)

	id := mustCreate(t, c, CreateRequest{Title: "old"})

	title := "new title"
	assign := "agent-9"
	if err := c.Update(id, UpdateRequest{Title: &title, AssignedTo: &assign}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := c.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != title || got.Assignee() != assign {
		t.Errorf("update not applied: %+v", got)
	}

	if err := c.Update(id, UpdateRequest{}); !errors.Is(err, ticket.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty update, got %v", err)
	}

	bad := "nonsense"
	if err := c.Update(id, UpdateRequest{Status: &bad}); !errors.Is(err, ticket.ErrValidation) {
		t.Fatalf("expected ErrValidation for bad status, got %v", err)
	}

	if err := c.Update(999, UpdateRequest{Title: &title}); !errors.Is(err, ticket.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// A missing ticket wins over the forbidden transition.
	done := "done"
	if err := c.Update(999, UpdateRequest{Status: &done}); !errors.Is(err, ticket.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for done on missing ticket, got %v", err)
	}
}

func TestCommentPreviewTruncated(t *testing.T) {
	c := newTestCoordinator(t)

	id := mustCreate(t, c, CreateRequest{Title: "work"})
	long := strings.Repeat("x", 500)
	if err := c.Comment(id, "agent-1", long); err != nil {
		t.Fatalf("Comment: %v", err)
	}

	comments, err := c.Comments(id)
	if err != nil {
		t.Fatalf("Comments: %v", err)
	}
	if len(comments) != 1 || len(comments[0].Body) != 500 {
		t.Fatalf("comment body not stored in full")
	}

	entries, err := c.Activity(1)
	if err != nil {
		t.Fatalf("Activity: %v", err)
	}
	if len(entries[0].Detail) != commentPreviewLen {
		t.Errorf("event detail length = %d, want %d", len(entries[0].Detail), commentPreviewLen)
	}
}

func TestReleaseOrphans(t *testing.T) {
	c := newTestCoordinator(t)

	orphan := mustCreate(t, c, CreateRequest{Title: "orphan"})
	if _, err := c.ClaimNext("agent-1"); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	humanHeld := mustCreate(t, c, CreateRequest{Title: "question", AssignedTo: ticket.Human})
	finished := mustCreate(t, c, CreateRequest{Title: "finished", AssignedTo: "agent-2"})
	if err := c.MarkDone(finished); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}

	released, err := c.ReleaseOrphans()
	if err != nil {
		t.Fatalf("ReleaseOrphans: %v", err)
	}
	if released != 1 {
		t.Fatalf("released %d, want 1", released)
	}

	got, err := c.Get(orphan)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != ticket.StatusOpen || got.AssignedTo != nil {
		t.Errorf("orphan not released: %+v", got)
	}

	// Human assignment untouched.
	got, err = c.Get(humanHeld)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Assignee() != ticket.Human {
		t.Errorf("human ticket was released")
	}

	entries, err := c.Activity(5)
	if err != nil {
		t.Fatalf("Activity: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.Action == ticket.ActionUnclaimed && e.Detail == "Auto-released on swarm start" {
			found = true
		}
	}
	if !found {
		t.Errorf("missing auto-release event")
	}

	// A second pass right after the first finds nothing assigned and
	// leaves the activity log untouched.
	before, err := c.Activity(50)
	if err != nil {
		t.Fatalf("Activity: %v", err)
	}
	released, err = c.ReleaseOrphans()
	if err != nil {
		t.Fatalf("second ReleaseOrphans: %v", err)
	}
	if released != 0 {
		t.Errorf("second pass released %d, want 0", released)
	}
	after, err := c.Activity(50)
	if err != nil {
		t.Fatalf("Activity: %v", err)
	}
	if len(after) != len(before) {
		t.Errorf("second pass logged %d new events", len(after)-len(before))
	}
}

func TestShowDetail(t *testing.T) {
	c := newTestCoordinator(t)

	parent := mustCreate(t, c, CreateRequest{Title: "parent"})
	child := mustCreate(t, c, CreateRequest{Title: "child", Parent: &parent})
	blocker := mustCreate(t, c, CreateRequest{Title: "blocker"})
	if err := c.Block(parent, blocker); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if err := c.Comment(parent, "agent-1", "note"); err != nil {
		t.Fatalf("Comment: %v", err)
	}

	d, err := c.Show(parent)
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if !d.IsBlocked || len(d.BlockedBy) != 1 || d.BlockedBy[0].ID != blocker {
		t.Errorf("blocked_by wrong: %+v", d.BlockedBy)
	}
	if len(d.Children) != 1 || d.Children[0].ID != child {
		t.Errorf("children wrong: %+v", d.Children)
	}
	if len(d.Comments) != 1 || d.Comments[0].Body != "note" {
		t.Errorf("comments wrong: %+v", d.Comments)
	}

	rev, err := c.Show(blocker)
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if len(rev.Blocks) != 1 || rev.Blocks[0].ID != parent {
		t.Errorf("blocks wrong: %+v", rev.Blocks)
	}

	if _, err := c.Show(999); !errors.Is(err, ticket.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStats(t *testing.T) {
	c := newTestCoordinator(t)

	blocker := mustCreate(t, c, CreateRequest{Title: "blocker"})
	mustCreate(t, c, CreateRequest{Title: "blocked", BlockedBy: &blocker})
	mustCreate(t, c, CreateRequest{Title: "ask", AssignedTo: ticket.Human})
	done := mustCreate(t, c, CreateRequest{Title: "finished"})
	if err := c.MarkDone(done); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}

	stats, err := c.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats["total"] != 4 {
		t.Errorf("total = %d, want 4", stats["total"])
	}
	if stats["open"] != 3 {
		t.Errorf("open = %d, want 3", stats["open"])
	}
	if stats["done"] != 1 {
		t.Errorf("done = %d, want 1", stats["done"])
	}
	if stats["needs_human"] != 1 {
		t.Errorf("needs_human = %d, want 1", stats["needs_human"])
	}
	if stats["blocked"] != 1 {
		t.Errorf("blocked = %d, want 1", stats["blocked"])
	}
}

func TestListFilters(t *testing.T) {
	c := newTestCoordinator(t)

	mustCreate(t, c, CreateRequest{Title: "a"})
	mustCreate(t, c, CreateRequest{Title: "b", AssignedTo: "agent-1"})
	done := mustCreate(t, c, CreateRequest{Title: "c"})
	if err := c.MarkDone(done); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}

	tickets, err := c.List(ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tickets) != 2 {
		t.Errorf("default list = %d tickets, want 2", len(tickets))
	}

	tickets, err = c.List(ListFilter{Statuses: []ticket.Status{ticket.StatusDone}})
	if err != nil {
		t.Fatalf("List done: %v", err)
	}
	if len(tickets) != 1 || tickets[0].ID != done {
		t.Errorf("done filter wrong: %+v", tickets)
	}

	tickets, err = c.List(ListFilter{AssignedTo: "agent-1"})
	if err != nil {
		t.Fatalf("List assigned: %v", err)
	}
	if len(tickets) != 1 || tickets[0].Title != "b" {
		t.Errorf("assigned filter wrong: %+v", tickets)
	}
}

func TestAssignments(t *testing.T) {
	c := newTestCoordinator(t)

	id := mustCreate(t, c, CreateRequest{Title: "work"})
	if _, err := c.ClaimNext("swarm-agent-1"); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	assignments, err := c.Assignments()
	if err != nil {
		t.Fatalf("Assignments: %v", err)
	}
	a, ok := assignments["swarm-agent-1"]
	if !ok || a.TicketID != id || a.TicketTitle != "work" {
		t.Errorf("assignments = %+v", assignments)
	}
}
