package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/arctek/swarm/internal/docker"
	"github.com/arctek/swarm/internal/queue"
	"github.com/arctek/swarm/ticket"
)

// pathID parses the {id} path segment.
func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil
}

// apiListTickets returns tickets with the list view's derived fields.
// ?status= takes a comma-separated set; the default hides done.
func (s *Server) apiListTickets(w http.ResponseWriter, r *http.Request) {
	filter := queue.ListFilter{All: true}
	if csv := r.URL.Query().Get("status"); csv != "" {
		statuses, err := ticket.ParseStatusSet(csv)
		if err != nil {
			s.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter.Statuses = statuses
	}
	filter.AssignedTo = r.URL.Query().Get("assigned_to")

	d, q, err := s.openQueue()
	if err != nil {
		s.domainError(w, err)
		return
	}
	defer d.Close()

	tickets, err := q.ListOverview(filter)
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, map[string]any{"tickets": tickets})
}

// ticketDetail is the detail payload: the joined ticket plus a rendered
// HTML description for the dashboard.
type ticketDetail struct {
	*ticket.Detail
	DescriptionHTML string `json:"description_html"`
}

// apiGetTicket returns one ticket with comments, blocker edges in both
// directions, and children.
func (s *Server) apiGetTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.jsonError(w, "Invalid ticket ID", http.StatusBadRequest)
		return
	}

	d, q, err := s.openQueue()
	if err != nil {
		s.domainError(w, err)
		return
	}
	defer d.Close()

	detail, err := q.Show(id)
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, ticketDetail{Detail: detail, DescriptionHTML: renderMarkdown(detail.Description)})
}

// renderMarkdown converts a ticket description to HTML, falling back to
// the raw text when conversion fails.
func renderMarkdown(src string) string {
	if src == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(src), &buf); err != nil {
		return src
	}
	return buf.String()
}

// createTicketRequest is the request body for creating a ticket.
type createTicketRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ParentID    *int64 `json:"parent_id"`
	AssignedTo  string `json:"assigned_to"`
	CreatedBy   string `json:"created_by"`
}

// apiCreateTicket creates a new ticket.
func (s *Server) apiCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req createTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		s.jsonError(w, "title is required", http.StatusBadRequest)
		return
	}

	d, q, err := s.openQueue()
	if err != nil {
		s.domainError(w, err)
		return
	}
	defer d.Close()

	id, err := q.Create(queue.CreateRequest{
		Title:       req.Title,
		Description: req.Description,
		Parent:      req.ParentID,
		AssignedTo:  req.AssignedTo,
		CreatedBy:   req.CreatedBy,
	})
	if err != nil {
		s.domainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]int64{"id": id})
}

// commentRequest is the request body for adding a comment.
type commentRequest struct {
	Body   string `json:"body"`
	Author string `json:"author"`
}

// apiAddComment appends a comment to a ticket.
func (s *Server) apiAddComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.jsonError(w, "Invalid ticket ID", http.StatusBadRequest)
		return
	}

	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Body == "" {
		s.jsonError(w, "body is required", http.StatusBadRequest)
		return
	}
	if req.Author == "" {
		req.Author = ticket.Human
	}

	d, q, err := s.openQueue()
	if err != nil {
		s.domainError(w, err)
		return
	}
	defer d.Close()

	if err := q.Comment(id, req.Author, req.Body); err != nil {
		s.domainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

// apiCompleteTicket marks a ticket's work complete: the ticket moves to
// ready for the agent runtime to finalize, never straight to done.
func (s *Server) apiCompleteTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.jsonError(w, "Invalid ticket ID", http.StatusBadRequest)
		return
	}

	d, q, err := s.openQueue()
	if err != nil {
		s.domainError(w, err)
		return
	}
	defer d.Close()

	if err := q.Complete(id); err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, map[string]bool{"ok": true})
}

// updateTicketRequest is the request body for a partial update.
type updateTicketRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	AssignedTo  *string `json:"assigned_to"`
}

// apiUpdateTicket applies a partial update; an empty field set is a 400.
func (s *Server) apiUpdateTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.jsonError(w, "Invalid ticket ID", http.StatusBadRequest)
		return
	}

	var req updateTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	d, q, err := s.openQueue()
	if err != nil {
		s.domainError(w, err)
		return
	}
	defer d.Close()

	err = q.Update(id, queue.UpdateRequest{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		AssignedTo:  req.AssignedTo,
	})
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, map[string]bool{"ok": true})
}

// activityRow is an audit event with a humanized action label.
type activityRow struct {
	queue.ActivityEntry
	ActionLabel string `json:"action_label"`
}

var actionCaser = cases.Title(language.English)

// actionLabel turns an action tag into display text: blocker_added
// becomes "Blocker Added".
func actionLabel(a ticket.Action) string {
	return actionCaser.String(strings.ReplaceAll(string(a), "_", " "))
}

// apiActivity returns the newest audit events, default 50.
func (s *Server) apiActivity(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	d, q, err := s.openQueue()
	if err != nil {
		s.domainError(w, err)
		return
	}
	defer d.Close()

	entries, err := q.Activity(limit)
	if err != nil {
		s.domainError(w, err)
		return
	}

	rows := make([]activityRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, activityRow{ActivityEntry: e, ActionLabel: actionLabel(e.Action)})
	}
	s.jsonResponse(w, map[string]any{"activity": rows})
}

// agentRow joins a container summary with its live stats and the ticket
// its agent is working on. Stats fields appear only for running
// containers.
type agentRow struct {
	docker.Agent
	CurrentTicket *queue.Assignment `json:"current_ticket"`
	*docker.Stats
}

// apiAgents joins the container list with in-progress assignments keyed
// by container name. An unreachable runtime degrades to an empty list
// with an error field rather than failing the dashboard.
func (s *Server) apiAgents(w http.ResponseWriter, r *http.Request) {
	if s.runtime == nil {
		s.jsonResponse(w, map[string]any{"agents": []agentRow{}, "error": "Docker not available"})
		return
	}

	containers, err := s.runtime.ListAgents(r.Context())
	if err != nil {
		s.jsonResponse(w, map[string]any{"agents": []agentRow{}, "error": "Docker not available"})
		return
	}

	d, q, err := s.openQueue()
	if err != nil {
		s.domainError(w, err)
		return
	}
	defer d.Close()

	assignments, err := q.Assignments()
	if err != nil {
		s.domainError(w, err)
		return
	}

	rows := make([]agentRow, 0, len(containers))
	for _, agent := range containers {
		row := agentRow{Agent: agent}
		if a, ok := assignments[agent.Name]; ok {
			assignment := a
			row.CurrentTicket = &assignment
		}
		if agent.State == "running" {
			if stats, err := s.runtime.Stats(r.Context(), agent.ID); err == nil {
				row.Stats = stats
			}
		}
		rows = append(rows, row)
	}
	s.jsonResponse(w, map[string]any{"agents": rows})
}

// logTailLines is how much container history the dashboard shows.
const logTailLines = 100

// apiAgentLogs tails logs for a container matched by name or id prefix.
func (s *Server) apiAgentLogs(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if s.runtime == nil {
		s.jsonError(w, "Docker not available", http.StatusServiceUnavailable)
		return
	}

	containers, err := s.runtime.ListAgents(r.Context())
	if err != nil {
		s.jsonError(w, "Docker not available", http.StatusServiceUnavailable)
		return
	}

	var containerID string
	for _, agent := range containers {
		if agent.Name == name || strings.HasPrefix(agent.ID, name) {
			containerID = agent.ID
			break
		}
	}
	if containerID == "" {
		s.jsonError(w, "Container '"+name+"' not found", http.StatusNotFound)
		return
	}

	logs, err := s.runtime.Logs(r.Context(), containerID, logTailLines)
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, map[string]string{"logs": logs, "container": name})
}

// apiStats returns the board summary.
func (s *Server) apiStats(w http.ResponseWriter, r *http.Request) {
	d, q, err := s.openQueue()
	if err != nil {
		s.domainError(w, err)
		return
	}
	defer d.Close()

	stats, err := q.Stats()
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, stats)
}
