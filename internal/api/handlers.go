package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/crewmesh/crewmesh/internal/database"
	"github.com/crewmesh/crewmesh/internal/registry"
	"github.com/crewmesh/crewmesh/internal/router"
	"github.com/crewmesh/crewmesh/pkg/types"
)

// handleTasks handles POST /api/v1/tasks
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var task types.TaskRequest
	if err := s.parseJSON(r, &task); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid task payload: "+err.Error())
		return
	}

	decision, err := s.coordinator.SubmitTask(r.Context(), &task)
	if err != nil {
		if errors.Is(err, router.ErrNoAgentAvailable) {
			s.respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, decision)
}

// batchResponse is the wire shape of one batch routing result.
type batchResponse struct {
	TaskID   string          `json:"task_id"`
	Decision router.Decision `json:"decision,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// handleTaskBatch handles POST /api/v1/tasks/batch
func (s *Server) handleTaskBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var tasks []*types.TaskRequest
	if err := s.parseJSON(r, &tasks); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid batch payload: "+err.Error())
		return
	}

	results := s.coordinator.SubmitBatch(r.Context(), tasks)
	out := make([]batchResponse, 0, len(results))
	for _, res := range results {
		br := batchResponse{TaskID: res.Task.ID, Decision: res.Decision}
		if res.Err != nil {
			br.Error = res.Err.Error()
		}
		out = append(out, br)
	}
	s.respondJSON(w, http.StatusOK, out)
}

// handleOutcomes handles POST /api/v1/outcomes
func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var report types.OutcomeReport
	if err := s.parseJSON(r, &report); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid outcome payload: "+err.Error())
		return
	}

	if err := s.coordinator.ReportOutcome(&report); err != nil {
		if errors.Is(err, registry.ErrUnknownAgent) {
			s.respondError(w, http.StatusNotFound, err.Error())
			return
		}
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// handleAgents handles GET and POST /api/v1/agents
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.respondJSON(w, http.StatusOK, s.coordinator.ListAgents())
	case http.MethodPost:
		var agent types.Agent
		if err := s.parseJSON(r, &agent); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid agent payload: "+err.Error())
			return
		}
		if err := s.coordinator.RegisterAgent(&agent); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.respondJSON(w, http.StatusCreated, agent)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleAgent handles /api/v1/agents/{id} and /api/v1/agents/{id}/metrics
func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	id := s.extractID(r.URL.Path, "/api/v1/agents")
	if id == "" {
		s.respondError(w, http.StatusBadRequest, "agent id is required")
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/v1/agents/"+id+"/metrics" {
		s.respondJSON(w, http.StatusOK, s.coordinator.AgentMetrics(id))
		return
	}

	switch r.Method {
	case http.MethodGet:
		agent, err := s.coordinator.GetAgent(id)
		if err != nil {
			s.respondError(w, http.StatusNotFound, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, agent)
	case http.MethodDelete:
		if err := s.coordinator.DeregisterAgent(id); err != nil {
			s.respondError(w, http.StatusNotFound, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "deregistered"})
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleWorkload handles GET /api/v1/workload
func (s *Server) handleWorkload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, s.coordinator.Workload())
}

// handleInsights handles GET /api/v1/insights
func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, s.coordinator.Insights())
}

// handlePatterns handles GET /api/v1/patterns
func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, s.coordinator.TaskPatterns())
}

// handleFailures handles GET /api/v1/failures
func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, s.coordinator.FailurePatterns())
}

// handleImprovements handles GET /api/v1/improvements
func (s *Server) handleImprovements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	improvements, err := s.coordinator.Improvements()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, improvements)
}

// handleGenerateImprovements handles POST /api/v1/improvements/generate
func (s *Server) handleGenerateImprovements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, s.coordinator.GenerateImprovements())
}

// handleSendMessage handles POST /api/v1/messages
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var msg types.Message
	if err := s.parseJSON(r, &msg); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid message payload: "+err.Error())
		return
	}
	if err := s.coordinator.SendMessage(r.Context(), &msg); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, msg)
}

// handleReadMessages handles GET /api/v1/messages/{agent}
func (s *Server) handleReadMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	agentID := s.extractID(r.URL.Path, "/api/v1/messages")
	if agentID == "" {
		s.respondError(w, http.StatusBadRequest, "agent id is required")
		return
	}

	messages, err := s.coordinator.ReadMessages(r.Context(), agentID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if messages == nil {
		messages = []*types.Message{}
	}
	s.respondJSON(w, http.StatusOK, messages)
}

// handleAudit handles GET /api/v1/audit with kind, agent_id, task_id,
// since (RFC 3339), and limit query parameters.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	filter := database.AuditFilter{
		Kind:    types.AuditKind(r.URL.Query().Get("kind")),
		AgentID: r.URL.Query().Get("agent_id"),
		TaskID:  r.URL.Query().Get("task_id"),
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		filter.Since = since
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	events, err := s.coordinator.Trail().Query(filter)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []types.AuditEvent{}
	}
	s.respondJSON(w, http.StatusOK, events)
}
