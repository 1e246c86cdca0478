package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/grindstone-hq/grindstone/internal/application/engine"
	"github.com/grindstone-hq/grindstone/internal/domain/ledger"
	"github.com/grindstone-hq/grindstone/internal/domain/task"
)

const (
	defaultTransactionLimit = 20
	maxTransactionLimit     = 500
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth reports dependency health; unrelated to the engine's
// healthy/warning/dying tier, which lives in /api/state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Healthy {
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// STATE
// ══════════════════════════════════════════════════════════════════════════════

// handleGetState handles GET /api/state
func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Engine.State())
}

// handleGetAchievements handles GET /api/achievements
func (s *Server) handleGetAchievements(w http.ResponseWriter, _ *http.Request) {
	unlocked := s.deps.Engine.Achievements()
	writeJSONWithMeta(w, http.StatusOK, unlocked, &ResponseMeta{TotalCount: len(unlocked)})
}

// handleGetTransactions handles GET /api/transactions?limit=20&archive=true
func (s *Server) handleGetTransactions(w http.ResponseWriter, r *http.Request) {
	limit := getQueryParamInt(r, "limit", defaultTransactionLimit)
	if limit <= 0 || limit > maxTransactionLimit {
		writeJSONError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 500")
		return
	}

	var txs []ledger.Transaction
	if r.URL.Query().Get("archive") == "true" {
		var err error
		txs, err = s.deps.Engine.History(r.Context(), limit)
		if err != nil {
			s.logger.Error("failed to read transaction archive", "error", err)
			writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to read transaction archive")
			return
		}
	} else {
		txs = s.deps.Engine.Transactions(limit)
	}
	if txs == nil {
		txs = []ledger.Transaction{}
	}
	writeJSONWithMeta(w, http.StatusOK, txs, &ResponseMeta{TotalCount: len(txs)})
}

// handleGetNotifications handles GET /api/notifications?limit=20
func (s *Server) handleGetNotifications(w http.ResponseWriter, r *http.Request) {
	limit := getQueryParamInt(r, "limit", defaultTransactionLimit)
	if limit <= 0 || limit > maxTransactionLimit {
		writeJSONError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 500")
		return
	}
	notes := s.deps.Notifications.Recent(limit)
	writeJSONWithMeta(w, http.StatusOK, notes, &ResponseMeta{TotalCount: len(notes)})
}

// handleActivity handles POST /api/activity
func (s *Server) handleActivity(w http.ResponseWriter, _ *http.Request) {
	s.deps.Engine.RecordActivity()
	w.WriteHeader(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════════════════════
// TASKS
// ══════════════════════════════════════════════════════════════════════════════

type createTaskRequest struct {
	Title    string        `json:"title"`
	XPReward int           `json:"xp_reward"`
	Priority task.Priority `json:"priority"`
}

type updateTaskRequest struct {
	Title    *string        `json:"title"`
	XPReward *int           `json:"xp_reward"`
	Priority *task.Priority `json:"priority"`
}

// resolveResponse wraps the engine result; Applied is false when the engine
// ignored the request (unknown or resolved task, busy ledger).
type resolveResponse struct {
	Applied bool                `json:"applied"`
	Result  *engine.ApplyResult `json:"result,omitempty"`
}

// handleListTasks handles GET /api/tasks?status=active
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status := task.Status(strings.ToLower(r.URL.Query().Get("status")))
	if status != "" && !status.IsValid() {
		writeJSONError(w, http.StatusBadRequest, "invalid_status", "Unknown task status "+string(status))
		return
	}
	tasks := s.deps.Engine.ListTasks(task.Filter{Status: status})
	writeJSONWithMeta(w, http.StatusOK, tasks, &ResponseMeta{TotalCount: len(tasks)})
}

// handleCreateTask handles POST /api/tasks
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	t, err := s.deps.Engine.CreateTask(r.Context(), req.Title, req.XPReward, req.Priority)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// handleGetTask handles GET /api/tasks/{id}
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.deps.Engine.GetTask(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleUpdateTask handles PATCH /api/tasks/{id}
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req updateTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	t, err := s.deps.Engine.UpdateTask(r.Context(), chi.URLParam(r, "id"), task.Update{
		Title:    req.Title,
		XPReward: req.XPReward,
		Priority: req.Priority,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleDeleteTask handles DELETE /api/tasks/{id}
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Engine.DeleteTask(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleResolveTask handles POST /api/tasks/{id}/{complete,fail,abandon}.
// An ignored request answers 409 with applied=false.
func (s *Server) handleResolveTask(to task.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var res *engine.ApplyResult
		switch to {
		case task.StatusCompleted:
			res = s.deps.Engine.CompleteTask(r.Context(), id)
		case task.StatusFailed:
			res = s.deps.Engine.FailTask(r.Context(), id)
		default:
			res = s.deps.Engine.AbandonTask(r.Context(), id)
		}

		if res == nil {
			writeJSON(w, http.StatusConflict, resolveResponse{Applied: false})
			return
		}
		writeJSON(w, http.StatusOK, resolveResponse{Applied: true, Result: res})
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN
// ══════════════════════════════════════════════════════════════════════════════

type amountRequest struct {
	Amount int `json:"amount"`
}

type levelRequest struct {
	Level int `json:"level"`
}

// handleAdminAddXP handles POST /api/admin/xp
func (s *Server) handleAdminAddXP(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	s.writeAdminResult(w, r, "add_xp")(s.deps.Engine.AddXP(r.Context(), req.Amount))
}

// handleAdminSetLevel handles POST /api/admin/level
func (s *Server) handleAdminSetLevel(w http.ResponseWriter, r *http.Request) {
	var req levelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	s.writeAdminResult(w, r, "set_level")(s.deps.Engine.SetLevel(r.Context(), req.Level))
}

// handleAdminDemote handles POST /api/admin/demote
func (s *Server) handleAdminDemote(w http.ResponseWriter, r *http.Request) {
	s.writeAdminResult(w, r, "demote")(s.deps.Engine.ForceDemote(r.Context()))
}

// handleAdminReset handles POST /api/admin/reset
func (s *Server) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Engine.ResetAll(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	s.logger.Warn("admin reset via api", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, s.deps.Engine.State())
}

func (s *Server) writeAdminResult(w http.ResponseWriter, r *http.Request, op string) func(*engine.ApplyResult, error) {
	return func(res *engine.ApplyResult, err error) {
		if err != nil {
			writeDomainError(w, err)
			return
		}
		s.logger.Warn("admin command via api", "op", op, "remote", r.RemoteAddr)
		if res == nil {
			writeJSON(w, http.StatusConflict, resolveResponse{Applied: false})
			return
		}
		writeJSON(w, http.StatusOK, resolveResponse{Applied: true, Result: res})
	}
}
