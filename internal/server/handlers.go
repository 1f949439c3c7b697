package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/me/genq/pkg/model"
)

// submitRequest is the POST /generations payload.
type submitRequest struct {
	Messages    []model.Message `json:"messages"`
	Model       string          `json:"model,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	MinTokens   int             `json:"min_tokens,omitempty"`
	MaxRetries  int             `json:"max_retries,omitempty"`
	TaskID      string          `json:"task_id,omitempty"`
}

// generationInfo is the live-task view returned for submitted and
// queried generations.
type generationInfo struct {
	TaskID string           `json:"task_id"`
	Status model.TaskStatus `json:"status"`
}

// handleHealth reports liveness and uptime.
// GET /api/v1/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondOK(w, RequestIDFromContext(r.Context()), map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

// handleState returns the current engine snapshot.
// GET /api/v1/state
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	respondOK(w, RequestIDFromContext(r.Context()), s.engine.State())
}

// handleSubmit enqueues a background generation task.
// POST /api/v1/generations
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid JSON body: "+err.Error()))
		return
	}
	if len(req.Messages) == 0 {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("messages must not be empty"))
		return
	}

	mdl := req.Model
	if mdl == "" {
		mdl = s.config.Model
	}
	params := model.Params{
		Model:       mdl,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		MinTokens:   req.MinTokens,
		MaxRetries:  req.MaxRetries,
		TaskID:      req.TaskID,
	}

	// The task outlives this request: its cancellation is driven by the
	// cancel endpoints, not by r.Context().
	h, err := s.engine.Submit(context.Background(), model.FromMessages(req.Messages...), params, nil, model.BehaviourBackground)
	if err != nil {
		respondError(w, reqID, http.StatusConflict, model.NewConflictError(err.Error()))
		return
	}

	respondCreated(w, reqID, generationInfo{TaskID: h.ID(), Status: s.engine.TaskStatus(h.ID())})
}

// handleGetGeneration reports a task's live status, falling back to the
// journal for settled tasks.
// GET /api/v1/generations/{id}
func (s *Server) handleGetGeneration(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if st := s.engine.TaskStatus(id); st != model.TaskStatusNotFound {
		respondOK(w, reqID, generationInfo{TaskID: id, Status: st})
		return
	}

	if s.history != nil {
		rec, err := s.history.Get(r.Context(), id)
		if err != nil {
			respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
			return
		}
		if rec != nil {
			respondOK(w, reqID, rec)
			return
		}
	}

	respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("generation", id))
}

// handleCancelQueued removes a queued task.
// DELETE /api/v1/generations/{id}
func (s *Server) handleCancelQueued(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	cancelled := s.engine.CancelQueued(id)
	if !cancelled {
		respondError(w, reqID, http.StatusConflict,
			model.NewConflictError("task is currently executing; cancel all to abort it"))
		return
	}
	respondOK(w, reqID, map[string]any{"task_id": id, "cancelled": true})
}

// handleCancelAll clears the queue and aborts the active task.
// DELETE /api/v1/generations
func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	s.engine.CancelAll()
	respondOK(w, RequestIDFromContext(r.Context()), map[string]any{"cancelled": true})
}

// handleInteraction delivers the user-interaction signal.
// POST /api/v1/interactions
func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	s.engine.UserInteraction()
	respondOK(w, RequestIDFromContext(r.Context()), map[string]any{"delivered": true})
}

// handleListHistory lists settled generations, newest first.
// GET /api/v1/history?limit=&offset=&status=
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if s.history == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("journal", "history"))
		return
	}

	opts := model.DefaultListOptions()
	if v := r.URL.Query().Get("limit"); v != "" {
		opts.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		opts.Offset, _ = strconv.Atoi(v)
	}
	opts.Status = r.URL.Query().Get("status")
	opts.Clamp()

	recs, total, err := s.history.List(r.Context(), opts)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}

	respondList(w, reqID, recs, &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+len(recs) < total,
	})
}
