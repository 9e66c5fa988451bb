package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jbweber/homelab/loft/internal/apperr"
	"github.com/jbweber/homelab/loft/internal/domain"
	"github.com/jbweber/homelab/loft/internal/repository"
)

// ScriptStore defines the datastore interface for setup script handlers
type ScriptStore interface {
	Save(ctx context.Context, script domain.SetupScript) (domain.SetupScript, error)
	FindByID(ctx context.Context, id int64) (domain.SetupScript, error)
	FindAll(ctx context.Context) ([]domain.SetupScript, error)
	DeleteByID(ctx context.Context, id int64) error
}

// Scripts groups setup script handlers
type Scripts struct {
	store ScriptStore
}

func NewScripts(store ScriptStore) *Scripts {
	return &Scripts{store: store}
}

type ScriptRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Script      string  `json:"script"`
}

type ScriptResponse struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Script      string  `json:"script"`
	AuthorID    int32   `json:"author_id"`
}

func toScriptResponse(s domain.SetupScript) ScriptResponse {
	return ScriptResponse{
		ID:          s.ID,
		Title:       s.Title,
		Description: s.Description,
		Script:      s.Script,
		AuthorID:    s.AuthorID,
	}
}

func (req ScriptRequest) validate() error {
	if strings.TrimSpace(req.Title) == "" {
		return apperr.BadRequest("Title is required")
	}
	if strings.TrimSpace(req.Script) == "" {
		return apperr.BadRequest("Script is required")
	}
	return nil
}

func scriptID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.BadRequest("Invalid setup script ID")
	}
	return id, nil
}

func scriptError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("Setup script not found")
	}
	return apperr.Internal(err)
}

func (s *Scripts) CreateScriptHandler(w http.ResponseWriter, r *http.Request) {
	authorID, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req ScriptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, err)
		return
	}

	saved, err := s.store.Save(r.Context(), domain.SetupScript{
		Title:       req.Title,
		Description: req.Description,
		Script:      req.Script,
		AuthorID:    authorID,
	})
	if err != nil {
		writeError(w, r, apperr.Internal(err))
		return
	}
	writeJSON(w, r, http.StatusCreated, toScriptResponse(saved))
}

func (s *Scripts) ListScriptsHandler(w http.ResponseWriter, r *http.Request) {
	scripts, err := s.store.FindAll(r.Context())
	if err != nil {
		writeError(w, r, apperr.Internal(err))
		return
	}
	response := make([]ScriptResponse, len(scripts))
	for i, script := range scripts {
		response[i] = toScriptResponse(script)
	}
	writeJSON(w, r, http.StatusOK, response)
}

func (s *Scripts) GetScriptHandler(w http.ResponseWriter, r *http.Request) {
	id, err := scriptID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	script, err := s.store.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, r, scriptError(err))
		return
	}
	writeJSON(w, r, http.StatusOK, toScriptResponse(script))
}

// UpdateScriptHandler replaces a script. Scripts of other authors are reported as not found.
func (s *Scripts) UpdateScriptHandler(w http.ResponseWriter, r *http.Request) {
	authorID, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := scriptID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req ScriptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, err)
		return
	}

	_, err = s.store.Save(r.Context(), domain.SetupScript{
		ID:          id,
		Title:       req.Title,
		Description: req.Description,
		Script:      req.Script,
		AuthorID:    authorID,
	})
	if err != nil {
		writeError(w, r, scriptError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Scripts) DeleteScriptHandler(w http.ResponseWriter, r *http.Request) {
	authorID, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := scriptID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	script, err := s.store.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, r, scriptError(err))
		return
	}
	if script.AuthorID != authorID {
		writeError(w, r, scriptError(fmt.Errorf("setup script %d belongs to another author: %w", id, repository.ErrNotFound)))
		return
	}
	if err := s.store.DeleteByID(r.Context(), id); err != nil {
		writeError(w, r, scriptError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
