package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jbweber/homelab/loft/internal/domain"
	"github.com/jbweber/homelab/loft/internal/lifecycle"
)

// ServerService is the server lifecycle as seen by the handlers
type ServerService interface {
	Create(ctx context.Context, p lifecycle.CreateParams) (domain.ServerView, error)
	List(ctx context.Context, ownerID int32) ([]domain.ServerView, error)
	Get(ctx context.Context, ownerID int32, id string) (domain.ServerView, error)
	Delete(ctx context.Context, ownerID int32, id string) error
	Shutdown(ctx context.Context, ownerID int32, id string) error
	PowerOn(ctx context.Context, ownerID int32, id string) error
	Restart(ctx context.Context, ownerID int32, id string) error
	Plans() []domain.Plan
}

// Servers groups server and plan handlers for testability
type Servers struct {
	svc ServerService
}

func NewServers(svc ServerService) *Servers {
	return &Servers{svc: svc}
}

type CreateServerRequest struct {
	Name           string `json:"name"`
	ServerPassword string `json:"server_password"`
	Plan           int    `json:"plan"`
	ScriptID       *int64 `json:"script_id,omitempty"`
	IPAddress      string `json:"ip_address,omitempty"`
}

type ServerResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Plan      int    `json:"plan"`
	IPAddress string `json:"ip_address"`
	Status    string `json:"status"`
}

type PlansResponse struct {
	Plans []domain.Plan `json:"plans"`
}

func toServerResponse(v domain.ServerView) ServerResponse {
	return ServerResponse{
		ID:        v.ID,
		Name:      v.Name,
		Plan:      v.PlanID,
		IPAddress: v.IPAddress,
		Status:    string(v.Status),
	}
}

func (s *Servers) CreateServerHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req CreateServerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	view, err := s.svc.Create(r.Context(), lifecycle.CreateParams{
		OwnerID:   ownerID,
		Name:      req.Name,
		Password:  req.ServerPassword,
		PlanID:    req.Plan,
		ScriptID:  req.ScriptID,
		IPAddress: req.IPAddress,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, toServerResponse(view))
}

func (s *Servers) ListServersHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views, err := s.svc.List(r.Context(), ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	response := make([]ServerResponse, len(views))
	for i, v := range views {
		response[i] = toServerResponse(v)
	}
	writeJSON(w, r, http.StatusOK, response)
}

func (s *Servers) GetServerHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := s.svc.Get(r.Context(), ownerID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toServerResponse(view))
}

func (s *Servers) DeleteServerHandler(w http.ResponseWriter, r *http.Request) {
	s.act(w, r, s.svc.Delete)
}

func (s *Servers) ShutdownHandler(w http.ResponseWriter, r *http.Request) {
	s.act(w, r, s.svc.Shutdown)
}

func (s *Servers) PowerOnHandler(w http.ResponseWriter, r *http.Request) {
	s.act(w, r, s.svc.PowerOn)
}

func (s *Servers) RestartHandler(w http.ResponseWriter, r *http.Request) {
	s.act(w, r, s.svc.Restart)
}

// act runs an owner-scoped operation on the server named in the path and answers 204.
func (s *Servers) act(w http.ResponseWriter, r *http.Request, op func(context.Context, int32, string) error) {
	ownerID, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := op(r.Context(), ownerID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Servers) ListPlansHandler(w http.ResponseWriter, r *http.Request) {
	plans := s.svc.Plans()
	if plans == nil {
		plans = []domain.Plan{}
	}
	writeJSON(w, r, http.StatusOK, PlansResponse{Plans: plans})
}
