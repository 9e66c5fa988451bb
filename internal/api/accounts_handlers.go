package api

import (
	"context"
	"net/http"
)

// AccountService is the signup and session flow as seen by the handlers
type AccountService interface {
	Signup(ctx context.Context, username, email string) (string, error)
	Register(ctx context.Context, pendingToken, code, password string) (string, error)
	Login(ctx context.Context, username, password string) (string, error)
	Logout(ctx context.Context, encoded string) error
	LogoutAll(ctx context.Context, userID int32) (int64, error)
}

// Accounts groups signup, login and session handlers
type Accounts struct {
	svc AccountService
}

func NewAccounts(svc AccountService) *Accounts {
	return &Accounts{svc: svc}
}

type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type RegisterRequest struct {
	Token    string `json:"token"`
	Code     string `json:"code"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LogoutAllResponse struct {
	Revoked int64 `json:"revoked"`
}

// SignupHandler starts a registration and returns the pending registration token.
func (a *Accounts) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	pending, err := a.svc.Signup(r.Context(), req.Username, req.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, TokenResponse{Token: pending})
}

// RegisterHandler completes a registration and returns a session token.
func (a *Accounts) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	session, err := a.svc.Register(r.Context(), req.Token, req.Code, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, TokenResponse{Token: session})
}

func (a *Accounts) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	session, err := a.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, TokenResponse{Token: session})
}

// LogoutHandler revokes the session the request was authenticated with.
func (a *Accounts) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Logout(r.Context(), bearerFrom(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAllHandler revokes every session of the caller, including the current one.
func (a *Accounts) LogoutAllHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := a.svc.LogoutAll(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, LogoutAllResponse{Revoked: n})
}
