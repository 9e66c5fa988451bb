package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jbweber/homelab/loft/internal/account"
	"github.com/jbweber/homelab/loft/internal/api"
	"github.com/jbweber/homelab/loft/internal/domain"
	"github.com/jbweber/homelab/loft/internal/kv"
	"github.com/jbweber/homelab/loft/internal/lifecycle"
	"github.com/jbweber/homelab/loft/internal/provision"
	"github.com/jbweber/homelab/loft/internal/provision/provisiontest"
	"github.com/jbweber/homelab/loft/internal/repository"
	"github.com/jbweber/homelab/loft/internal/testutil"
	"github.com/jbweber/homelab/loft/internal/token"
)

type inbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (i *inbox) SendPasscode(ctx context.Context, to, code string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.codes[to] = code
	return nil
}

func (i *inbox) code(to string) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.codes[to]
}

type stack struct {
	srv   *httptest.Server
	ctrl  *provisiontest.Controller
	inbox *inbox
}

func newStack(t *testing.T) stack {
	t.Helper()
	ds, cleanup := testutil.SetupTestDatastore(t, t.Name())
	t.Cleanup(cleanup)

	sessions, err := repository.NewSessionRepository(ds)
	require.NoError(t, err)

	mailbox := &inbox{codes: map[string]string{}}
	accounts := account.NewService(
		repository.NewUserRepository(ds),
		sessions,
		kv.NewMemoryStore(),
		mailbox,
		time.Hour,
		account.WithBcryptCost(bcrypt.MinCost),
	)

	ctrl := provisiontest.NewController(t)
	servers, err := lifecycle.NewService(
		repository.NewServerRepository(ds),
		repository.NewScriptRepository(ds),
		provision.NewClient(ctrl.URL, 5*time.Second),
		[]domain.Plan{
			{ID: 1, Name: "small", Resources: domain.PlanResources{CPU: 1, Memory: 2048, Disk: 25}},
			{ID: 2, Name: "large", Resources: domain.PlanResources{CPU: 4, Memory: 8192, Disk: 100}},
		},
		domain.Network{CIDR: "10.0.0.0/29", Gateway: "10.0.0.1", Interface: "eth0"},
	)
	require.NoError(t, err)

	a := api.NewAPI(servers, accounts, repository.NewScriptRepository(ds), token.NewService(sessions))
	srv := httptest.NewServer(a.Router(zerolog.Nop()))
	t.Cleanup(srv.Close)

	return stack{srv: srv, ctrl: ctrl, inbox: mailbox}
}

func (s stack) call(t *testing.T, method, path, bearer string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := s.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// signup registers username and returns a session token.
func (s stack) signup(t *testing.T, username string) string {
	t.Helper()
	email := username + "@example.com"

	var pending api.TokenResponse
	require.Equal(t, http.StatusOK, s.call(t, http.MethodPost, "/users", "", api.SignupRequest{Username: username, Email: email}, &pending))
	require.NotEmpty(t, pending.Token)

	var session api.TokenResponse
	status := s.call(t, http.MethodPost, "/users/register", "", api.RegisterRequest{
		Token:    pending.Token,
		Code:     s.inbox.code(email),
		Password: "correct horse",
	}, &session)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, session.Token)
	return session.Token
}

func TestEndToEnd_ServerLifecycle(t *testing.T) {
	s := newStack(t)
	alice := s.signup(t, "alice")

	var created api.ServerResponse
	status := s.call(t, http.MethodPost, "/servers", alice, api.CreateServerRequest{Name: "web", ServerPassword: "pw", Plan: 1}, &created)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "10.0.0.2", created.IPAddress)
	assert.Equal(t, "online", created.Status)
	assert.Equal(t, 1, created.Plan)

	reqs := s.ctrl.Created()
	require.Len(t, reqs, 1)
	assert.Equal(t, "10.0.0.2/29", reqs[0].Network.Address)

	var list []api.ServerResponse
	require.Equal(t, http.StatusOK, s.call(t, http.MethodGet, "/users/@me/servers", alice, nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	require.Equal(t, http.StatusNoContent, s.call(t, http.MethodPost, "/servers/"+created.ID+"/shutdown", alice, nil, nil))
	var got api.ServerResponse
	require.Equal(t, http.StatusOK, s.call(t, http.MethodGet, "/servers/"+created.ID, alice, nil, &got))
	assert.Equal(t, "offline", got.Status)

	require.Equal(t, http.StatusNoContent, s.call(t, http.MethodPost, "/servers/"+created.ID+"/power_on", alice, nil, nil))
	require.Equal(t, http.StatusNoContent, s.call(t, http.MethodPost, "/servers/"+created.ID+"/restart", alice, nil, nil))
	require.Equal(t, http.StatusNoContent, s.call(t, http.MethodDelete, "/servers/"+created.ID, alice, nil, nil))
	assert.Equal(t, http.StatusNotFound, s.call(t, http.MethodGet, "/servers/"+created.ID, alice, nil, nil))

	// the freed address is handed out again
	var again api.ServerResponse
	require.Equal(t, http.StatusCreated, s.call(t, http.MethodPost, "/servers", alice, api.CreateServerRequest{Name: "web2", ServerPassword: "pw", Plan: 2}, &again))
	assert.Equal(t, "10.0.0.2", again.IPAddress)
}

func TestEndToEnd_OwnershipIsolation(t *testing.T) {
	s := newStack(t)
	alice := s.signup(t, "alice")
	bob := s.signup(t, "bob")

	var created api.ServerResponse
	require.Equal(t, http.StatusCreated, s.call(t, http.MethodPost, "/servers", alice, api.CreateServerRequest{Name: "web", ServerPassword: "pw", Plan: 1}, &created))

	assert.Equal(t, http.StatusNotFound, s.call(t, http.MethodGet, "/servers/"+created.ID, bob, nil, nil))
	assert.Equal(t, http.StatusNotFound, s.call(t, http.MethodDelete, "/servers/"+created.ID, bob, nil, nil))
	assert.Equal(t, http.StatusNotFound, s.call(t, http.MethodPost, "/servers/"+created.ID+"/shutdown", bob, nil, nil))

	var list []api.ServerResponse
	require.Equal(t, http.StatusOK, s.call(t, http.MethodGet, "/users/@me/servers", bob, nil, &list))
	assert.Empty(t, list)

	state, ok := s.ctrl.Status(created.ID)
	require.True(t, ok)
	assert.Equal(t, provision.StateRunning, state)
}

func TestEndToEnd_ScriptPassedToController(t *testing.T) {
	s := newStack(t)
	alice := s.signup(t, "alice")

	var script api.ScriptResponse
	require.Equal(t, http.StatusCreated, s.call(t, http.MethodPost, "/setup_scripts", alice, api.ScriptRequest{Title: "hello", Script: "echo hello"}, &script))

	var created api.ServerResponse
	require.Equal(t, http.StatusCreated, s.call(t, http.MethodPost, "/servers", alice, api.CreateServerRequest{
		Name: "web", ServerPassword: "pw", Plan: 1, ScriptID: &script.ID,
	}, &created))

	reqs := s.ctrl.Created()
	require.Len(t, reqs, 1)
	require.NotNil(t, reqs[0].Script)
	assert.Equal(t, "echo hello", *reqs[0].Script)

	missing := script.ID + 100
	assert.Equal(t, http.StatusBadRequest, s.call(t, http.MethodPost, "/servers", alice, api.CreateServerRequest{
		Name: "web", ServerPassword: "pw", Plan: 1, ScriptID: &missing,
	}, nil))
}

func TestEndToEnd_ControllerDown(t *testing.T) {
	s := newStack(t)
	alice := s.signup(t, "alice")
	s.ctrl.SetFailing(true)

	assert.Equal(t, http.StatusBadGateway, s.call(t, http.MethodPost, "/servers", alice, api.CreateServerRequest{Name: "web", ServerPassword: "pw", Plan: 1}, nil))

	var list []api.ServerResponse
	require.Equal(t, http.StatusOK, s.call(t, http.MethodGet, "/users/@me/servers", alice, nil, &list))
	assert.Empty(t, list)
}

func TestEndToEnd_Sessions(t *testing.T) {
	s := newStack(t)
	first := s.signup(t, "alice")

	var second api.TokenResponse
	require.Equal(t, http.StatusOK, s.call(t, http.MethodPost, "/login", "", api.LoginRequest{Username: "alice", Password: "correct horse"}, &second))
	assert.NotEqual(t, first, second.Token)

	assert.Equal(t, http.StatusUnauthorized, s.call(t, http.MethodPost, "/login", "", api.LoginRequest{Username: "alice", Password: "wrong"}, nil))
	assert.Equal(t, http.StatusUnauthorized, s.call(t, http.MethodGet, "/users/@me/servers", "not-a-token", nil, nil))

	// logging out revokes only the token used
	require.Equal(t, http.StatusNoContent, s.call(t, http.MethodDelete, "/sessions/@me", first, nil, nil))
	assert.Equal(t, http.StatusUnauthorized, s.call(t, http.MethodGet, "/users/@me/servers", first, nil, nil))
	assert.Equal(t, http.StatusOK, s.call(t, http.MethodGet, "/users/@me/servers", second.Token, nil, nil))

	var revoked api.LogoutAllResponse
	require.Equal(t, http.StatusOK, s.call(t, http.MethodDelete, "/users/@me/sessions", second.Token, nil, &revoked))
	assert.Equal(t, int64(1), revoked.Revoked)
	assert.Equal(t, http.StatusUnauthorized, s.call(t, http.MethodGet, "/users/@me/servers", second.Token, nil, nil))
}

func TestEndToEnd_DuplicateSignup(t *testing.T) {
	s := newStack(t)
	s.signup(t, "alice")

	var pending api.TokenResponse
	require.Equal(t, http.StatusOK, s.call(t, http.MethodPost, "/users", "", api.SignupRequest{Username: "alice", Email: "other@example.com"}, &pending))
	status := s.call(t, http.MethodPost, "/users/register", "", api.RegisterRequest{
		Token:    pending.Token,
		Code:     s.inbox.code("other@example.com"),
		Password: "correct horse",
	}, nil)
	assert.Equal(t, http.StatusConflict, status)
}
