package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// API holds the services behind the HTTP surface
type API struct {
	servers  *Servers
	accounts *Accounts
	scripts  *Scripts
	auth     Authorizer
}

// NewAPI creates a new API from its services
func NewAPI(servers ServerService, accounts AccountService, scripts ScriptStore, auth Authorizer) *API {
	return &API{
		servers:  NewServers(servers),
		accounts: NewAccounts(accounts),
		scripts:  NewScripts(scripts),
		auth:     auth,
	}
}

// Router returns a chi router with logging, panic recovery and every route registered.
func (a *API) Router(logger zerolog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all API endpoints to the given chi router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/", livenessHandler)

	// Public endpoints
	r.Get("/plans", a.servers.ListPlansHandler)
	r.Post("/users", a.accounts.SignupHandler)
	r.Post("/users/register", a.accounts.RegisterHandler)
	r.Post("/login", a.accounts.LoginHandler)

	// Authenticated endpoints
	r.Group(func(r chi.Router) {
		r.Use(Authenticate(a.auth))

		r.Delete("/sessions/@me", a.accounts.LogoutHandler)
		r.Delete("/users/@me/sessions", a.accounts.LogoutAllHandler)
		r.Get("/users/@me/servers", a.servers.ListServersHandler)

		r.Route("/servers", func(r chi.Router) {
			r.Post("/", a.servers.CreateServerHandler)
			r.Get("/{id}", a.servers.GetServerHandler)
			r.Delete("/{id}", a.servers.DeleteServerHandler)
			r.Post("/{id}/shutdown", a.servers.ShutdownHandler)
			r.Post("/{id}/power_on", a.servers.PowerOnHandler)
			r.Post("/{id}/restart", a.servers.RestartHandler)
		})

		r.Route("/setup_scripts", func(r chi.Router) {
			r.Get("/", a.scripts.ListScriptsHandler)
			r.Post("/", a.scripts.CreateScriptHandler)
			r.Get("/{id}", a.scripts.GetScriptHandler)
			r.Put("/{id}", a.scripts.UpdateScriptHandler)
			r.Delete("/{id}", a.scripts.DeleteScriptHandler)
		})
	})
}

func livenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if _, err := fmt.Fprintln(w, "Loft control panel is running!"); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to write response")
	}
}
