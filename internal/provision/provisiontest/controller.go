// Package provisiontest provides an in-process VM controller for tests.
package provisiontest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/jbweber/homelab/loft/internal/provision"
)

// Controller is a fake VM controller. New domains start running.
type Controller struct {
	*httptest.Server

	mu          sync.Mutex
	domains     map[string]string
	created     []provision.CreateRequest
	calls       []string
	nextID      int
	failing     bool
	nullRunning bool
}

// NewController starts a fake controller that is shut down when t finishes.
func NewController(t testing.TB) *Controller {
	c := &Controller{domains: map[string]string{}}

	r := chi.NewRouter()
	r.Use(c.record)
	r.Post("/domains", c.create)
	r.Get("/domains", c.running)
	r.Get("/domains/{id}", c.status)
	r.Delete("/domains/{id}", c.delete)
	r.Post("/domains/{id}/{action}", c.action)

	c.Server = httptest.NewServer(r)
	t.Cleanup(c.Close)
	return c
}

// SetFailing makes every endpoint answer 500 while on is true.
func (c *Controller) SetFailing(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failing = on
}

// SetNullRunning makes the running query answer {"domains": null}.
func (c *Controller) SetNullRunning(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nullRunning = on
}

// SetStatus forces the status of a domain.
func (c *Controller) SetStatus(id, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.domains[id] = status
}

// Status returns the status of a domain and whether it exists.
func (c *Controller) Status(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.domains[id]
	return status, ok
}

// Created returns every create request received, in order.
func (c *Controller) Created() []provision.CreateRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]provision.CreateRequest(nil), c.created...)
}

// Calls returns "METHOD path" for every request received, in order.
func (c *Controller) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *Controller) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.calls = append(c.calls, r.Method+" "+r.URL.Path)
		failing := c.failing
		c.mu.Unlock()

		if failing {
			http.Error(w, "controller unavailable", http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (c *Controller) create(w http.ResponseWriter, r *http.Request) {
	var req provision.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c.mu.Lock()
	c.nextID++
	id := fmt.Sprintf("dom-%04d", c.nextID)
	c.domains[id] = provision.StateRunning
	c.created = append(c.created, req)
	c.mu.Unlock()

	writeJSON(w, map[string]string{"id": id})
}

func (c *Controller) running(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nullRunning {
		writeJSON(w, map[string]any{"domains": nil})
		return
	}

	running := []string{}
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if c.domains[id] == provision.StateRunning {
			running = append(running, id)
		}
	}
	writeJSON(w, map[string]any{"domains": running})
}

func (c *Controller) status(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	status, ok := c.domains[chi.URLParam(r, "id")]
	c.mu.Unlock()

	if !ok {
		http.Error(w, "no such domain", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{"status": status})
}

func (c *Controller) delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c.mu.Lock()
	_, ok := c.domains[id]
	delete(c.domains, id)
	c.mu.Unlock()

	if !ok {
		http.Error(w, "no such domain", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Controller) action(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.domains[id]; !ok {
		http.Error(w, "no such domain", http.StatusNotFound)
		return
	}
	switch chi.URLParam(r, "action") {
	case "shutdown":
		c.domains[id] = "shut off"
	case "power_on", "restart":
		c.domains[id] = provision.StateRunning
	default:
		http.Error(w, "unknown action", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
