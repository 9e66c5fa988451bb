// Package provision is the HTTP client of the remote VM controller that
// creates, deletes and power-cycles domains.
package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jbweber/homelab/loft/internal/apperr"
)

// StateRunning is the controller's status string for a running domain
const StateRunning = "running"

const maxErrorBody = 4 << 10

// Network is the addressing handed to a new domain. Address is in "ip/prefix" form.
type Network struct {
	Address   string `json:"address"`
	Gateway   string `json:"gateway"`
	Interface string `json:"interface"`
}

// Resources is the sizing of a new domain. Memory is in GiB, Disk like "20G".
type Resources struct {
	CPU    int    `json:"cpu"`
	Memory int    `json:"memory"`
	Disk   string `json:"disk"`
}

// CreateRequest is the body of a domain creation call
type CreateRequest struct {
	Password  string    `json:"password"`
	Network   Network   `json:"network"`
	Resources Resources `json:"resources"`
	Script    *string   `json:"script"`
}

type createResponse struct {
	ID string `json:"id"`
}

type runningResponse struct {
	Domains []string `json:"domains"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// StatusError is the cause attached to an upstream failure when the
// controller answered with a non-2xx status.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: controller returned %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: controller returned %d: %s", e.Op, e.StatusCode, e.Body)
}

// Client talks to the VM controller at a base URL
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a controller client. Every call is bounded by timeout.
func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(endpoint, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Create asks the controller for a new domain and returns its id.
func (c *Client) Create(ctx context.Context, req CreateRequest) (string, error) {
	var resp createResponse
	if err := c.do(ctx, "create domain", http.MethodPost, "/domains", nil, req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", apperr.Upstream("Failed to create domain", fmt.Errorf("controller returned an empty domain id"))
	}
	return resp.ID, nil
}

// Running returns the subset of ids the controller reports as running.
// A missing or null domain list means none are running.
func (c *Client) Running(ctx context.Context, ids []string) ([]string, error) {
	query := url.Values{}
	query.Set("running", "true")
	query.Set("ids", strings.Join(ids, ","))

	var resp runningResponse
	if err := c.do(ctx, "list running domains", http.MethodGet, "/domains", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Domains, nil
}

// Status returns the controller's status string for one domain.
func (c *Client) Status(ctx context.Context, id string) (string, error) {
	var resp statusResponse
	if err := c.do(ctx, "fetch domain", http.MethodGet, domainPath(id), nil, nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, "delete domain", http.MethodDelete, domainPath(id), nil, nil, nil)
}

func (c *Client) Shutdown(ctx context.Context, id string) error {
	return c.do(ctx, "shutdown domain", http.MethodPost, domainPath(id)+"/shutdown", nil, nil, nil)
}

func (c *Client) PowerOn(ctx context.Context, id string) error {
	return c.do(ctx, "power on domain", http.MethodPost, domainPath(id)+"/power_on", nil, nil, nil)
}

func (c *Client) Restart(ctx context.Context, id string) error {
	return c.do(ctx, "restart domain", http.MethodPost, domainPath(id)+"/restart", nil, nil, nil)
}

func domainPath(id string) string {
	return "/domains/" + url.PathEscape(id)
}

// do performs one controller call. Every failure, including transport and
// decoding errors, is reported as an upstream failure.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, in, out any) error {
	fail := func(err error) error {
		return apperr.Upstream("Failed to "+op, err)
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return apperr.Internal(fmt.Errorf("failed to encode %s request: %w", op, err))
		}
		body = bytes.NewReader(buf)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	zerolog.Ctx(ctx).Debug().
		Str("op", op).
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("controller call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fail(&StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))})
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fail(fmt.Errorf("failed to decode %s response: %w", op, err))
	}
	return nil
}
