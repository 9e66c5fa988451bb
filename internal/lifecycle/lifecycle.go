// Package lifecycle composes address allocation, the provisioning controller
// and the server registry into the server use cases: create, list, get,
// delete and power control.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jbweber/homelab/loft/internal/addrpool"
	"github.com/jbweber/homelab/loft/internal/apperr"
	"github.com/jbweber/homelab/loft/internal/domain"
	"github.com/jbweber/homelab/loft/internal/provision"
	"github.com/jbweber/homelab/loft/internal/repository"
)

const maxNameLength = 64

// Provisioner is the remote side of every use case
type Provisioner interface {
	Create(ctx context.Context, req provision.CreateRequest) (string, error)
	Running(ctx context.Context, ids []string) ([]string, error)
	Status(ctx context.Context, id string) (string, error)
	Delete(ctx context.Context, id string) error
	Shutdown(ctx context.Context, id string) error
	PowerOn(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) error
}

// ServerStore is the local registry of owned servers
type ServerStore interface {
	Save(ctx context.Context, server domain.Server) (domain.Server, error)
	FindAllByOwner(ctx context.Context, ownerID int32) ([]domain.Server, error)
	FindByIDAndOwner(ctx context.Context, id string, ownerID int32) (domain.Server, error)
	DeleteByIDAndOwner(ctx context.Context, id string, ownerID int32) error
	ListIPAddresses(ctx context.Context) ([]string, error)
}

// ScriptFinder resolves setup scripts attached at create time
type ScriptFinder interface {
	FindByID(ctx context.Context, id int64) (domain.SetupScript, error)
}

// CreateParams are the inputs of Create. ScriptID and IPAddress are optional.
type CreateParams struct {
	OwnerID   int32
	Name      string
	Password  string
	PlanID    int
	ScriptID  *int64
	IPAddress string
}

// Service runs the server use cases for authenticated owners
type Service struct {
	servers    ServerStore
	scripts    ScriptFinder
	controller Provisioner
	plans      map[int]domain.Plan
	network    domain.Network
	prefix     int

	// allocMu serializes read-used, allocate, remote create and persist
	allocMu sync.Mutex
}

// NewService validates the network and builds the plan index.
func NewService(servers ServerStore, scripts ScriptFinder, controller Provisioner, plans []domain.Plan, network domain.Network) (*Service, error) {
	prefix, err := addrpool.Prefix(network.CIDR)
	if err != nil {
		return nil, fmt.Errorf("invalid network: %w", err)
	}

	index := make(map[int]domain.Plan, len(plans))
	for _, plan := range plans {
		if _, dup := index[plan.ID]; dup {
			return nil, fmt.Errorf("duplicate plan id %d", plan.ID)
		}
		index[plan.ID] = plan
	}

	return &Service{
		servers:    servers,
		scripts:    scripts,
		controller: controller,
		plans:      index,
		network:    network,
		prefix:     prefix,
	}, nil
}

// Create allocates an address, asks the controller for a domain and records
// the resulting server under the owner.
func (s *Service) Create(ctx context.Context, p CreateParams) (domain.ServerView, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return domain.ServerView{}, apperr.BadRequest("Server name is required")
	}
	if len(name) > maxNameLength {
		return domain.ServerView{}, apperr.BadRequest(fmt.Sprintf("Server name must be at most %d characters", maxNameLength))
	}
	if p.Password == "" {
		return domain.ServerView{}, apperr.BadRequest("Server password is required")
	}

	plan, ok := s.plans[p.PlanID]
	if !ok {
		return domain.ServerView{}, apperr.BadRequest("Plan not found")
	}

	s.allocMu.Lock()
	defer s.allocMu.Unlock()

	addr, err := s.pickAddress(ctx, p.IPAddress)
	if err != nil {
		return domain.ServerView{}, err
	}

	script, err := s.resolveScript(ctx, p.ScriptID)
	if err != nil {
		return domain.ServerView{}, err
	}

	id, err := s.controller.Create(ctx, provision.CreateRequest{
		Password: p.Password,
		Network: provision.Network{
			Address:   fmt.Sprintf("%s/%d", addr, s.prefix),
			Gateway:   s.network.Gateway,
			Interface: s.network.Interface,
		},
		Resources: provision.Resources{
			CPU:    plan.Resources.CPU,
			Memory: plan.Resources.Memory / 1024,
			Disk:   fmt.Sprintf("%dG", plan.Resources.Disk),
		},
		Script: script,
	})
	if err != nil {
		return domain.ServerView{}, err
	}

	server, err := s.servers.Save(ctx, domain.Server{
		ID:        id,
		Name:      name,
		IPAddress: addr,
		PlanID:    plan.ID,
		OwnerID:   p.OwnerID,
	})
	if err != nil {
		// the remote domain exists but is not recorded locally
		zerolog.Ctx(ctx).Error().Err(err).
			Str("domain_id", id).
			Str("ip_address", addr).
			Int32("owner_id", p.OwnerID).
			Msg("failed to record created server, remote domain is orphaned")
		if errors.Is(err, repository.ErrDuplicate) {
			return domain.ServerView{}, apperr.Conflict("Server could not be recorded", err)
		}
		return domain.ServerView{}, apperr.Internal(err)
	}

	zerolog.Ctx(ctx).Info().
		Str("domain_id", id).
		Str("ip_address", addr).
		Int("plan", plan.ID).
		Msg("server created")

	return domain.ServerView{Server: server, Status: domain.StatusOnline}, nil
}

func (s *Service) resolveScript(ctx context.Context, id *int64) (*string, error) {
	if id == nil {
		return nil, nil
	}
	found, err := s.scripts.FindByID(ctx, *id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.BadRequest("Setup script not found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &found.Script, nil
}

// pickAddress returns the requested address if it is free, otherwise the lowest free one.
// Callers hold allocMu.
func (s *Service) pickAddress(ctx context.Context, requested string) (string, error) {
	used, err := s.servers.ListIPAddresses(ctx)
	if err != nil {
		return "", apperr.Internal(err)
	}

	if requested != "" {
		ok, err := addrpool.Available(s.network.CIDR, s.network.Gateway, requested, used)
		if err != nil {
			return "", apperr.Internal(err)
		}
		if !ok {
			return "", apperr.BadRequest("IP address not available")
		}
		return requested, nil
	}

	addr, err := addrpool.Allocate(s.network.CIDR, s.network.Gateway, used)
	if errors.Is(err, addrpool.ErrPoolExhausted) {
		return "", apperr.BadRequest("No available IP addresses")
	}
	if err != nil {
		return "", apperr.Internal(err)
	}
	return addr, nil
}

// List returns the owner's servers with their status. Owners without servers
// cause no controller call.
func (s *Service) List(ctx context.Context, ownerID int32) ([]domain.ServerView, error) {
	servers, err := s.servers.FindAllByOwner(ctx, ownerID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	views := make([]domain.ServerView, 0, len(servers))
	if len(servers) == 0 {
		return views, nil
	}

	ids := make([]string, 0, len(servers))
	for _, server := range servers {
		ids = append(ids, server.ID)
	}
	running, err := s.controller.Running(ctx, ids)
	if err != nil {
		return nil, err
	}
	online := make(map[string]struct{}, len(running))
	for _, id := range running {
		online[id] = struct{}{}
	}

	for _, server := range servers {
		status := domain.StatusOffline
		if _, ok := online[server.ID]; ok {
			status = domain.StatusOnline
		}
		views = append(views, domain.ServerView{Server: server, Status: status})
	}
	return views, nil
}

// Get returns one of the owner's servers with its status.
func (s *Service) Get(ctx context.Context, ownerID int32, id string) (domain.ServerView, error) {
	server, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return domain.ServerView{}, err
	}

	state, err := s.controller.Status(ctx, id)
	if err != nil {
		return domain.ServerView{}, err
	}
	status := domain.StatusOffline
	if state == provision.StateRunning {
		status = domain.StatusOnline
	}
	return domain.ServerView{Server: server, Status: status}, nil
}

// Delete removes the remote domain, then the local record.
func (s *Service) Delete(ctx context.Context, ownerID int32, id string) error {
	if _, err := s.owned(ctx, ownerID, id); err != nil {
		return err
	}
	if err := s.controller.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.servers.DeleteByIDAndOwner(ctx, id, ownerID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("Server not found")
		}
		return apperr.Internal(err)
	}

	zerolog.Ctx(ctx).Info().Str("domain_id", id).Msg("server deleted")
	return nil
}

func (s *Service) Shutdown(ctx context.Context, ownerID int32, id string) error {
	return s.power(ctx, ownerID, id, s.controller.Shutdown)
}

func (s *Service) PowerOn(ctx context.Context, ownerID int32, id string) error {
	return s.power(ctx, ownerID, id, s.controller.PowerOn)
}

func (s *Service) Restart(ctx context.Context, ownerID int32, id string) error {
	return s.power(ctx, ownerID, id, s.controller.Restart)
}

func (s *Service) power(ctx context.Context, ownerID int32, id string, action func(context.Context, string) error) error {
	if _, err := s.owned(ctx, ownerID, id); err != nil {
		return err
	}
	return action(ctx, id)
}

// owned loads a server scoped to its owner. A foreign server is
// indistinguishable from a missing one.
func (s *Service) owned(ctx context.Context, ownerID int32, id string) (domain.Server, error) {
	server, err := s.servers.FindByIDAndOwner(ctx, id, ownerID)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.Server{}, apperr.NotFound("Server not found")
	}
	if err != nil {
		return domain.Server{}, apperr.Internal(err)
	}
	return server, nil
}

// Plans returns the plan catalog ordered by id.
func (s *Service) Plans() []domain.Plan {
	plans := make([]domain.Plan, 0, len(s.plans))
	for _, plan := range s.plans {
		plans = append(plans, plan)
	}
	slices.SortFunc(plans, func(a, b domain.Plan) int { return a.ID - b.ID })
	return plans
}
