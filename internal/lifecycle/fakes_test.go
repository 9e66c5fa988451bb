package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/jbweber/homelab/loft/internal/domain"
	"github.com/jbweber/homelab/loft/internal/provision"
	"github.com/jbweber/homelab/loft/internal/repository"
)

type fakeStore struct {
	mu      sync.Mutex
	servers []domain.Server
	saveErr error
	findErr error
}

func (f *fakeStore) Save(ctx context.Context, server domain.Server) (domain.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return domain.Server{}, f.saveErr
	}
	for _, existing := range f.servers {
		if existing.IPAddress == server.IPAddress || existing.ID == server.ID {
			return domain.Server{}, repository.ErrDuplicate
		}
	}
	f.servers = append(f.servers, server)
	return server, nil
}

func (f *fakeStore) FindAllByOwner(ctx context.Context, ownerID int32) ([]domain.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	var out []domain.Server
	for _, s := range f.servers {
		if s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) FindByIDAndOwner(ctx context.Context, id string, ownerID int32) (domain.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return domain.Server{}, f.findErr
	}
	for _, s := range f.servers {
		if s.ID == id && s.OwnerID == ownerID {
			return s, nil
		}
	}
	return domain.Server{}, fmt.Errorf("server %s: %w", id, repository.ErrNotFound)
}

func (f *fakeStore) DeleteByIDAndOwner(ctx context.Context, id string, ownerID int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.servers {
		if s.ID == id && s.OwnerID == ownerID {
			f.servers = append(f.servers[:i], f.servers[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeStore) ListIPAddresses(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	addrs := make([]string, 0, len(f.servers))
	for _, s := range f.servers {
		addrs = append(addrs, s.IPAddress)
	}
	return addrs, nil
}

type fakeScripts map[int64]domain.SetupScript

func (f fakeScripts) FindByID(ctx context.Context, id int64) (domain.SetupScript, error) {
	s, ok := f[id]
	if !ok {
		return domain.SetupScript{}, repository.ErrNotFound
	}
	return s, nil
}

type fakeController struct {
	mu        sync.Mutex
	nextID    int
	created   []provision.CreateRequest
	calls     []string
	running   []string
	status    string
	createErr error
	listErr   error
	actionErr error
}

func (f *fakeController) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeController) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeController) Create(ctx context.Context, req provision.CreateRequest) (string, error) {
	f.record("create")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	f.created = append(f.created, req)
	return fmt.Sprintf("dom-%d", f.nextID), nil
}

func (f *fakeController) Running(ctx context.Context, ids []string) ([]string, error) {
	f.record("running")
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.running, nil
}

func (f *fakeController) Status(ctx context.Context, id string) (string, error) {
	f.record("status " + id)
	if f.actionErr != nil {
		return "", f.actionErr
	}
	return f.status, nil
}

func (f *fakeController) Delete(ctx context.Context, id string) error {
	f.record("delete " + id)
	return f.actionErr
}

func (f *fakeController) Shutdown(ctx context.Context, id string) error {
	f.record("shutdown " + id)
	return f.actionErr
}

func (f *fakeController) PowerOn(ctx context.Context, id string) error {
	f.record("power_on " + id)
	return f.actionErr
}

func (f *fakeController) Restart(ctx context.Context, id string) error {
	f.record("restart " + id)
	return f.actionErr
}
