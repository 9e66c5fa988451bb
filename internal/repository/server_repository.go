package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/jbweber/homelab/loft/internal/datastore"
	"github.com/jbweber/homelab/loft/internal/domain"
)

// ServerRepository stores the servers owned by panel users.
// Servers are immutable once saved: Save only inserts.
type ServerRepository interface {
	Repository[domain.Server, string]
	FindAllByOwner(ctx context.Context, ownerID int32) ([]domain.Server, error)
	FindByIDAndOwner(ctx context.Context, id string, ownerID int32) (domain.Server, error)
	DeleteByIDAndOwner(ctx context.Context, id string, ownerID int32) error
	ListIPAddresses(ctx context.Context) ([]string, error)
}

type serverRepositoryImpl struct {
	ds *datastore.Datastore
}

// NewServerRepository creates a new server repository
func NewServerRepository(ds *datastore.Datastore) ServerRepository {
	return &serverRepositoryImpl{ds: ds}
}

var serverColumns = []string{"id", "name", "ip_address", "plan", "owner_id"}

func scanServer(row rowScanner) (domain.Server, error) {
	var s domain.Server
	err := row.Scan(&s.ID, &s.Name, &s.IPAddress, &s.PlanID, &s.OwnerID)
	return s, err
}

func (r *serverRepositoryImpl) selectServers() sq.SelectBuilder {
	return r.ds.Builder.Select(serverColumns...).From("servers")
}

// Save inserts a server. ErrDuplicate is returned if the id or the address is taken.
func (r *serverRepositoryImpl) Save(ctx context.Context, server domain.Server) (domain.Server, error) {
	if server.ID == "" || server.IPAddress == "" {
		return domain.Server{}, fmt.Errorf("server requires id and ip address: %w", ErrInvalidEntity)
	}

	query, args, err := r.ds.Builder.Insert("servers").
		Columns(serverColumns...).
		Values(server.ID, server.Name, server.IPAddress, server.PlanID, server.OwnerID).
		ToSql()
	if err != nil {
		return domain.Server{}, fmt.Errorf("failed to build server insert: %w", err)
	}

	if _, err := r.ds.DB.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return domain.Server{}, fmt.Errorf("failed to create server %s: %w", server.ID, &DuplicateError{Field: violatedColumn(err, "ip_address", "id")})
		}
		return domain.Server{}, fmt.Errorf("failed to create server %s: %w", server.ID, err)
	}
	return server, nil
}

// FindByID retrieves a server regardless of owner
func (r *serverRepositoryImpl) FindByID(ctx context.Context, id string) (domain.Server, error) {
	return r.findOne(ctx, sq.Eq{"id": id})
}

// FindByIDAndOwner retrieves a server only if it belongs to ownerID
func (r *serverRepositoryImpl) FindByIDAndOwner(ctx context.Context, id string, ownerID int32) (domain.Server, error) {
	return r.findOne(ctx, sq.Eq{"id": id, "owner_id": ownerID})
}

func (r *serverRepositoryImpl) findOne(ctx context.Context, where sq.Eq) (domain.Server, error) {
	query, args, err := r.selectServers().Where(where).ToSql()
	if err != nil {
		return domain.Server{}, fmt.Errorf("failed to build server query: %w", err)
	}

	server, err := scanServer(r.ds.DB.QueryRowContext(ctx, query, args...))
	if err != nil {
		return domain.Server{}, fmt.Errorf("failed to find server %v: %w", where["id"], notFound(err))
	}
	return server, nil
}

// FindAll retrieves every server
func (r *serverRepositoryImpl) FindAll(ctx context.Context) ([]domain.Server, error) {
	return r.findMany(ctx, r.selectServers().OrderBy("created_at", "id"))
}

// FindAllByOwner retrieves the servers of one owner in creation order
func (r *serverRepositoryImpl) FindAllByOwner(ctx context.Context, ownerID int32) ([]domain.Server, error) {
	return r.findMany(ctx, r.selectServers().Where(sq.Eq{"owner_id": ownerID}).OrderBy("created_at", "id"))
}

func (r *serverRepositoryImpl) findMany(ctx context.Context, b sq.SelectBuilder) ([]domain.Server, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build server query: %w", err)
	}

	rows, err := r.ds.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	servers := []domain.Server{}
	for rows.Next() {
		server, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan server: %w", err)
		}
		servers = append(servers, server)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	return servers, nil
}

// ListIPAddresses returns the address of every server, whoever owns it
func (r *serverRepositoryImpl) ListIPAddresses(ctx context.Context) ([]string, error) {
	query, args, err := r.ds.Builder.Select("ip_address").From("servers").ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build address query: %w", err)
	}

	rows, err := r.ds.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("failed to scan address: %w", err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, rows.Err()
}

// DeleteByID removes a server regardless of owner
func (r *serverRepositoryImpl) DeleteByID(ctx context.Context, id string) error {
	return r.delete(ctx, sq.Eq{"id": id})
}

// DeleteByIDAndOwner removes a server only if it belongs to ownerID
func (r *serverRepositoryImpl) DeleteByIDAndOwner(ctx context.Context, id string, ownerID int32) error {
	return r.delete(ctx, sq.Eq{"id": id, "owner_id": ownerID})
}

func (r *serverRepositoryImpl) delete(ctx context.Context, where sq.Eq) error {
	query, args, err := r.ds.Builder.Delete("servers").Where(where).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build server delete: %w", err)
	}

	result, err := r.ds.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete server %v: %w", where["id"], err)
	}
	if err := affectedOrNotFound(result); err != nil {
		return fmt.Errorf("failed to delete server %v: %w", where["id"], err)
	}
	return nil
}

// ExistsByID checks if a server exists by its ID
func (r *serverRepositoryImpl) ExistsByID(ctx context.Context, id string) (bool, error) {
	query, args, err := r.ds.Builder.Select("COUNT(*)").From("servers").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build server query: %w", err)
	}

	var count int
	if err := r.ds.DB.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check server existence: %w", err)
	}
	return count > 0, nil
}
