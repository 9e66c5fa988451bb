package repository

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/jbweber/homelab/loft/internal/datastore"
	"github.com/jbweber/homelab/loft/internal/domain"
)

// ScriptRepository stores user-authored setup scripts.
// Updates through Save only apply to rows whose author matches the entity's AuthorID.
type ScriptRepository interface {
	Repository[domain.SetupScript, int64]
}

type scriptRepositoryImpl struct {
	ds *datastore.Datastore
}

// NewScriptRepository creates a new setup script repository
func NewScriptRepository(ds *datastore.Datastore) ScriptRepository {
	return &scriptRepositoryImpl{ds: ds}
}

var scriptColumns = []string{"id", "title", "description", "script", "author_id"}

func scanScript(row rowScanner) (domain.SetupScript, error) {
	var s domain.SetupScript
	err := row.Scan(&s.ID, &s.Title, &s.Description, &s.Script, &s.AuthorID)
	return s, err
}

// Save creates a script when ID is zero and updates it otherwise.
// Updating a script that does not exist or belongs to another author is ErrNotFound.
func (r *scriptRepositoryImpl) Save(ctx context.Context, script domain.SetupScript) (domain.SetupScript, error) {
	if script.Title == "" || script.Script == "" {
		return domain.SetupScript{}, fmt.Errorf("setup script requires title and script: %w", ErrInvalidEntity)
	}

	if script.ID == 0 {
		query, args, err := r.ds.Builder.Insert("setup_scripts").
			Columns("title", "description", "script", "author_id").
			Values(script.Title, script.Description, script.Script, script.AuthorID).
			Suffix("RETURNING id").
			ToSql()
		if err != nil {
			return domain.SetupScript{}, fmt.Errorf("failed to build setup script insert: %w", err)
		}
		if err := r.ds.DB.QueryRowContext(ctx, query, args...).Scan(&script.ID); err != nil {
			return domain.SetupScript{}, fmt.Errorf("failed to create setup script: %w", err)
		}
		return script, nil
	}

	query, args, err := r.ds.Builder.Update("setup_scripts").
		Set("title", script.Title).
		Set("description", script.Description).
		Set("script", script.Script).
		Set("updated_at", sq.Expr("CURRENT_TIMESTAMP")).
		Where(sq.Eq{"id": script.ID, "author_id": script.AuthorID}).
		ToSql()
	if err != nil {
		return domain.SetupScript{}, fmt.Errorf("failed to build setup script update: %w", err)
	}
	result, err := r.ds.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.SetupScript{}, fmt.Errorf("failed to update setup script %d: %w", script.ID, err)
	}
	if err := affectedOrNotFound(result); err != nil {
		return domain.SetupScript{}, fmt.Errorf("failed to update setup script %d: %w", script.ID, err)
	}
	return script, nil
}

// FindByID retrieves a setup script by its ID
func (r *scriptRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.SetupScript, error) {
	query, args, err := r.ds.Builder.Select(scriptColumns...).
		From("setup_scripts").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return domain.SetupScript{}, fmt.Errorf("failed to build setup script query: %w", err)
	}

	script, err := scanScript(r.ds.DB.QueryRowContext(ctx, query, args...))
	if err != nil {
		return domain.SetupScript{}, fmt.Errorf("failed to find setup script %d: %w", id, notFound(err))
	}
	return script, nil
}

// FindAll retrieves every setup script
func (r *scriptRepositoryImpl) FindAll(ctx context.Context) ([]domain.SetupScript, error) {
	query, args, err := r.ds.Builder.Select(scriptColumns...).
		From("setup_scripts").
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build setup script query: %w", err)
	}

	rows, err := r.ds.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list setup scripts: %w", err)
	}
	defer rows.Close()

	scripts := []domain.SetupScript{}
	for rows.Next() {
		script, err := scanScript(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan setup script: %w", err)
		}
		scripts = append(scripts, script)
	}
	return scripts, rows.Err()
}

// DeleteByID removes a setup script
func (r *scriptRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	query, args, err := r.ds.Builder.Delete("setup_scripts").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build setup script delete: %w", err)
	}

	result, err := r.ds.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete setup script %d: %w", id, err)
	}
	if err := affectedOrNotFound(result); err != nil {
		return fmt.Errorf("failed to delete setup script %d: %w", id, err)
	}
	return nil
}

// ExistsByID checks if a setup script exists by its ID
func (r *scriptRepositoryImpl) ExistsByID(ctx context.Context, id int64) (bool, error) {
	_, err := r.FindByID(ctx, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}
