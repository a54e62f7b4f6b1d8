package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/deploywatch/internal/domain"
	"github.com/splax/deploywatch/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ repository.HookRepository = (*Repository)(nil)

const hookColumns = `id, name, url, project_name, team_id, team_name, token_ciphertext, created_at`

// CreateHook inserts a deploy hook.
func (r *Repository) CreateHook(ctx context.Context, hook *domain.Hook) error {
	const query = `INSERT INTO deploy_hooks (` + hookColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query,
		hook.ID,
		hook.Name,
		hook.URL,
		hook.ProjectName,
		emptyToNil(hook.TeamID),
		emptyToNil(hook.TeamName),
		bytesToNil(hook.TokenCiphertext),
		hook.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return repository.ErrConflict
		}
		return err
	}
	return nil
}

// GetHook fetches a hook by identifier.
func (r *Repository) GetHook(ctx context.Context, id string) (*domain.Hook, error) {
	const query = `SELECT ` + hookColumns + ` FROM deploy_hooks WHERE id = $1`
	hook, err := scanHook(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
			// malformed uuid
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return hook, nil
}

// ListHooks returns every hook, oldest first.
func (r *Repository) ListHooks(ctx context.Context) ([]domain.Hook, error) {
	const query = `SELECT ` + hookColumns + ` FROM deploy_hooks ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hooks := make([]domain.Hook, 0)
	for rows.Next() {
		hook, err := scanHook(rows)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, *hook)
	}
	return hooks, rows.Err()
}

// DeleteHook removes a hook record.
func (r *Repository) DeleteHook(ctx context.Context, id string) error {
	const query = `DELETE FROM deploy_hooks WHERE id = $1`
	cmdTag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
			return repository.ErrNotFound
		}
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanHook(row pgx.Row) (*domain.Hook, error) {
	var (
		h        domain.Hook
		teamID   sql.NullString
		teamName sql.NullString
	)
	if err := row.Scan(&h.ID, &h.Name, &h.URL, &h.ProjectName, &teamID, &teamName, &h.TokenCiphertext, &h.CreatedAt); err != nil {
		return nil, err
	}
	h.TeamID = teamID.String
	h.TeamName = teamName.String
	return &h, nil
}

func emptyToNil(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func bytesToNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
