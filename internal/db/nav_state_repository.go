package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStateNotFound is returned by Load when no state is stored under a name.
var ErrStateNotFound = errors.New("navigator state not found")

// StateInfo describes a stored navigator state without its payload.
type StateInfo struct {
	Name      string
	Size      int
	UpdatedAt time.Time
}

// NavStateRepository stores encoded navigator states keyed by name.
type NavStateRepository struct {
	pool *pgxpool.Pool
}

// NewNavStateRepository creates a new navigator state repository.
func NewNavStateRepository(pool *pgxpool.Pool) *NavStateRepository {
	return &NavStateRepository{pool: pool}
}

// Save stores data under name, replacing any previous state.
func (r *NavStateRepository) Save(ctx context.Context, name string, data []byte) error {
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO nav_states (name, data, size, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (name) DO UPDATE
		 SET data = EXCLUDED.data, size = EXCLUDED.size, updated_at = EXCLUDED.updated_at`,
		name, data, len(data)); err != nil {
		return fmt.Errorf("saving state %q: %w", name, err)
	}
	return nil
}

// Load returns the state stored under name.
func (r *NavStateRepository) Load(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := r.pool.QueryRow(ctx,
		`SELECT data FROM nav_states WHERE name = $1`, name,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("loading state %q: %w", name, ErrStateNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading state %q: %w", name, err)
	}
	return data, nil
}

// List returns every stored state ordered by name.
func (r *NavStateRepository) List(ctx context.Context) ([]StateInfo, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT name, size, updated_at FROM nav_states ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query nav states: %w", err)
	}
	defer rows.Close()

	var result []StateInfo
	for rows.Next() {
		var info StateInfo
		if err := rows.Scan(&info.Name, &info.Size, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan nav state row: %w", err)
		}
		result = append(result, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nav state rows: %w", err)
	}
	return result, nil
}

// Delete removes the state stored under name. Deleting a missing state is
// not an error.
func (r *NavStateRepository) Delete(ctx context.Context, name string) error {
	if _, err := r.pool.Exec(ctx,
		`DELETE FROM nav_states WHERE name = $1`, name); err != nil {
		return fmt.Errorf("deleting state %q: %w", name, err)
	}
	return nil
}
