package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads reference names from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// NamesByUUID returns the names found for uuids; missing rows are simply absent from the map.
// uuids are matched against the lower-case text form of the key.
func (r *Repository) NamesByUUID(ctx context.Context, kind Kind, uuids []string) (map[string]string, error) {
	if len(uuids) == 0 {
		return map[string]string{}, nil
	}
	var table string
	switch kind {
	case KindProblem:
		table = "problems"
	case KindAccessory:
		table = "accessories"
	default:
		return nil, fmt.Errorf("catalog: unknown kind %q", kind)
	}
	rows, err := r.pool.Query(ctx, `SELECT uuid::text, name FROM `+table+` WHERE uuid::text = ANY($1)`, uuids)
	if err != nil {
		return nil, fmt.Errorf("catalog: query %s: %w", table, err)
	}
	defer rows.Close()

	names := make(map[string]string, len(uuids))
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}
