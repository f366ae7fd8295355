package location

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/repairflow/internal/platform/db"
	"github.com/odyssey-erp/repairflow/internal/shared"
)

// Repository reads location nodes from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var nodeQueries = map[Level]string{
	LevelWarehouse: `SELECT uuid::text, name, '' FROM warehouses WHERE uuid = $1`,
	LevelRack:      `SELECT uuid::text, name, warehouse_uuid::text FROM racks WHERE uuid = $1`,
	LevelFloor:     `SELECT uuid::text, name, rack_uuid::text FROM floors WHERE uuid = $1`,
	LevelBox:       `SELECT uuid::text, name, floor_uuid::text FROM boxes WHERE uuid = $1`,
}

// Node loads a node at level.
func (r *Repository) Node(ctx context.Context, level Level, uuid string) (Node, error) {
	query, ok := nodeQueries[level]
	if !ok {
		return Node{}, fmt.Errorf("location: unknown level %q", level)
	}
	var n Node
	err := r.pool.QueryRow(ctx, query, uuid).Scan(&n.UUID, &n.Name, &n.ParentUUID)
	if db.IsNoRows(err) {
		return Node{}, fmt.Errorf("%s %s: %w", level, uuid, shared.ErrNotFound)
	}
	return n, err
}
