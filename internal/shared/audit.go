package shared

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// AuditLog is one entry of the audit trail. ActorUUID is empty for system actions.
type AuditLog struct {
	ActorUUID string
	Action    string
	Entity    string
	EntityID  string
	Meta      map[string]any
	At        time.Time
}

// Validate reports the first missing required field.
func (l AuditLog) Validate() error {
	switch {
	case l.Action == "":
		return Invalid("action", "required")
	case l.Entity == "":
		return Invalid("entity", "required")
	case l.EntityID == "":
		return Invalid("entity_id", "required")
	}
	return nil
}

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditLogger appends entries to audit_logs.
type AuditLogger struct {
	db Execer
}

// NewAuditLogger writes through db, usually the pool.
func NewAuditLogger(db Execer) *AuditLogger {
	return &AuditLogger{db: db}
}

const insertAudit = `
INSERT INTO audit_logs (actor_uuid, action, entity, entity_id, meta, occurred_at)
VALUES (NULLIF(@actor, ''), @action, @entity, @entity_id, @meta, COALESCE(@at, NOW()))`

// Record writes log. A zero At is stamped by the database.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	meta := []byte("{}")
	if len(log.Meta) > 0 {
		var err error
		if meta, err = json.Marshal(log.Meta); err != nil {
			return fmt.Errorf("audit %s: encode meta: %w", log.Action, err)
		}
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err := l.db.Exec(ctx, insertAudit, pgx.NamedArgs{
		"actor":     log.ActorUUID,
		"action":    log.Action,
		"entity":    log.Entity,
		"entity_id": log.EntityID,
		"meta":      meta,
		"at":        at,
	})
	if err != nil {
		return fmt.Errorf("audit %s %s/%s: %w", log.Action, log.Entity, log.EntityID, err)
	}
	return nil
}
