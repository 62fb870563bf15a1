package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// Recorder captures who changed what. Recording is fire-and-forget: a failed
// audit write is logged and must never abort the primary operation.
type Recorder interface {
	Record(ctx context.Context, tenantID uuid.UUID, entityType string, entityID uuid.UUID, action string, changes map[string]any)
}

type PgRecorder struct {
	pool *pgxpool.Pool
	log  *logrus.Entry
}

func NewPgRecorder(pool *pgxpool.Pool, log *logrus.Entry) *PgRecorder {
	return &PgRecorder{pool: pool, log: log}
}

func (r *PgRecorder) Record(ctx context.Context, tenantID uuid.UUID, entityType string, entityID uuid.UUID, action string, changes map[string]any) {
	payload, err := json.Marshal(changes)
	if err != nil {
		r.log.WithError(err).WithField("entity_id", entityID).Warn("marshal audit changes")
		payload = nil
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_events (tenant_id, entity_type, entity_id, action, changes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, tenantID, entityType, entityID, action, payload, time.Now().UTC())
	if err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"entity_type": entityType,
			"entity_id":   entityID,
			"action":      action,
		}).Warn("audit write failed")
	}
}

// Nop discards audit events. Used in tests and tooling.
type Nop struct{}

func (Nop) Record(context.Context, uuid.UUID, string, uuid.UUID, string, map[string]any) {}
