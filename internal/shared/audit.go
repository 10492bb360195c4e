package shared

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit actions emitted by the fee ledger.
const (
	AuditFeeTypeCreated   = "fee_type.created"
	AuditFeeTypeUpdated   = "fee_type.updated"
	AuditFeeTypeDeleted   = "fee_type.deleted"
	AuditFeeRateUpserted  = "fee_rate.upserted"
	AuditFeeRatesBulk     = "fee_rate.bulk_updated"
	AuditDuesGenerated    = "dues.generated"
	AuditDueAdjusted      = "due.adjusted"
	AuditPaymentCollected = "payment.collected"
	AuditPaymentRecorded  = "payment.recorded"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditRecorder is implemented by AuditLogger and test fakes.
type AuditRecorder interface {
	Record(ctx context.Context, log AuditLog) error
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at any
	if !log.At.IsZero() {
		at = log.At
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}

// RecordAfterCommit writes an audit row for a mutation that has already
// committed. Failures are logged, never returned.
func RecordAfterCommit(ctx context.Context, recorder AuditRecorder, logger *slog.Logger, log AuditLog) {
	if recorder == nil {
		return
	}
	if log.ActorID == 0 {
		log.ActorID = ActorFromContext(ctx)
	}
	if err := recorder.Record(ctx, log); err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("audit record", slog.String("action", log.Action), slog.String("entity_id", log.EntityID), slog.Any("error", err))
	}
}
