package leave

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Auditor appends audit entries through the caller's transaction and
// mirrors them to the "audit" logger. A failed append is returned as an
// *AuditWriteError so the transaction rolls back with it.
type Auditor struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewAuditor returns an Auditor logging to logger.Named("audit").
func NewAuditor(logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{logger: logger.Named("audit"), now: time.Now}
}

// Record appends one entry. before and after are snapshots marshalled to
// JSON; nil is stored as JSON null.
func (a *Auditor) Record(ctx context.Context, w AuditWriter, entityType EntityType, entityID string, actor Actor, action string, before, after any, comment string) error {
	entry := AuditEntry{
		ID:         uuid.NewString(),
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actor.ID,
		Action:     action,
		Timestamp:  a.now().UTC(),
		Comment:    comment,
	}

	fail := func(err error) error {
		a.logger.Error("audit write failed",
			zap.String("entity_type", string(entityType)),
			zap.String("entity_id", entityID),
			zap.String("action", action),
			zap.Error(err),
		)
		return &AuditWriteError{EntityType: entityType, EntityID: entityID, Action: action, Err: err}
	}

	var err error
	if entry.Before, err = snapshot(before); err != nil {
		return fail(err)
	}
	if entry.After, err = snapshot(after); err != nil {
		return fail(err)
	}
	if err := w.AppendAudit(ctx, entry); err != nil {
		return fail(err)
	}

	a.logger.Info("audit entry",
		zap.String("id", entry.ID),
		zap.String("entity_type", string(entityType)),
		zap.String("entity_id", entityID),
		zap.String("actor_id", string(actor.ID)),
		zap.String("action", action),
		zap.String("comment", comment),
	)
	return nil
}

func snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("null"), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}
