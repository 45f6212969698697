package sqlstore

import (
	"context"
	"time"

	"github.com/powerauth/activationserver/internal/auditlog"
)

// InsertSignatureAuditLog persists one signature audit entry, wired
// into auditlog.NewSQLSink by cmd/activationserver when a Postgres
// store is configured.
func (s *Store) InsertSignatureAuditLog(ctx context.Context, e auditlog.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		insert into signature_audit_log (activation_id, factor, counter, valid, ip_address, created_at)
		values ($1, $2, $3, $4, $5, $6)`,
		e.ActivationID, e.Factor, e.Counter, e.Valid, e.IPAddress, time.Now())
	return err
}
