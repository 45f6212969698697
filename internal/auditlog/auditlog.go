// Package auditlog is the append-only signature audit sink (C10's
// sibling, "out of scope" in spec.md §1 beyond its write contract).
// Grounded on the teacher's pkg/log level/format conventions, but
// specialized: every entry is a structured log/slog record tagged
// audit=true, plus (when a SQL store is configured) a row in
// signature_audit_log.
package auditlog

import (
	"context"
	"log/slog"
)

// Entry is one signature verification attempt worth recording.
type Entry struct {
	ActivationID string
	Factor       string // e.g. "possession_knowledge"
	Counter      uint64
	Valid        bool
	IPAddress    string
}

// Sink accepts audit entries. Never returns an error to the caller's
// request path — losing an audit record must not fail the request it
// describes.
type Sink interface {
	Write(ctx context.Context, e Entry)
}

// SlogSink writes every entry as one structured log record tagged
// audit=true, matching the rest of the server's log/slog pipeline.
type SlogSink struct {
	log *slog.Logger
}

func NewSlogSink(log *slog.Logger) *SlogSink {
	return &SlogSink{log: log}
}

func (s *SlogSink) Write(_ context.Context, e Entry) {
	s.log.Info("signature audit",
		"audit", true,
		"activation_id", e.ActivationID,
		"factor", e.Factor,
		"counter", e.Counter,
		"valid", e.Valid,
		"ip_address", e.IPAddress,
	)
}

// SQLSink additionally persists each entry as a signature_audit_log
// row, for deployments that want queryable audit history beyond log
// aggregation.
type SQLSink struct {
	inner  Sink
	insert func(ctx context.Context, e Entry) error
	log    *slog.Logger
}

// NewSQLSink wraps inner (typically a SlogSink) so every Write also
// attempts insert; insert failures are logged, never propagated.
func NewSQLSink(inner Sink, log *slog.Logger, insert func(ctx context.Context, e Entry) error) *SQLSink {
	return &SQLSink{inner: inner, insert: insert, log: log}
}

func (s *SQLSink) Write(ctx context.Context, e Entry) {
	s.inner.Write(ctx, e)
	if err := s.insert(ctx, e); err != nil {
		s.log.Warn("auditlog: failed to persist signature audit row", "activation_id", e.ActivationID, "error", err)
	}
}
