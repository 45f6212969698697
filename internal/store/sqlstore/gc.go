package sqlstore

import (
	"context"
	"time"

	"github.com/powerauth/activationserver/internal/store"
)

// GarbageCollect expires stale CREATED/OTP_USED activations, mirroring
// the teacher's storage/sql/gc.go periodic sweep.
func (s *Store) GarbageCollect(ctx context.Context, now time.Time) (store.GCResult, error) {
	res, err := s.db.ExecContext(ctx, `
		update activation set status = $1, last_changed_at = $2
		where status in ($3, $4) and expires_at < $2`,
		store.StatusRemoved, now, store.StatusCreated, store.StatusOTPUsed)
	if err != nil {
		return store.GCResult{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.GCResult{}, err
	}
	return store.GCResult{ExpiredActivations: n}, nil
}
