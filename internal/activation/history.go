package activation

import (
	"context"
	"time"

	"github.com/powerauth/activationserver/internal/store"
)

// GetList implements §4.2's get_list(application_id, user_id): every
// activation owned by user_id under application_id, lazily expired
// before being returned.
func (s *Service) GetList(ctx context.Context, applicationID, userID string) ([]store.Activation, error) {
	acts, err := s.Store.ListActivationsByUser(ctx, applicationID, userID)
	if err != nil {
		return nil, err
	}
	out := make([]store.Activation, 0, len(acts))
	for _, act := range acts {
		before := act
		act, err := s.lazyExpire(ctx, act)
		if err != nil {
			return nil, err
		}
		s.afterExpireSideEffects(ctx, before, act)
		out = append(out, act)
	}
	return out, nil
}

// Lookup implements §4.2's lookup: find a single activation by its
// opaque ID, lazily expiring it first.
func (s *Service) Lookup(ctx context.Context, activationID string) (store.Activation, error) {
	act, err := s.Store.GetActivation(ctx, activationID)
	if err != nil {
		return store.Activation{}, err
	}
	before := act
	act, err = s.lazyExpire(ctx, act)
	if err != nil {
		return store.Activation{}, err
	}
	s.afterExpireSideEffects(ctx, before, act)
	return act, nil
}

// GetActivationHistory implements §4.2's get_activation_history: every
// recorded lifecycle transition for an activation, oldest first (as
// stored).
func (s *Service) GetActivationHistory(ctx context.Context, activationID string) ([]store.ActivationHistoryEntry, error) {
	return s.Store.ListActivationHistory(ctx, activationID)
}

// UpdateStatusBulk implements §4.2's update_status_bulk: force every
// listed activation to the given status (one of the regular lifecycle
// targets), recording history and notifying per activation. Unlike
// Block/Unblock/Remove it never checks the current state — it is a
// bulk administrative override.
func (s *Service) UpdateStatusBulk(ctx context.Context, activationIDs []string, status store.ActivationStatus, reason string) error {
	for _, id := range activationIDs {
		updated, err := s.Store.UpdateActivation(ctx, id, func(act store.Activation) (store.Activation, error) {
			act.Status = status
			act.LastChangedAt = time.Now()
			if status == store.StatusBlocked {
				act.BlockedReason = reason
			}
			return act, nil
		})
		if err != nil {
			return err
		}
		_ = s.appendHistory(ctx, updated, "BULK_UPDATE")
		s.notify(ctx, updated, "BULK_UPDATE")
	}
	return nil
}
