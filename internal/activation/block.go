package activation

import (
	"context"
	"time"

	"github.com/powerauth/activationserver/internal/apierror"
	"github.com/powerauth/activationserver/internal/store"
)

// Block transitions ACTIVE -> BLOCKED. Blocking an already-blocked
// activation is idempotent. Any other starting state is an error.
func (s *Service) Block(ctx context.Context, activationID, reason string) error {
	_, err := s.Store.UpdateActivation(ctx, activationID, func(act store.Activation) (store.Activation, error) {
		switch act.Status {
		case store.StatusBlocked:
			return act, nil
		case store.StatusActive:
			act.Status = store.StatusBlocked
			act.BlockedReason = reason
			act.LastChangedAt = time.Now()
			return act, nil
		default:
			return act, apierror.New(apierror.ActivationIncorrectState, "activation is not ACTIVE or BLOCKED")
		}
	})
	if err != nil {
		return err
	}
	updated, err := s.Store.GetActivation(ctx, activationID)
	if err == nil {
		_ = s.appendHistory(ctx, updated, "BLOCKED")
		s.notify(ctx, updated, "BLOCKED")
	}
	return nil
}

// Unblock transitions BLOCKED -> ACTIVE, resetting failed_attempts and
// blocked_reason. Unblocking an already-active activation is
// idempotent. Any other starting state is an error.
func (s *Service) Unblock(ctx context.Context, activationID string) error {
	_, err := s.Store.UpdateActivation(ctx, activationID, func(act store.Activation) (store.Activation, error) {
		switch act.Status {
		case store.StatusActive:
			return act, nil
		case store.StatusBlocked:
			act.Status = store.StatusActive
			act.FailedAttempts = 0
			act.BlockedReason = ""
			act.LastChangedAt = time.Now()
			return act, nil
		default:
			return act, apierror.New(apierror.ActivationIncorrectState, "activation is not ACTIVE or BLOCKED")
		}
	})
	if err != nil {
		return err
	}
	updated, err := s.Store.GetActivation(ctx, activationID)
	if err == nil {
		_ = s.appendHistory(ctx, updated, "ACTIVE")
		s.notify(ctx, updated, "ACTIVE")
	}
	return nil
}

// Remove force-transitions an activation to REMOVED from any state.
func (s *Service) Remove(ctx context.Context, activationID string) error {
	updated, err := s.Store.UpdateActivation(ctx, activationID, func(act store.Activation) (store.Activation, error) {
		act.Status = store.StatusRemoved
		act.LastChangedAt = time.Now()
		return act, nil
	})
	if err != nil {
		return err
	}
	_ = s.appendHistory(ctx, updated, "REMOVED")
	s.notify(ctx, updated, "REMOVED")
	s.revokeRecoveryOnRemoval(ctx, activationID)
	return nil
}

// revokeRecoveryOnRemoval implements §3's "ACTIVE -> REVOKED when the
// tied activation is removed and no VALID PUK remains" rule.
func (s *Service) revokeRecoveryOnRemoval(ctx context.Context, activationID string) {
	code, err := s.Store.GetRecoveryCodeByActivation(ctx, activationID)
	if err != nil || code.Status != store.RecoveryActive {
		return
	}
	puks, err := s.Store.ListRecoveryPUKs(ctx, code.ID)
	if err != nil {
		return
	}
	for _, p := range puks {
		if p.Status == store.PUKValid {
			return
		}
	}
	_, _ = s.Store.UpdateRecoveryCode(ctx, code.ID, func(rc store.RecoveryCode) (store.RecoveryCode, error) {
		if rc.Status != store.RecoveryActive {
			return rc, nil
		}
		rc.Status = store.RecoveryRevoked
		return rc, nil
	})
}
