package activation

import (
	"context"
	"time"

	"github.com/powerauth/activationserver/internal/apierror"
	"github.com/powerauth/activationserver/internal/store"
)

// CommitResult is returned by Commit.
type CommitResult struct {
	Activated bool
}

// Commit implements §4.2's commit(activation_id, external_user_id?):
// load with lock, lazily expire, then transition OTP_USED -> ACTIVE and
// activate every recovery code still in CREATED for this activation.
func (s *Service) Commit(ctx context.Context, activationID string, externalUserID *string) (CommitResult, error) {
	current, err := s.Store.GetActivation(ctx, activationID)
	if err != nil {
		return CommitResult{}, apierror.New(apierror.ActivationNotFound, "activation not found")
	}
	before := current
	current, err = s.lazyExpire(ctx, current)
	if err != nil {
		return CommitResult{}, err
	}
	s.afterExpireSideEffects(ctx, before, current)
	if current.Status == store.StatusRemoved {
		return CommitResult{}, apierror.New(apierror.ActivationExpired, "activation has expired")
	}
	if current.Status != store.StatusOTPUsed {
		return CommitResult{}, apierror.New(apierror.ActivationIncorrectState, "activation is not in OTP_USED state")
	}

	updated, err := s.Store.UpdateActivation(ctx, activationID, func(act store.Activation) (store.Activation, error) {
		if act.Status != store.StatusOTPUsed {
			return act, apierror.New(apierror.ActivationIncorrectState, "activation is not in OTP_USED state")
		}
		act.Status = store.StatusActive
		act.LastChangedAt = time.Now()
		if externalUserID != nil {
			act.Flags["external_user_id"] = *externalUserID
		}
		return act, nil
	})
	if err != nil {
		return CommitResult{}, err
	}

	s.activateRecoveryCodes(ctx, updated.ActivationID)

	_ = s.appendHistory(ctx, updated, "ACTIVE")
	s.notify(ctx, updated, "ACTIVE")

	return CommitResult{Activated: true}, nil
}

// activateRecoveryCodes transitions every CREATED recovery code tied
// to activationID to ACTIVE, per §3's lifecycle rule. Best-effort:
// lookup failures are not fatal to the commit itself, since recovery
// issuance is an additive feature of this activation, not its core
// contract.
func (s *Service) activateRecoveryCodes(ctx context.Context, activationID string) {
	code, err := s.Store.GetRecoveryCodeByActivation(ctx, activationID)
	if err != nil {
		return
	}
	if code.Status != store.RecoveryCreated {
		return
	}
	_, _ = s.Store.UpdateRecoveryCode(ctx, code.ID, func(rc store.RecoveryCode) (store.RecoveryCode, error) {
		if rc.Status != store.RecoveryCreated {
			return rc, nil
		}
		rc.Status = store.RecoveryActive
		return rc, nil
	})
}
