package activation

import (
	"context"
	"time"

	"github.com/powerauth/activationserver/internal/apierror"
	"github.com/powerauth/activationserver/internal/signature"
	"github.com/powerauth/activationserver/internal/store"
)

// VerifyOnlineSignature implements §4.6/§4.8's verifySignature: derive
// the transport key, search the configured lookahead window for a
// match, and persist the outcome — advance ctr_data and reset
// failed_attempts on success, else increment failed_attempts and block
// at threshold (blocked_reason = MAX_FAILED_ATTEMPTS), per §3.
func (s *Service) VerifyOnlineSignature(ctx context.Context, activationID string, dataToSign, sig []byte, verifier *signature.Verifier) (bool, error) {
	act, err := s.Store.GetActivation(ctx, activationID)
	if err != nil {
		return false, apierror.New(apierror.ActivationNotFound, "activation not found")
	}
	if act.Status != store.StatusActive {
		return false, apierror.New(apierror.ActivationIncorrectState, "activation is not ACTIVE")
	}

	transportKey, err := s.deriveTransportKey(act)
	if err != nil {
		return false, err
	}
	nextCtrData, _, ok := verifier.Verify(act.CtrData, transportKey, dataToSign, sig)

	updated, err := s.Store.UpdateActivation(ctx, activationID, func(cur store.Activation) (store.Activation, error) {
		if cur.Status != store.StatusActive {
			return cur, apierror.New(apierror.ActivationIncorrectState, "activation is not ACTIVE")
		}
		cur.LastUsedAt = time.Now()
		cur.LastChangedAt = time.Now()
		if ok {
			cur.CtrData = nextCtrData
			cur.FailedAttempts = 0
			return cur, nil
		}
		cur.FailedAttempts++
		if cur.FailedAttempts >= cur.MaxFailedAttempts {
			cur.Status = store.StatusBlocked
			cur.BlockedReason = "MAX_FAILED_ATTEMPTS"
		}
		return cur, nil
	})
	if err != nil {
		return false, err
	}

	if updated.Status == store.StatusBlocked {
		_ = s.appendHistory(ctx, updated, "BLOCKED")
		s.notify(ctx, updated, "BLOCKED")
	}
	return ok, nil
}
