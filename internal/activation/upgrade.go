package activation

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/powerauth/activationserver/internal/apierror"
	"github.com/powerauth/activationserver/internal/cryptoprim"
	"github.com/powerauth/activationserver/internal/store"
)

// StartUpgrade implements §6's startUpgrade: the first half of the
// protocol v2->v3 handshake. It seeds a fresh hash-based ctr_data from
// the legacy numeric counter and persists it, without yet bumping
// version — the device must round-trip one signed request under the
// new counter before CommitUpgrade finalizes the switch, per §3's Open
// Question to "preserve both fields during upgrade."
func (s *Service) StartUpgrade(ctx context.Context, activationID string) ([]byte, error) {
	act, err := s.Store.GetActivation(ctx, activationID)
	if err != nil {
		return nil, apierror.New(apierror.ActivationNotFound, "activation not found")
	}
	if act.Status != store.StatusActive {
		return nil, apierror.New(apierror.ActivationIncorrectState, "activation is not ACTIVE")
	}
	if act.Version >= 3 {
		return act.CtrData, nil
	}

	transportKey, err := s.deriveTransportKey(act)
	if err != nil {
		return nil, err
	}
	var counterBytes [8]byte
	binary.BigEndian.PutUint64(counterBytes[:], act.Counter)
	seed := cryptoprim.HMACSHA256(transportKey, counterBytes[:])
	ctrData := seed[:16]

	updated, err := s.Store.UpdateActivation(ctx, activationID, func(cur store.Activation) (store.Activation, error) {
		if cur.Status != store.StatusActive {
			return cur, apierror.New(apierror.ActivationIncorrectState, "activation is not ACTIVE")
		}
		if cur.Version < 3 {
			cur.CtrData = ctrData
			cur.LastChangedAt = time.Now()
		}
		return cur, nil
	})
	if err != nil {
		return nil, err
	}
	return updated.CtrData, nil
}

// CommitUpgrade implements §6's commitUpgrade: finalizes the v2->v3
// switch once the device has proven it holds the new ctr_data by
// signing with it (verified by the caller via VerifyOnlineSignature
// before calling this).
func (s *Service) CommitUpgrade(ctx context.Context, activationID string) error {
	updated, err := s.Store.UpdateActivation(ctx, activationID, func(cur store.Activation) (store.Activation, error) {
		if cur.Status != store.StatusActive {
			return cur, apierror.New(apierror.ActivationIncorrectState, "activation is not ACTIVE")
		}
		if len(cur.CtrData) == 0 {
			return cur, apierror.New(apierror.InvalidRequest, "upgrade was never started")
		}
		cur.Version = 3
		cur.LastChangedAt = time.Now()
		return cur, nil
	})
	if err != nil {
		return err
	}
	_ = s.appendHistory(ctx, updated, "UPGRADED")
	return nil
}
