package rpc

import (
	"encoding/base64"
	"time"

	"github.com/powerauth/activationserver/internal/apierror"
	"github.com/powerauth/activationserver/internal/ecies"
	"github.com/powerauth/activationserver/internal/rpc/activationpb"
	"github.com/powerauth/activationserver/internal/store"
)

func decodeB64(field string) ([]byte, error) {
	if field == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(field)
	if err != nil {
		return nil, apierror.New(apierror.InvalidInputFormat, "malformed base64 field")
	}
	return b, nil
}

func encodeB64(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}

// toCryptogram converts the wire EciesCryptogram into the domain type,
// selecting the V3.0/V3.1 IV derivation rule from protocolV31.
func toCryptogram(w activationpb.EciesCryptogram, protocolV31 bool) (ecies.Cryptogram, ecies.ProtocolVersion, error) {
	ephemeral, err := decodeB64(w.EphemeralPublicKey)
	if err != nil {
		return ecies.Cryptogram{}, 0, err
	}
	data, err := decodeB64(w.EncryptedData)
	if err != nil {
		return ecies.Cryptogram{}, 0, err
	}
	mac, err := decodeB64(w.MAC)
	if err != nil {
		return ecies.Cryptogram{}, 0, err
	}
	nonce, err := decodeB64(w.Nonce)
	if err != nil {
		return ecies.Cryptogram{}, 0, err
	}
	version := ecies.V30
	if protocolV31 {
		version = ecies.V31
	}
	return ecies.Cryptogram{
		EphemeralPublicKey: ephemeral,
		EncryptedData:      data,
		MAC:                mac,
		Nonce:              nonce,
	}, version, nil
}

func fromCryptogram(c ecies.Cryptogram) activationpb.EciesCryptogram {
	return activationpb.EciesCryptogram{
		EphemeralPublicKey: encodeB64(c.EphemeralPublicKey),
		EncryptedData:      encodeB64(c.EncryptedData),
		MAC:                encodeB64(c.MAC),
		Nonce:              encodeB64(c.Nonce),
	}
}

func activationSummary(act store.Activation) activationpb.ActivationSummary {
	return activationpb.ActivationSummary{
		ActivationID:   act.ActivationID,
		ActivationName: act.ActivationName,
		Status:         act.Status.String(),
		Version:        act.Version,
		CreatedAt:      act.CreatedAt.Format(time.RFC3339),
	}
}

func historyItem(e store.ActivationHistoryEntry) activationpb.ActivationHistoryItem {
	return activationpb.ActivationHistoryItem{
		Status:      e.Status.String(),
		EventReason: e.EventReason,
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
	}
}

func parseStatus(s string) (store.ActivationStatus, error) {
	switch s {
	case "CREATED":
		return store.StatusCreated, nil
	case "OTP_USED":
		return store.StatusOTPUsed, nil
	case "ACTIVE":
		return store.StatusActive, nil
	case "BLOCKED":
		return store.StatusBlocked, nil
	case "REMOVED":
		return store.StatusRemoved, nil
	default:
		return 0, apierror.New(apierror.InvalidRequest, "unknown activation status "+s)
	}
}
