// Package token implements the opaque bearer-token engine (C7):
// create_token, validate_token, remove_token, grounded on the
// teacher's refresh/repo.go issuance pattern (opaque id + secret pair)
// and storage.NewID/NewHMACKey for cryptographically secure random
// identifiers.
package token

import (
	"context"
	"crypto/rand"
	"io"
	"time"

	"github.com/powerauth/activationserver/internal/apierror"
	"github.com/powerauth/activationserver/internal/config"
	"github.com/powerauth/activationserver/internal/cryptoprim"
	"github.com/powerauth/activationserver/internal/ecies"
	"github.com/powerauth/activationserver/internal/store"
)

// Service implements the token engine. The ECIES envelope (built from
// the activation's transport key, the way internal/activation derives
// it for get_status) is constructed by the caller and handed in ready
// to decrypt — the same division of responsibility Prepare uses.
type Service struct {
	Store store.Storage
	Cfg   config.Activation
}

// New builds a Service.
func New(s store.Storage, cfg config.Activation) *Service {
	return &Service{Store: s, Cfg: cfg}
}

// CreateResult is returned by CreateToken.
type CreateResult struct {
	TokenID     string
	TokenSecret []byte
}

// CreateToken implements §4.4's create_token: validates the owning
// activation is ACTIVE, derives the transport key, decrypts the
// activation-scope envelope (sharedInfo1 = /pa/token/create, payload
// must be non-empty), and issues a fresh (token_id, token_secret)
// pair.
func (s *Service) CreateToken(ctx context.Context, activationID string, engine *ecies.Engine, cryptogram ecies.Cryptogram, version ecies.ProtocolVersion, signatureType string) (CreateResult, error) {
	act, err := s.Store.GetActivation(ctx, activationID)
	if err != nil {
		return CreateResult{}, apierror.New(apierror.ActivationNotFound, "activation not found")
	}
	if act.Status != store.StatusActive {
		return CreateResult{}, apierror.New(apierror.ActivationIncorrectState, "activation is not ACTIVE")
	}

	plaintext, err := engine.DecryptRequest(cryptogram, version)
	if err != nil {
		return CreateResult{}, err
	}
	if len(plaintext) == 0 {
		return CreateResult{}, apierror.New(apierror.InvalidRequest, "create_token payload must not be empty")
	}

	tokenID, err := s.generateUniqueTokenID(ctx)
	if err != nil {
		return CreateResult{}, err
	}
	secret := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return CreateResult{}, apierror.Wrap(apierror.GenericCryptographyError, err)
	}

	if err := s.Store.CreateToken(ctx, store.Token{
		TokenID:              tokenID,
		TokenSecret:          secret,
		ActivationID:         activationID,
		SignatureTypeCreated: signatureType,
		CreatedAt:            time.Now(),
	}); err != nil {
		return CreateResult{}, apierror.Wrap(apierror.GenericCryptographyError, err)
	}

	return CreateResult{TokenID: tokenID, TokenSecret: secret}, nil
}

func (s *Service) generateUniqueTokenID(ctx context.Context) (string, error) {
	iterations := s.Cfg.TokenIDIterations
	if iterations <= 0 {
		iterations = 10
	}
	for i := 0; i < iterations; i++ {
		id := store.NewOpaqueID(16)
		if _, err := s.Store.GetToken(ctx, id); err == store.ErrNotFound {
			return id, nil
		}
	}
	return "", apierror.New(apierror.UnableToGenerateToken, "exhausted retries generating a unique token id")
}

// ValidateResult is returned by ValidateToken.
type ValidateResult struct {
	Valid         bool
	ActivationID  string
	ApplicationID string
	UserID        string
	SignatureType string
}

// ValidateToken implements §4.4's validate_token. A missing token
// returns {valid: false} rather than an error; an owning activation
// that is no longer ACTIVE is a hard error, since the token should
// have been removed along with deactivation.
func (s *Service) ValidateToken(ctx context.Context, tokenID string, nonce []byte, timestampMillis int64, digest []byte) (ValidateResult, error) {
	tok, err := s.Store.GetToken(ctx, tokenID)
	if err != nil {
		return ValidateResult{Valid: false}, nil
	}

	act, err := s.Store.GetActivation(ctx, tok.ActivationID)
	if err != nil {
		return ValidateResult{}, apierror.New(apierror.ActivationNotFound, "owning activation not found")
	}
	if act.Status != store.StatusActive {
		return ValidateResult{}, apierror.New(apierror.ActivationIncorrectState, "owning activation is not ACTIVE")
	}

	expected := cryptoprim.HMACSHA256(tok.TokenSecret, nonce, []byte(formatMillis(timestampMillis)))
	if !cryptoprim.ConstantTimeEqual(expected, digest) {
		return ValidateResult{Valid: false}, nil
	}

	return ValidateResult{
		Valid:         true,
		ActivationID:  act.ActivationID,
		ApplicationID: act.ApplicationID,
		UserID:        act.UserID,
		SignatureType: tok.SignatureTypeCreated,
	}, nil
}

// RemoveToken implements §4.4's remove_token: deletes only when the
// token belongs to activationID; idempotent.
func (s *Service) RemoveToken(ctx context.Context, tokenID, activationID string) error {
	tok, err := s.Store.GetToken(ctx, tokenID)
	if err != nil {
		return nil
	}
	if tok.ActivationID != activationID {
		return nil
	}
	return s.Store.DeleteToken(ctx, tokenID)
}

func formatMillis(ms int64) string {
	// ascii decimal rendering of the millisecond timestamp, matching
	// the wire contract's ascii(timestamp_millis).
	if ms == 0 {
		return "0"
	}
	neg := ms < 0
	if neg {
		ms = -ms
	}
	var buf [20]byte
	i := len(buf)
	for ms > 0 {
		i--
		buf[i] = byte('0' + ms%10)
		ms /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
