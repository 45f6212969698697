package sqlstore

import (
	"context"

	"github.com/lib/pq"

	"github.com/powerauth/activationserver/internal/store"
)

func (s *Store) CreateApplication(ctx context.Context, a store.Application) error {
	_, err := s.db.ExecContext(ctx,
		`insert into application (id, name, roles) values ($1, $2, $3)`,
		a.ID, a.Name, pq.Array(a.Roles))
	return mapRowErr(err)
}

func (s *Store) CreateApplicationVersion(ctx context.Context, v store.ApplicationVersion) error {
	_, err := s.db.ExecContext(ctx,
		`insert into application_version (id, application_id, application_key, application_secret, supported)
		 values ($1, $2, $3, $4, $5)`,
		v.ID, v.ApplicationID, v.ApplicationKey, v.ApplicationSecret, v.Supported)
	return mapRowErr(err)
}

func (s *Store) CreateMasterKeyPair(ctx context.Context, k store.MasterKeyPair) error {
	_, err := s.db.ExecContext(ctx,
		`insert into master_key_pair (id, application_id, master_private_key_mode, master_private_key_blob, master_public_key, created_at)
		 values ($1, $2, $3, $4, $5, $6)`,
		k.ID, k.ApplicationID, k.MasterPrivateKeyRec.Mode, k.MasterPrivateKeyRec.Ciphertext, k.MasterPublicKey, k.CreatedAt)
	return mapRowErr(err)
}

func (s *Store) CreateActivation(ctx context.Context, a store.Activation) error {
	_, err := s.db.ExecContext(ctx, `
		insert into activation (
			activation_id, application_id, user_id, activation_name, activation_code,
			status, blocked_reason, counter, ctr_data, device_public_key,
			server_private_key_mode, server_private_key_blob, server_public_key,
			failed_attempts, max_failed_attempts, expires_at, created_at, last_used_at,
			last_changed_at, master_keypair_id, version, extras, flags
		) values (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23
		)`,
		a.ActivationID, a.ApplicationID, a.UserID, a.ActivationName, a.ActivationCode,
		a.Status, a.BlockedReason, a.Counter, a.CtrData, a.DevicePublicKey,
		a.ServerPrivateKeyRec.Mode, a.ServerPrivateKeyRec.Ciphertext, a.ServerPublicKey,
		a.FailedAttempts, a.MaxFailedAttempts, a.ExpiresAt, a.CreatedAt, nullTime(a.LastUsedAt),
		a.LastChangedAt, a.MasterKeyPairID, a.Version, a.Extras, jsonColumn{&a.Flags})
	return mapRowErr(err)
}

func (s *Store) CreateRecoveryCode(ctx context.Context, r store.RecoveryCode) error {
	_, err := s.db.ExecContext(ctx, `
		insert into recovery_code (
			id, application_id, user_id, activation_id, recovery_code, status,
			failed_attempts, max_failed_attempts, created_at
		) values ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.ApplicationID, r.UserID, nullString(r.ActivationID), r.RecoveryCode, r.Status,
		r.FailedAttempts, r.MaxFailedAttempts, r.CreatedAt)
	return mapRowErr(err)
}

func (s *Store) CreateRecoveryPUK(ctx context.Context, p store.RecoveryPUK) error {
	_, err := s.db.ExecContext(ctx, `
		insert into recovery_puk (id, recovery_code_id, puk_index, puk_hash_mode, puk_hash_blob, status, last_changed_at)
		values ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.RecoveryCodeID, p.PUKIndex, p.PUKHashRec.Mode, p.PUKHashRec.Ciphertext, p.Status, p.LastChangedAt)
	return mapRowErr(err)
}

func (s *Store) CreateToken(ctx context.Context, t store.Token) error {
	_, err := s.db.ExecContext(ctx, `
		insert into token (token_id, token_secret, activation_id, signature_type_created, created_at)
		values ($1, $2, $3, $4, $5)`,
		t.TokenID, t.TokenSecret, t.ActivationID, t.SignatureTypeCreated, t.CreatedAt)
	return mapRowErr(err)
}

func (s *Store) CreateCallbackURL(ctx context.Context, c store.CallbackURL) error {
	_, err := s.db.ExecContext(ctx, `
		insert into callback_url (id, application_id, name, url, attributes)
		values ($1, $2, $3, $4, $5)`,
		c.ID, c.ApplicationID, c.Name, c.URL, pq.Array(c.Attributes))
	return mapRowErr(err)
}

func (s *Store) AppendActivationHistory(ctx context.Context, e store.ActivationHistoryEntry) error {
	_, err := s.db.ExecContext(ctx, `
		insert into activation_history (id, activation_id, status, event_reason, created_at)
		values ($1, $2, $3, $4, $5)`,
		e.ID, e.ActivationID, e.Status, e.EventReason, e.CreatedAt)
	return mapRowErr(err)
}

func nullTime(t interface{ IsZero() bool }) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
