package sqlstore

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/powerauth/activationserver/internal/store"
)

func (s *Store) GetApplication(ctx context.Context, id string) (store.Application, error) {
	var a store.Application
	var roles pq.StringArray
	err := s.db.QueryRowContext(ctx, `select id, name, roles from application where id = $1`, id).
		Scan(&a.ID, &a.Name, &roles)
	if err != nil {
		return store.Application{}, mapRowErr(err)
	}
	a.Roles = []string(roles)
	return a, nil
}

func (s *Store) GetApplicationVersionByKey(ctx context.Context, applicationKey string) (store.ApplicationVersion, error) {
	var v store.ApplicationVersion
	err := s.db.QueryRowContext(ctx, `
		select id, application_id, application_key, application_secret, supported
		from application_version where application_key = $1`, applicationKey).
		Scan(&v.ID, &v.ApplicationID, &v.ApplicationKey, &v.ApplicationSecret, &v.Supported)
	return v, mapRowErr(err)
}

func (s *Store) GetCurrentMasterKeyPair(ctx context.Context, applicationID string) (store.MasterKeyPair, error) {
	var k store.MasterKeyPair
	err := s.db.QueryRowContext(ctx, `
		select id, application_id, master_private_key_mode, master_private_key_blob, master_public_key, created_at
		from master_key_pair where application_id = $1
		order by created_at desc limit 1`, applicationID).
		Scan(&k.ID, &k.ApplicationID, &k.MasterPrivateKeyRec.Mode, &k.MasterPrivateKeyRec.Ciphertext, &k.MasterPublicKey, &k.CreatedAt)
	return k, mapRowErr(err)
}

const activationColumns = `
	activation_id, application_id, user_id, activation_name, activation_code,
	status, blocked_reason, counter, ctr_data, device_public_key,
	server_private_key_mode, server_private_key_blob, server_public_key,
	failed_attempts, max_failed_attempts, expires_at, created_at, last_used_at,
	last_changed_at, master_keypair_id, version, extras, flags`

func scanActivation(row interface {
	Scan(dest ...interface{}) error
}) (store.Activation, error) {
	var a store.Activation
	var lastUsed sql.NullTime
	err := row.Scan(
		&a.ActivationID, &a.ApplicationID, &a.UserID, &a.ActivationName, &a.ActivationCode,
		&a.Status, &a.BlockedReason, &a.Counter, &a.CtrData, &a.DevicePublicKey,
		&a.ServerPrivateKeyRec.Mode, &a.ServerPrivateKeyRec.Ciphertext, &a.ServerPublicKey,
		&a.FailedAttempts, &a.MaxFailedAttempts, &a.ExpiresAt, &a.CreatedAt, &lastUsed,
		&a.LastChangedAt, &a.MasterKeyPairID, &a.Version, &a.Extras, jsonColumn{&a.Flags})
	if err != nil {
		return store.Activation{}, err
	}
	if lastUsed.Valid {
		a.LastUsedAt = lastUsed.Time
	}
	return a, nil
}

func (s *Store) GetActivation(ctx context.Context, id string) (store.Activation, error) {
	row := s.db.QueryRowContext(ctx, `select `+activationColumns+` from activation where activation_id = $1`, id)
	a, err := scanActivation(row)
	if err != nil {
		return store.Activation{}, mapRowErr(err)
	}
	return a, nil
}

func (s *Store) FindActivationByCode(ctx context.Context, applicationID, code string) (store.Activation, error) {
	row := s.db.QueryRowContext(ctx, `select `+activationColumns+` from activation where application_id = $1 and activation_code = $2`, applicationID, code)
	a, err := scanActivation(row)
	if err != nil {
		return store.Activation{}, mapRowErr(err)
	}
	return a, nil
}

func (s *Store) ListActivationsByUser(ctx context.Context, applicationID, userID string) ([]store.Activation, error) {
	rows, err := s.db.QueryContext(ctx, `select `+activationColumns+` from activation where application_id = $1 and user_id = $2 order by created_at`, applicationID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Activation
	for rows.Next() {
		a, err := scanActivation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) ListActivationHistory(ctx context.Context, activationID string) ([]store.ActivationHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, activation_id, status, event_reason, created_at
		from activation_history where activation_id = $1 order by created_at`, activationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ActivationHistoryEntry
	for rows.Next() {
		var e store.ActivationHistoryEntry
		if err := rows.Scan(&e.ID, &e.ActivationID, &e.Status, &e.EventReason, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) GetRecoveryCode(ctx context.Context, applicationID, code string) (store.RecoveryCode, error) {
	return s.scanRecoveryCodeRow(s.db.QueryRowContext(ctx, `
		select id, application_id, user_id, activation_id, recovery_code, status, failed_attempts, max_failed_attempts, created_at
		from recovery_code where application_id = $1 and recovery_code = $2`, applicationID, code))
}

func (s *Store) GetRecoveryCodeByActivation(ctx context.Context, activationID string) (store.RecoveryCode, error) {
	return s.scanRecoveryCodeRow(s.db.QueryRowContext(ctx, `
		select id, application_id, user_id, activation_id, recovery_code, status, failed_attempts, max_failed_attempts, created_at
		from recovery_code where activation_id = $1`, activationID))
}

func (s *Store) scanRecoveryCodeRow(row *sql.Row) (store.RecoveryCode, error) {
	var r store.RecoveryCode
	var activationID sql.NullString
	err := row.Scan(&r.ID, &r.ApplicationID, &r.UserID, &activationID, &r.RecoveryCode, &r.Status, &r.FailedAttempts, &r.MaxFailedAttempts, &r.CreatedAt)
	if err != nil {
		return store.RecoveryCode{}, mapRowErr(err)
	}
	r.ActivationID = activationID.String
	return r, nil
}

func (s *Store) ListRecoveryPUKs(ctx context.Context, recoveryCodeID string) ([]store.RecoveryPUK, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, recovery_code_id, puk_index, puk_hash_mode, puk_hash_blob, status, last_changed_at
		from recovery_puk where recovery_code_id = $1 order by puk_index`, recoveryCodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.RecoveryPUK
	for rows.Next() {
		var p store.RecoveryPUK
		if err := rows.Scan(&p.ID, &p.RecoveryCodeID, &p.PUKIndex, &p.PUKHashRec.Mode, &p.PUKHashRec.Ciphertext, &p.Status, &p.LastChangedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetToken(ctx context.Context, tokenID string) (store.Token, error) {
	var t store.Token
	err := s.db.QueryRowContext(ctx, `
		select token_id, token_secret, activation_id, signature_type_created, created_at
		from token where token_id = $1`, tokenID).
		Scan(&t.TokenID, &t.TokenSecret, &t.ActivationID, &t.SignatureTypeCreated, &t.CreatedAt)
	return t, mapRowErr(err)
}

func (s *Store) ListCallbackURLs(ctx context.Context, applicationID string) ([]store.CallbackURL, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, application_id, name, url, attributes
		from callback_url where application_id = $1`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.CallbackURL
	for rows.Next() {
		var c store.CallbackURL
		var attrs pq.StringArray
		if err := rows.Scan(&c.ID, &c.ApplicationID, &c.Name, &c.URL, &attrs); err != nil {
			return nil, err
		}
		c.Attributes = []string(attrs)
		out = append(out, c)
	}
	return out, rows.Err()
}
