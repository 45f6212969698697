package sqlstore

import (
	"context"
	"database/sql"

	"github.com/powerauth/activationserver/internal/store"
)

// UpdateActivation implements the find_with_lock pattern: it selects
// the row "FOR UPDATE" inside a serializable transaction, hands it to
// updater, and writes back whatever updater returns. If Postgres
// detects a serialization conflict with a concurrent updater on the
// same row, executeTx retries the whole attempt.
func (s *Store) UpdateActivation(ctx context.Context, id string, updater func(store.Activation) (store.Activation, error)) (store.Activation, error) {
	var result store.Activation
	err := s.executeTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `select `+activationColumns+` from activation where activation_id = $1 for update`, id)
		cur, err := scanActivation(row)
		if err != nil {
			return mapRowErr(err)
		}

		next, err := updater(cur)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			update activation set
				application_id = $2, user_id = $3, activation_name = $4, activation_code = $5,
				status = $6, blocked_reason = $7, counter = $8, ctr_data = $9, device_public_key = $10,
				server_private_key_mode = $11, server_private_key_blob = $12, server_public_key = $13,
				failed_attempts = $14, max_failed_attempts = $15, expires_at = $16, last_used_at = $17,
				last_changed_at = $18, master_keypair_id = $19, version = $20, extras = $21, flags = $22
			where activation_id = $1`,
			next.ActivationID, next.ApplicationID, next.UserID, next.ActivationName, next.ActivationCode,
			next.Status, next.BlockedReason, next.Counter, next.CtrData, next.DevicePublicKey,
			next.ServerPrivateKeyRec.Mode, next.ServerPrivateKeyRec.Ciphertext, next.ServerPublicKey,
			next.FailedAttempts, next.MaxFailedAttempts, next.ExpiresAt, nullTime(next.LastUsedAt),
			next.LastChangedAt, next.MasterKeyPairID, next.Version, next.Extras, jsonColumn{&next.Flags})
		if err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return store.Activation{}, err
	}
	return result, nil
}

func (s *Store) UpdateRecoveryCode(ctx context.Context, id string, updater func(store.RecoveryCode) (store.RecoveryCode, error)) (store.RecoveryCode, error) {
	var result store.RecoveryCode
	err := s.executeTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			select id, application_id, user_id, activation_id, recovery_code, status, failed_attempts, max_failed_attempts, created_at
			from recovery_code where id = $1 for update`, id)

		var cur store.RecoveryCode
		var activationID sql.NullString
		err := row.Scan(&cur.ID, &cur.ApplicationID, &cur.UserID, &activationID, &cur.RecoveryCode, &cur.Status, &cur.FailedAttempts, &cur.MaxFailedAttempts, &cur.CreatedAt)
		if err != nil {
			return mapRowErr(err)
		}
		cur.ActivationID = activationID.String

		next, err := updater(cur)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			update recovery_code set
				activation_id = $2, status = $3, failed_attempts = $4, max_failed_attempts = $5
			where id = $1`,
			next.ID, nullString(next.ActivationID), next.Status, next.FailedAttempts, next.MaxFailedAttempts)
		if err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return store.RecoveryCode{}, err
	}
	return result, nil
}

func (s *Store) UpdateRecoveryPUK(ctx context.Context, id string, updater func(store.RecoveryPUK) (store.RecoveryPUK, error)) (store.RecoveryPUK, error) {
	var result store.RecoveryPUK
	err := s.executeTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			select id, recovery_code_id, puk_index, puk_hash_mode, puk_hash_blob, status, last_changed_at
			from recovery_puk where id = $1 for update`, id)

		var cur store.RecoveryPUK
		err := row.Scan(&cur.ID, &cur.RecoveryCodeID, &cur.PUKIndex, &cur.PUKHashRec.Mode, &cur.PUKHashRec.Ciphertext, &cur.Status, &cur.LastChangedAt)
		if err != nil {
			return mapRowErr(err)
		}

		next, err := updater(cur)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			update recovery_puk set puk_hash_mode = $2, puk_hash_blob = $3, status = $4, last_changed_at = $5
			where id = $1`,
			next.ID, next.PUKHashRec.Mode, next.PUKHashRec.Ciphertext, next.Status, next.LastChangedAt)
		if err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return store.RecoveryPUK{}, err
	}
	return result, nil
}

func (s *Store) DeleteToken(ctx context.Context, tokenID string) error {
	_, err := s.db.ExecContext(ctx, `delete from token where token_id = $1`, tokenID)
	return err
}
