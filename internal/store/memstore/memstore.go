// Package memstore is an in-process, map-backed implementation of
// store.Storage, modelled on the teacher's storage/memory package: a
// single mutex guarding a handful of maps, used for unit and property
// tests and as a zero-dependency development mode.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/powerauth/activationserver/internal/store"
)

type Store struct {
	mu sync.Mutex

	applications map[string]store.Application
	versions     map[string]store.ApplicationVersion // keyed by ApplicationKey
	masterKeys   map[string][]store.MasterKeyPair     // keyed by ApplicationID

	activations     map[string]store.Activation
	history         map[string][]store.ActivationHistoryEntry // keyed by ActivationID

	recoveryCodes map[string]store.RecoveryCode // keyed by ID
	pukByCode     map[string][]string           // recoveryCodeID -> puk IDs, in insertion order
	puks          map[string]store.RecoveryPUK  // keyed by ID

	tokens       map[string]store.Token
	callbackURLs map[string][]store.CallbackURL // keyed by ApplicationID
}

func New() *Store {
	return &Store{
		applications:  map[string]store.Application{},
		versions:      map[string]store.ApplicationVersion{},
		masterKeys:    map[string][]store.MasterKeyPair{},
		activations:   map[string]store.Activation{},
		history:       map[string][]store.ActivationHistoryEntry{},
		recoveryCodes: map[string]store.RecoveryCode{},
		pukByCode:     map[string][]string{},
		puks:          map[string]store.RecoveryPUK{},
		tokens:        map[string]store.Token{},
		callbackURLs:  map[string][]store.CallbackURL{},
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) CreateApplication(_ context.Context, a store.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.applications[a.ID]; ok {
		return store.ErrAlreadyExists
	}
	s.applications[a.ID] = a
	return nil
}

func (s *Store) CreateApplicationVersion(_ context.Context, v store.ApplicationVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.versions[v.ApplicationKey]; ok {
		return store.ErrAlreadyExists
	}
	s.versions[v.ApplicationKey] = v
	return nil
}

func (s *Store) CreateMasterKeyPair(_ context.Context, k store.MasterKeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.masterKeys[k.ApplicationID] = append(s.masterKeys[k.ApplicationID], k)
	return nil
}

func (s *Store) CreateActivation(_ context.Context, a store.Activation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.activations[a.ActivationID]; ok {
		return store.ErrAlreadyExists
	}
	for _, existing := range s.activations {
		if existing.ApplicationID == a.ApplicationID && existing.ActivationCode == a.ActivationCode &&
			existing.Status == store.StatusCreated {
			return store.ErrAlreadyExists
		}
	}
	s.activations[a.ActivationID] = a
	return nil
}

func (s *Store) CreateRecoveryCode(_ context.Context, r store.RecoveryCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recoveryCodes[r.ID]; ok {
		return store.ErrAlreadyExists
	}
	for _, existing := range s.recoveryCodes {
		if existing.ApplicationID == r.ApplicationID && existing.RecoveryCode == r.RecoveryCode {
			return store.ErrAlreadyExists
		}
	}
	s.recoveryCodes[r.ID] = r
	return nil
}

func (s *Store) CreateRecoveryPUK(_ context.Context, p store.RecoveryPUK) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.puks[p.ID]; ok {
		return store.ErrAlreadyExists
	}
	s.puks[p.ID] = p
	s.pukByCode[p.RecoveryCodeID] = append(s.pukByCode[p.RecoveryCodeID], p.ID)
	return nil
}

func (s *Store) CreateToken(_ context.Context, t store.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[t.TokenID]; ok {
		return store.ErrAlreadyExists
	}
	s.tokens[t.TokenID] = t
	return nil
}

func (s *Store) CreateCallbackURL(_ context.Context, c store.CallbackURL) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbackURLs[c.ApplicationID] = append(s.callbackURLs[c.ApplicationID], c)
	return nil
}

func (s *Store) AppendActivationHistory(_ context.Context, e store.ActivationHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[e.ActivationID] = append(s.history[e.ActivationID], e)
	return nil
}

func (s *Store) GetApplication(_ context.Context, id string) (store.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.applications[id]
	if !ok {
		return store.Application{}, store.ErrNotFound
	}
	return a, nil
}

func (s *Store) GetApplicationVersionByKey(_ context.Context, applicationKey string) (store.ApplicationVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[applicationKey]
	if !ok {
		return store.ApplicationVersion{}, store.ErrNotFound
	}
	return v, nil
}

func (s *Store) GetCurrentMasterKeyPair(_ context.Context, applicationID string) (store.MasterKeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := s.masterKeys[applicationID]
	if len(keys) == 0 {
		return store.MasterKeyPair{}, store.ErrNotFound
	}
	latest := keys[0]
	for _, k := range keys[1:] {
		if k.CreatedAt.After(latest.CreatedAt) {
			latest = k
		}
	}
	return latest, nil
}

func (s *Store) GetActivation(_ context.Context, id string) (store.Activation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.activations[id]
	if !ok {
		return store.Activation{}, store.ErrNotFound
	}
	return a, nil
}

func (s *Store) FindActivationByCode(_ context.Context, applicationID, code string) (store.Activation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.activations {
		if a.ApplicationID == applicationID && a.ActivationCode == code {
			return a, nil
		}
	}
	return store.Activation{}, store.ErrNotFound
}

func (s *Store) ListActivationsByUser(_ context.Context, applicationID, userID string) ([]store.Activation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Activation
	for _, a := range s.activations {
		if a.ApplicationID == applicationID && a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListActivationHistory(_ context.Context, activationID string) ([]store.ActivationHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.ActivationHistoryEntry, len(s.history[activationID]))
	copy(out, s.history[activationID])
	return out, nil
}

func (s *Store) GetRecoveryCode(_ context.Context, applicationID, code string) (store.RecoveryCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recoveryCodes {
		if r.ApplicationID == applicationID && r.RecoveryCode == code {
			return r, nil
		}
	}
	return store.RecoveryCode{}, store.ErrNotFound
}

func (s *Store) GetRecoveryCodeByActivation(_ context.Context, activationID string) (store.RecoveryCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recoveryCodes {
		if r.ActivationID == activationID {
			return r, nil
		}
	}
	return store.RecoveryCode{}, store.ErrNotFound
}

func (s *Store) ListRecoveryPUKs(_ context.Context, recoveryCodeID string) ([]store.RecoveryPUK, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.pukByCode[recoveryCodeID]
	out := make([]store.RecoveryPUK, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.puks[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PUKIndex < out[j].PUKIndex })
	return out, nil
}

func (s *Store) GetToken(_ context.Context, tokenID string) (store.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenID]
	if !ok {
		return store.Token{}, store.ErrNotFound
	}
	return t, nil
}

func (s *Store) ListCallbackURLs(_ context.Context, applicationID string) ([]store.CallbackURL, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.CallbackURL, len(s.callbackURLs[applicationID]))
	copy(out, s.callbackURLs[applicationID])
	return out, nil
}

// UpdateActivation is the sole mutation primitive for activations. The
// single process-wide mutex held for the duration of updater gives the
// same exclusion guarantee a real "SELECT ... FOR UPDATE" transaction
// gives sqlstore: only one in-flight update per activation (indeed per
// store) at a time.
func (s *Store) UpdateActivation(_ context.Context, id string, updater func(store.Activation) (store.Activation, error)) (store.Activation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.activations[id]
	if !ok {
		return store.Activation{}, store.ErrNotFound
	}
	next, err := updater(cur)
	if err != nil {
		return store.Activation{}, err
	}
	s.activations[id] = next
	return next, nil
}

func (s *Store) UpdateRecoveryCode(_ context.Context, id string, updater func(store.RecoveryCode) (store.RecoveryCode, error)) (store.RecoveryCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.recoveryCodes[id]
	if !ok {
		return store.RecoveryCode{}, store.ErrNotFound
	}
	next, err := updater(cur)
	if err != nil {
		return store.RecoveryCode{}, err
	}
	s.recoveryCodes[id] = next
	return next, nil
}

func (s *Store) UpdateRecoveryPUK(_ context.Context, id string, updater func(store.RecoveryPUK) (store.RecoveryPUK, error)) (store.RecoveryPUK, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.puks[id]
	if !ok {
		return store.RecoveryPUK{}, store.ErrNotFound
	}
	next, err := updater(cur)
	if err != nil {
		return store.RecoveryPUK{}, err
	}
	s.puks[id] = next
	return next, nil
}

func (s *Store) DeleteToken(_ context.Context, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, tokenID)
	return nil
}

func (s *Store) GarbageCollect(_ context.Context, now time.Time) (store.GCResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result store.GCResult
	for id, a := range s.activations {
		if (a.Status == store.StatusCreated || a.Status == store.StatusOTPUsed) && now.After(a.ExpiresAt) {
			a.Status = store.StatusRemoved
			a.LastChangedAt = now
			s.activations[id] = a
			result.ExpiredActivations++
		}
	}
	return result, nil
}
