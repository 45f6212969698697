// Package apierror defines the error taxonomy shared by every core
// component. Handlers return a *Error instead of a bare error so that
// the RPC boundary can map failures to wire-safe codes without ever
// leaking internals.
package apierror

import "fmt"

// Kind enumerates the distinct error conditions the core can signal.
// Wire-facing descriptions live at the RPC boundary, not here.
type Kind string

const (
	ActivationNotFound               Kind = "ACTIVATION_NOT_FOUND"
	ActivationExpired                Kind = "ACTIVATION_EXPIRED"
	ActivationIncorrectState         Kind = "ACTIVATION_INCORRECT_STATE"
	InvalidApplication                Kind = "INVALID_APPLICATION"
	InvalidKeyFormat                  Kind = "INVALID_KEY_FORMAT"
	IncorrectMasterServerKeypairPriv  Kind = "INCORRECT_MASTER_SERVER_KEYPAIR_PRIVATE"
	NoMasterServerKeypair              Kind = "NO_MASTER_SERVER_KEYPAIR"
	DecryptionFailed                  Kind = "DECRYPTION_FAILED"
	GenericCryptographyError          Kind = "GENERIC_CRYPTOGRAPHY_ERROR"
	InvalidCryptoProvider              Kind = "INVALID_CRYPTO_PROVIDER"
	InvalidInputFormat                 Kind = "INVALID_INPUT_FORMAT"
	InvalidRequest                    Kind = "INVALID_REQUEST"
	NoUserID                          Kind = "NO_USER_ID"
	NoApplicationID                   Kind = "NO_APPLICATION_ID"
	UnableToGenerateActivationID      Kind = "UNABLE_TO_GENERATE_ACTIVATION_ID"
	UnableToGenerateActivationCode    Kind = "UNABLE_TO_GENERATE_ACTIVATION_CODE"
	UnableToGenerateToken              Kind = "UNABLE_TO_GENERATE_TOKEN"
	UnableToGenerateRecoveryCode       Kind = "UNABLE_TO_GENERATE_RECOVERY_CODE"
	RecoveryCodeAlreadyExists          Kind = "RECOVERY_CODE_ALREADY_EXISTS"
	InvalidRecoveryCode                Kind = "INVALID_RECOVERY_CODE"
	InvalidURLFormat                   Kind = "INVALID_URL_FORMAT"
	UnknownError                      Kind = "UNKNOWN_ERROR"
)

// Error is the sum type every core operation returns on failure.
type Error struct {
	Kind Kind
	// Message is a short, internal-only description. Never sent to the
	// mobile client verbatim; the RPC boundary translates Kind to a
	// localized, canned message.
	Message string
	// Cause is the underlying error, if any. Kept for logging, never
	// serialized onto the wire.
	Cause error
	// Extra carries structured payload some errors must return, e.g.
	// INVALID_RECOVERY_CODE's current_puk_index.
	Extra map[string]any
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap builds an *Error of the given kind around an underlying cause.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Message: cause.Error(), Cause: cause}
}

// WithExtra attaches structured payload to an error and returns it for
// chaining, e.g. apierror.New(...).WithExtra("current_puk_index", 1).
func (e *Error) WithExtra(key string, value any) *Error {
	if e.Extra == nil {
		e.Extra = map[string]any{}
	}
	e.Extra[key] = value
	return e
}

// allKinds enumerates every Kind the core can signal, backing
// getErrorCodeList (§6) so a client can build a localized message table
// without hardcoding the taxonomy.
var allKinds = []Kind{
	ActivationNotFound, ActivationExpired, ActivationIncorrectState,
	InvalidApplication, InvalidKeyFormat, IncorrectMasterServerKeypairPriv,
	NoMasterServerKeypair, DecryptionFailed, GenericCryptographyError,
	InvalidCryptoProvider, InvalidInputFormat, InvalidRequest, NoUserID,
	NoApplicationID, UnableToGenerateActivationID, UnableToGenerateActivationCode,
	UnableToGenerateToken, UnableToGenerateRecoveryCode, RecoveryCodeAlreadyExists,
	InvalidRecoveryCode, InvalidURLFormat, UnknownError,
}

// AllKinds returns the full error taxonomy as wire-safe strings.
func AllKinds() []string {
	out := make([]string, len(allKinds))
	for i, k := range allKinds {
		out[i] = string(k)
	}
	return out
}

// Is reports whether err carries the given Kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	var aerr *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			aerr = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return aerr != nil && aerr.Kind == kind
}
