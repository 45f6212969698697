// Package activationpb holds the hand-declared request/response Go
// types that make up the RPC wire contract (§6). Protobuf codegen
// itself is out of scope — these types are what a generated
// google.golang.org/grpc service would otherwise produce, following
// the teacher's precedent of keeping proto-adjacent Go types alongside
// generated ones (server/serialization.go).
package activationpb

// EciesCryptogram is the wire form of an ECIES-encrypted payload.
type EciesCryptogram struct {
	EphemeralPublicKey string // base64
	EncryptedData      string // base64
	MAC                string // base64
	Nonce              string // base64, protocol V3.1 only
}

type InitActivationRequest struct {
	ApplicationID    string
	UserID           string
	MaxFailureCount  *uint64
	ExpireAtUnixSec  *int64
}

type InitActivationResponse struct {
	ActivationID        string
	ActivationCode       string
	ActivationSignature  string // base64
	UserID               string
	ApplicationID        string
}

type PrepareActivationRequest struct {
	ActivationCode string
	ApplicationKey string
	Cryptogram     EciesCryptogram
	ProtocolV31    bool
}

type CreateActivationRequest struct {
	ApplicationID   string
	UserID          string
	ApplicationKey  string
	Cryptogram      EciesCryptogram
	ProtocolV31     bool
	MaxFailureCount *uint64
	ExpireAtUnixSec *int64
}

type ActivationLayerTwoResponse struct {
	ActivationID     string
	Cryptogram       EciesCryptogram
	RecoveryIncluded bool
}

type CommitActivationRequest struct {
	ActivationID   string
	ExternalUserID *string
}

type CommitActivationResponse struct {
	Activated bool
}

type BlockActivationRequest struct {
	ActivationID string
	Reason       string
}

type UnblockActivationRequest struct {
	ActivationID string
}

type RemoveActivationRequest struct {
	ActivationID string
}

type GetStatusRequest struct {
	ActivationID string
	Challenge    string // base64, optional
}

type GetStatusResponse struct {
	EncryptedStatusBlob string // base64
	Nonce                string // base64, present iff Challenge was present
	ActivationCode       string
	ActivationSignature  string // base64
	Status               string
}

type GetActivationListRequest struct {
	ApplicationID string
	UserID        string
}

type ActivationSummary struct {
	ActivationID   string
	ActivationName string
	Status         string
	Version        int
	CreatedAt      string // RFC3339
}

type GetActivationListResponse struct {
	Activations []ActivationSummary
}

type LookupActivationsRequest struct {
	ActivationID string
}

type GetErrorCodeListResponse struct {
	ErrorCodes []string
}

type GetActivationHistoryRequest struct {
	ActivationID string
}

type ActivationHistoryItem struct {
	Status      string
	EventReason string
	CreatedAt   string // RFC3339
}

type GetActivationHistoryResponse struct {
	History []ActivationHistoryItem
}

type UpdateStatusBulkRequest struct {
	ActivationIDs []string
	Status        string
	Reason        string
}

type CreateTokenRequest struct {
	ActivationID  string
	Cryptogram    EciesCryptogram
	ProtocolV31   bool
	SignatureType string
}

type CreateTokenResponse struct {
	Cryptogram EciesCryptogram
}

type ValidateTokenRequest struct {
	TokenID         string
	Nonce           string // base64
	TimestampMillis int64
	Digest          string // base64
}

type ValidateTokenResponse struct {
	Valid         bool
	ActivationID  string
	ApplicationID string
	UserID        string
	SignatureType string
}

type RemoveTokenRequest struct {
	TokenID      string
	ActivationID string
}

type VerifySignatureRequest struct {
	ActivationID  string
	DataToSign    string // base64
	Signature     string // base64
	SignatureType string
}

type VerifySignatureResponse struct {
	SignatureValid bool
}

type VerifyECDSASignatureRequest struct {
	ActivationID string
	Data         string // base64
	Signature    string // base64, ASN.1 DER
}

type VerifyECDSASignatureResponse struct {
	SignatureValid bool
}

type CreateOfflineSignaturePayloadRequest struct {
	ActivationID string
	Data         string
}

type CreateOfflineSignaturePayloadResponse struct {
	OfflineDataPayload string
	Nonce              string // base64
}

type VerifyOfflineSignatureRequest struct {
	ActivationID string
	Data         string
	Signature    string
}

type VerifyOfflineSignatureResponse struct {
	SignatureValid bool
}

type VaultUnlockRequest struct {
	ActivationID string
	Cryptogram   EciesCryptogram
	ProtocolV31  bool
}

type VaultUnlockResponse struct {
	Cryptogram EciesCryptogram
}

type GetEciesDecryptorRequest struct {
	ApplicationKey     string
	ActivationID       string // optional; empty selects application scope
	EphemeralPublicKey string // base64
}

type GetEciesDecryptorResponse struct {
	SecretKey   string // base64
	SharedInfo2 string // base64
}

type CreateViaRecoveryRequest struct {
	ApplicationID  string
	UserID         string
	RecoveryCode   string
	PUK            string
	ApplicationKey string
	Cryptogram     EciesCryptogram
	ProtocolV31    bool
}

type GetSignatureAuditLogRequest struct {
	ActivationID string
}

// StartUpgradeResponse carries the freshly seeded v3 ctr_data back to
// the caller so it can be delivered to the device out of band (the
// upgrade handshake has no dedicated device-facing envelope of its
// own — it rides inside whatever transport the caller already uses).
type StartUpgradeResponse struct {
	CtrData string // base64
}

type SignatureAuditLogItem struct {
	Factor    string
	Counter   uint64
	Valid     bool
	IPAddress string
}

type GetSignatureAuditLogResponse struct {
	Entries []SignatureAuditLogItem
}
