package ecies

// Scope selects the sharedInfo1 constant used for envelope-key
// derivation. Bit-exact strings are part of the wire contract — they
// must never be altered once deployed.
type Scope string

const (
	ScopeApplicationGeneric Scope = "/pa/generic/application"
	ScopeActivationGeneric  Scope = "/pa/generic/activation"
	ScopeActivationLayer2   Scope = "/pa/activation"
	ScopeCreateToken        Scope = "/pa/token/create"
	ScopeVaultUnlock        Scope = "/pa/vault/unlock"
)

// SharedInfo1 returns the sharedInfo1 byte string for the scope.
func (s Scope) SharedInfo1() []byte { return []byte(s) }
