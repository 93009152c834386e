// Package login implements Bedrock login-chain validation: the
// self-signed-or-Mojang-pinned JWT chain walk, extraData extraction,
// and the exp/nbf temporal check (spec.md §4.4 "Login packet
// processing", §8 property 6). Grounded on the teacher's
// login.Verify/login.Decode call sites in conn.go's handleLogin, which
// this package implements from scratch since the retrieval pack does
// not include gophertunnel's own internal login package source.
package login

import (
	"crypto"

	"github.com/google/uuid"
)

// AuthenticationType is the client-declared authentication kind, read
// from the login envelope's AuthenticationType field, that decides whether
// a non-Mojang-signed chain may be accepted under allow_legacy_auth
// (spec.md §4.4 point 5).
type AuthenticationType int32

const (
	AuthenticationFull AuthenticationType = iota
	AuthenticationSelfSigned
	AuthenticationGuest
)

// Identity is the decoded result of a successfully validated login
// chain (spec.md §4.4 point 3: "XUID, displayName, identity (UUID)").
type Identity struct {
	XUID        string
	DisplayName string
	Identity    uuid.UUID

	// IdentityPublicKey is the outermost chain entry's own key, the
	// client's long-term identity key preserved for the encryption
	// handshake (spec.md §4.4 point 3).
	IdentityPublicKey crypto.PublicKey

	// Authenticated reports whether the chain was signed by the pinned
	// Mojang root, as opposed to accepted only because legacy/self-signed
	// auth is permitted.
	Authenticated bool
}
