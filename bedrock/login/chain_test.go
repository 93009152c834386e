package login

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	jose "github.com/go-jose/go-jose/v3"

	"github.com/sandertv/gophertunnel/bedrock/login/jwt"
)

func signChainEntry(t *testing.T, key *ecdsa.PrivateKey, x5u string, payload chainPayload) string {
	t.Helper()
	alg := jose.ES384
	if key.Curve == elliptic.P256() {
		alg = jose.ES256
	}
	tok, err := jwt.New(alg, key, payload, map[jose.HeaderKey]interface{}{"x5u": x5u})
	if err != nil {
		t.Fatalf("sign chain entry: %v", err)
	}
	return tok
}

func marshalKey(t *testing.T, key *ecdsa.PrivateKey) string {
	t.Helper()
	s, err := jwt.MarshalPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	return s
}

// buildSelfSignedChain produces a single-entry chain signed by its own
// identityPublicKey, the minimal offline/self-signed shape (spec.md
// §4.4 point 2).
func buildSelfSignedChain(t *testing.T, identity uuid.UUID) ([]byte, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keyStr := marshalKey(t, key)
	now := time.Now()
	payload := chainPayload{
		IdentityPublicKey: keyStr,
		ExtraData: &extraData{
			XUID:        "1234567890",
			DisplayName: "Steve",
			Identity:    identity.String(),
		},
		NotBefore:      now.Add(-time.Minute).Unix(),
		ExpirationTime: now.Add(time.Hour).Unix(),
	}
	tok := signChainEntry(t, key, keyStr, payload)
	env := envelope{Chain: []string{tok}}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return raw, key
}

func TestValidateChainSelfSignedAccepted(t *testing.T) {
	id := uuid.New()
	raw, _ := buildSelfSignedChain(t, id)

	identity, err := ValidateChain(raw, false, false, nil)
	if err != nil {
		t.Fatalf("validate chain: %v", err)
	}
	if identity.Identity != id {
		t.Fatalf("identity = %v, want %v", identity.Identity, id)
	}
	if identity.DisplayName != "Steve" {
		t.Fatalf("display name = %q, want Steve", identity.DisplayName)
	}
	if identity.Authenticated {
		t.Fatalf("self-signed chain should not report Authenticated")
	}
}

func TestValidateChainOnlineModeRequiresMojangRoot(t *testing.T) {
	raw, _ := buildSelfSignedChain(t, uuid.New())

	if _, err := ValidateChain(raw, true, false, nil); err == nil {
		t.Fatalf("expected online mode without mojang root in chain to fail")
	}
}

func TestValidateChainTrustsMojangRootInChain(t *testing.T) {
	rootKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatalf("generate root key: %v", err)
	}
	rootKeyStr := marshalKey(t, rootKey)

	// Root entry: self-signed, certificateAuthority.
	rootPayload := chainPayload{
		IdentityPublicKey:    rootKeyStr,
		CertificateAuthority: true,
		NotBefore:            time.Now().Add(-time.Minute).Unix(),
		ExpirationTime:       time.Now().Add(time.Hour).Unix(),
	}
	rootTok := signChainEntry(t, rootKey, rootKeyStr, rootPayload)

	// Identity entry: signed by root, carries extraData.
	identityKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatalf("generate identity key: %v", err)
	}
	identityKeyStr := marshalKey(t, identityKey)
	id := uuid.New()
	identityPayload := chainPayload{
		IdentityPublicKey: identityKeyStr,
		ExtraData: &extraData{
			XUID:        "1234567890",
			DisplayName: "Alex",
			Identity:    id.String(),
		},
		NotBefore:      time.Now().Add(-time.Minute).Unix(),
		ExpirationTime: time.Now().Add(time.Hour).Unix(),
	}
	identityTok := signChainEntry(t, rootKey, rootKeyStr, identityPayload)

	env := envelope{Chain: []string{rootTok, identityTok}}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	identity, err := ValidateChain(raw, true, false, &rootKey.PublicKey)
	if err != nil {
		t.Fatalf("validate chain: %v", err)
	}
	if !identity.Authenticated {
		t.Fatalf("expected chain signed by pinned root to report Authenticated")
	}
	if identity.Identity != id {
		t.Fatalf("identity = %v, want %v", identity.Identity, id)
	}
}

func TestValidateChainRejectsExpiredEntry(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keyStr := marshalKey(t, key)
	payload := chainPayload{
		IdentityPublicKey: keyStr,
		ExtraData: &extraData{
			XUID:        "1",
			DisplayName: "Expired",
			Identity:    uuid.New().String(),
		},
		NotBefore:      time.Now().Add(-2 * time.Hour).Unix(),
		ExpirationTime: time.Now().Add(-time.Hour).Unix(),
	}
	tok := signChainEntry(t, key, keyStr, payload)
	raw, err := json.Marshal(envelope{Chain: []string{tok}})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	if _, err := ValidateChain(raw, false, false, nil); err == nil {
		t.Fatalf("expected expired chain entry to be rejected")
	}
}

func TestValidateChainRejectsEmptyChain(t *testing.T) {
	raw, err := json.Marshal(envelope{Chain: nil})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if _, err := ValidateChain(raw, false, false, nil); err == nil {
		t.Fatalf("expected empty chain to be rejected")
	}
}

func TestValidateChainRejectsOversizedChain(t *testing.T) {
	raw := make([]byte, maxChainBytes+1)
	if _, err := ValidateChain(raw, false, false, nil); err == nil {
		t.Fatalf("expected oversized chain to be rejected")
	}
}

func TestValidateChainAcceptsLegacyCertificateEnvelope(t *testing.T) {
	id := uuid.New()
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keyStr := marshalKey(t, key)
	payload := chainPayload{
		IdentityPublicKey: keyStr,
		ExtraData: &extraData{
			XUID:        "1",
			DisplayName: "Legacy",
			Identity:    id.String(),
		},
		NotBefore:      time.Now().Add(-time.Minute).Unix(),
		ExpirationTime: time.Now().Add(time.Hour).Unix(),
	}
	tok := signChainEntry(t, key, keyStr, payload)

	type legacyEnvelope struct {
		Certificate struct {
			Chain []string `json:"chain"`
		} `json:"Certificate"`
	}
	var env legacyEnvelope
	env.Certificate.Chain = []string{tok}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal legacy envelope: %v", err)
	}

	identity, err := ValidateChain(raw, false, false, nil)
	if err != nil {
		t.Fatalf("validate legacy envelope chain: %v", err)
	}
	if identity.Identity != id {
		t.Fatalf("identity = %v, want %v", identity.Identity, id)
	}
}

// TestValidateChainHonorsClientDeclaredGuestAuthType exercises the
// allow_legacy_auth acceptance branch (spec.md §4.4 point 5) with a
// client in online mode that declares itself Guest via the login
// envelope's own AuthenticationType field, not via server configuration.
func TestValidateChainHonorsClientDeclaredGuestAuthType(t *testing.T) {
	id := uuid.New()
	raw, _ := buildSelfSignedChain(t, id)

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	guest := uint32(AuthenticationGuest)
	env.AuthenticationType = &guest
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	identity, err := ValidateChain(raw, true, true, nil)
	if err != nil {
		t.Fatalf("validate chain: %v", err)
	}
	if identity.Identity != id {
		t.Fatalf("identity = %v, want %v", identity.Identity, id)
	}
	if identity.Authenticated {
		t.Fatalf("guest chain should not report Authenticated")
	}
}

// TestValidateChainRejectsOnlineModeFullAuthTypeWithoutMojangRoot confirms
// that a client declaring AuthenticationFull still cannot skip the
// Mojang root even under allow_legacy_auth, since the legacy branch only
// opens for Guest/SelfSigned (spec.md §4.4 point 5).
func TestValidateChainRejectsOnlineModeFullAuthTypeWithoutMojangRoot(t *testing.T) {
	raw, _ := buildSelfSignedChain(t, uuid.New())

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	full := uint32(AuthenticationFull)
	env.AuthenticationType = &full
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	if _, err := ValidateChain(raw, true, true, nil); err == nil {
		t.Fatalf("expected AuthenticationFull without mojang root to be rejected even with allow_legacy_auth")
	}
}

// TestValidateChainRejectsUnsupportedAuthenticationType confirms a
// client-declared AuthenticationType outside {Full, SelfSigned, Guest}
// fails as UnsupportedAuthType rather than silently falling back to a
// default.
func TestValidateChainRejectsUnsupportedAuthenticationType(t *testing.T) {
	raw, _ := buildSelfSignedChain(t, uuid.New())

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	bogus := uint32(99)
	env.AuthenticationType = &bogus
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	_, err = ValidateChain(raw, false, false, nil)
	authErr, ok := err.(*AuthError)
	if !ok || authErr.Kind != UnsupportedAuthType {
		t.Fatalf("err = %v, want UnsupportedAuthType", err)
	}
}
