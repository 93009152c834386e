package login

import (
	"crypto"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/sandertv/gophertunnel/bedrock/login/jwt"
)

// Size/count bounds from spec.md §4.4 point 1: "Bound total size
// (reject >3 MiB of JWTs; reject chains >3 entries; reject individual
// JWTs >128 KiB)".
const (
	maxChainBytes   = 3 * 1024 * 1024
	maxChainEntries = 3
	maxTokenBytes   = 128 * 1024
)

// temporalSkew is the tolerance applied to exp/nbf validation (spec.md
// §4.4 point 6: "a modest skew tolerance").
const temporalSkew = 1 * time.Minute

// envelope is the outer login-request shape: either a bare "chain"
// array, or the legacy {"Certificate":{"chain":[...]}} wrapper some
// older clients still send (spec.md §4.4 point 1). AuthenticationType is
// a sibling field of chain/Certificate, the client's own declaration of
// whether it is authenticating as a full Mojang-signed, self-signed, or
// guest identity (spec.md §4.4 point 5; original_source/crates/jolyne's
// AuthInfo carries it the same way, outside the certificate itself).
type envelope struct {
	Chain       []string `json:"chain"`
	Certificate *struct {
		Chain []string `json:"chain"`
	} `json:"Certificate,omitempty"`
	AuthenticationType *uint32 `json:"AuthenticationType,omitempty"`
}

// chainPayload is one chain entry's JSON payload.
type chainPayload struct {
	IdentityPublicKey    string     `json:"identityPublicKey"`
	CertificateAuthority bool       `json:"certificateAuthority,omitempty"`
	ExtraData            *extraData `json:"extraData,omitempty"`
	NotBefore            int64      `json:"nbf"`
	ExpirationTime       int64      `json:"exp"`
}

type extraData struct {
	XUID        string `json:"XUID"`
	DisplayName string `json:"displayName"`
	Identity    string `json:"identity"`
}

// ValidateChain walks a Bedrock login chain per spec.md §4.4 points
// 1-6. mojangRoot is the pinned Mojang root public key, required to
// appear in the chain when onlineMode is true. When onlineMode is
// false, or allowLegacyAuth is true and the client's own declared
// AuthenticationType (read from the envelope, not derived from server
// config) is Guest or SelfSigned, a chain lacking the Mojang root is
// still accepted provided every signature and structural check
// otherwise passes (spec.md §4.4 point 5).
func ValidateChain(raw []byte, onlineMode, allowLegacyAuth bool, mojangRoot crypto.PublicKey) (*Identity, error) {
	if len(raw) > maxChainBytes {
		return nil, authErr(TokenTooLarge, nil)
	}
	chain, authType, err := decodeEnvelope(raw)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, authErr(EmptyChain, nil)
	}
	if len(chain) > maxChainEntries {
		return nil, authErr(ChainTooLong, nil)
	}

	var prevKey crypto.PublicKey
	var mojangSeen bool
	var final chainPayload
	var finalKeyString string

	for i, token := range chain {
		if len(token) > maxTokenBytes {
			return nil, authErr(TokenTooLarge, nil)
		}
		header, err := jwt.ParseHeader(token)
		if err != nil {
			return nil, authErr(InvalidHeader, err)
		}
		switch header.Algorithm {
		case "ES256", "ES384", "RS256":
		default:
			return nil, authErr(UnsupportedAlg, nil)
		}

		var verifyKey crypto.PublicKey
		if i == 0 {
			// The first entry is self-signed: its own identityPublicKey
			// verifies it (spec.md §4.4 point 2).
			selfKeyStr, err := peekIdentityKey(token)
			if err != nil {
				return nil, authErr(MissingIdentityKey, err)
			}
			key, err := decodeECKey(selfKeyStr)
			if err != nil {
				return nil, authErr(BadSignature, err)
			}
			verifyKey = key
		} else {
			verifyKey = prevKey
		}

		payloadBytes, err := jwt.Verify(token, verifyKey)
		if err != nil {
			return nil, authErr(BadSignature, err)
		}
		var p chainPayload
		if err := json.Unmarshal(payloadBytes, &p); err != nil {
			return nil, authErr(InvalidEncoding, err)
		}
		if p.IdentityPublicKey == "" {
			return nil, authErr(MissingIdentityKey, nil)
		}
		if err := checkTemporal(p); err != nil {
			return nil, err
		}

		key, err := decodeECKey(p.IdentityPublicKey)
		if err != nil {
			return nil, authErr(BadSignature, err)
		}
		if mojangRoot != nil && publicKeysEqual(key, mojangRoot) {
			mojangSeen = true
		}
		prevKey = key
		finalKeyString = p.IdentityPublicKey
		final = p
	}

	if onlineMode && !mojangSeen {
		if !(allowLegacyAuth && (authType == AuthenticationGuest || authType == AuthenticationSelfSigned)) {
			return nil, authErr(LegacyAuthDisabled, nil)
		}
	}

	if final.ExtraData == nil {
		return nil, authErr(MissingExtraData, nil)
	}
	id, err := uuid.Parse(final.ExtraData.Identity)
	if err != nil {
		return nil, authErr(MissingExtraData, err)
	}
	finalKey, err := decodeECKey(finalKeyString)
	if err != nil {
		return nil, authErr(BadSignature, err)
	}

	return &Identity{
		XUID: final.ExtraData.XUID,
		// Chained through Unicode NFC so two clients whose launchers
		// encode the same display name under different normalization
		// forms compare equal.
		DisplayName:       norm.NFC.String(final.ExtraData.DisplayName),
		Identity:          id,
		IdentityPublicKey: finalKey,
		Authenticated:     mojangSeen,
	}, nil
}

func decodeEnvelope(raw []byte) ([]string, AuthenticationType, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, 0, authErr(InvalidEncoding, err)
	}

	var authType AuthenticationType
	if env.AuthenticationType != nil {
		n := *env.AuthenticationType
		if n > uint32(AuthenticationGuest) {
			return nil, 0, authTypeErr(int(n))
		}
		authType = AuthenticationType(n)
	}

	if len(env.Chain) > 0 {
		return env.Chain, authType, nil
	}
	if env.Certificate != nil && len(env.Certificate.Chain) > 0 {
		return env.Certificate.Chain, authType, nil
	}
	return nil, 0, authErr(MissingChain, nil)
}

// peekIdentityKey extracts identityPublicKey from a token's payload
// without verifying its signature, used only to find the key a
// self-signed first chain entry must verify against.
func peekIdentityKey(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", authErr(InvalidHeader, nil)
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", authErr(InvalidEncoding, err)
	}
	var p chainPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", authErr(InvalidEncoding, err)
	}
	if p.IdentityPublicKey == "" {
		return "", authErr(MissingIdentityKey, nil)
	}
	return p.IdentityPublicKey, nil
}

// decodeECKey decodes a base64-standard-encoded DER SubjectPublicKeyInfo,
// the same encoding Bedrock uses for both identityPublicKey chain fields
// and JWT x5u headers.
func decodeECKey(s string) (crypto.PublicKey, error) {
	return jwt.PublicKeyFromX5U(s)
}

// publicKeysEqual reports whether a and b are the same key. Bedrock's
// identity keys are always *ecdsa.PublicKey, which has implemented
// Equal since Go 1.15.
func publicKeysEqual(a, b crypto.PublicKey) bool {
	eq, ok := a.(interface{ Equal(x crypto.PublicKey) bool })
	if !ok {
		return false
	}
	return eq.Equal(b)
}

func checkTemporal(p chainPayload) error {
	now := time.Now()
	if p.ExpirationTime != 0 {
		exp := time.Unix(p.ExpirationTime, 0)
		if now.After(exp.Add(temporalSkew)) {
			return authErr(TemporalValidation, nil)
		}
	}
	if p.NotBefore != 0 {
		nbf := time.Unix(p.NotBefore, 0)
		if now.Before(nbf.Add(-temporalSkew)) {
			return authErr(TemporalValidation, nil)
		}
	}
	return nil
}
