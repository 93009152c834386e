// Package jwt implements the low-level JWT primitives the Bedrock login
// chain and encryption handshake need: header inspection, the x5u
// embedded-public-key convention Bedrock reuses (rather than the
// certificate-URL the JWS spec intends), and ES256/ES384/RS256
// sign/verify. Grounded on the teacher's jwt.Header/jwt.New/jwt.Verify/
// jwt.MarshalPublicKey call sites in conn.go's enableEncryption and
// handleServerToClientHandshake, reimplemented on top of go-jose since
// the pack does not carry gophertunnel's own internal jwt package
// source.
package jwt

import (
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	jose "github.com/go-jose/go-jose/v3"
)

// Header is the subset of a compact JWS header this core reads before
// deciding how to verify a token.
type Header struct {
	Algorithm string `json:"alg"`
	// X5U embeds the signer's DER-encoded SubjectPublicKeyInfo, base64
	// standard encoded. Bedrock repurposes the x5u header for this
	// rather than a certificate-chain URL.
	X5U string `json:"x5u,omitempty"`
}

// ParseHeader decodes the first segment of a compact JWS without
// verifying anything, so the caller can pick an algorithm and extract
// an embedded identity key before committing to a verification key.
func ParseHeader(token string) (Header, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Header{}, fmt.Errorf("jwt: malformed token: expected 3 segments, got %d", len(parts))
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Header{}, fmt.Errorf("jwt: decode header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(raw, &h); err != nil {
		return Header{}, fmt.Errorf("jwt: parse header: %w", err)
	}
	return h, nil
}

// PublicKeyFromX5U decodes the x5u header value into a public key.
func PublicKeyFromX5U(x5u string) (crypto.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(x5u)
	if err != nil {
		return nil, fmt.Errorf("jwt: decode x5u: %w", err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("jwt: parse x5u public key: %w", err)
	}
	return pub, nil
}

// MarshalPublicKey encodes pub the way a signer embeds it in x5u.
func MarshalPublicKey(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("jwt: marshal public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// Verify checks token's signature against key and returns the decoded
// payload bytes.
func Verify(token string, key crypto.PublicKey) ([]byte, error) {
	jws, err := jose.ParseSigned(token)
	if err != nil {
		return nil, fmt.Errorf("jwt: parse signed: %w", err)
	}
	payload, err := jws.Verify(key)
	if err != nil {
		return nil, fmt.Errorf("jwt: signature verification failed: %w", err)
	}
	return payload, nil
}

// New signs payload (marshaled to JSON) as a compact JWS under key,
// embedding extraHeaders (typically x5u) in the JWS header.
func New(alg jose.SignatureAlgorithm, key crypto.PrivateKey, payload interface{}, extraHeaders map[jose.HeaderKey]interface{}) (string, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: alg, Key: key}, &jose.SignerOptions{ExtraHeaders: extraHeaders})
	if err != nil {
		return "", fmt.Errorf("jwt: new signer: %w", err)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("jwt: marshal payload: %w", err)
	}
	jws, err := signer.Sign(raw)
	if err != nil {
		return "", fmt.Errorf("jwt: sign: %w", err)
	}
	return jws.CompactSerialize()
}
