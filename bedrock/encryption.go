package bedrock

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// saltLength is the size of the fresh salt generated per handshake
// (spec.md §4.4 "Generate a fresh 16-byte salt").
const saltLength = 16

// EncryptionContext holds the per-direction AES-256-GCM state derived
// from an ECDH handshake (spec.md §3 "EncryptionContext", §4.4
// "Encryption handshake", §6 "Encryption"). Grounded verbatim on the
// teacher's enableEncryption/handleServerToClientHandshake key
// derivation (crypto/ecdsa, crypto/elliptic.P384(),
// sha256.Sum256(append(salt, sharedSecret...))), extended with the
// explicit per-packet counter/AAD scheme the teacher's unexported
// packet.Encoder/Decoder (not present in the retrieval pack) normally
// hides.
type EncryptionContext struct {
	aead cipher.AEAD
	ivBase [12]byte

	sendCounter uint64
	recvCounter uint64

	// HeaderLen is the plaintext prefix length per frame: 1 for RakNet
	// (the 0xFE magic), 0 for NetherNet (spec.md §4.4 point 7).
	HeaderLen int
}

// GenerateServerKeyPair creates a fresh P-384 keypair for the
// encryption handshake (spec.md §4.4 point 1).
func GenerateServerKeyPair() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
}

// NewSalt returns a fresh random 16-byte salt (spec.md §4.4 point 3).
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltLength)
	_, err := rand.Read(salt)
	return salt, err
}

// NewEncryptionContext derives the shared AES-256-GCM key and IV base
// from an ECDH shared secret and salt: key = SHA-256(salt ||
// shared_secret_x), IV base = first 12 bytes of SHA-256(key) (spec.md
// §4.4 point 4, §6 "Encryption").
func NewEncryptionContext(local *ecdsa.PrivateKey, remote *ecdsa.PublicKey, salt []byte, headerLen int) (*EncryptionContext, error) {
	sharedX, _ := local.Curve.ScalarMult(remote.X, remote.Y, local.D.Bytes())
	secret := sharedX.Bytes()
	// Left-pad to the curve's field size so the digest is stable
	// regardless of leading-zero truncation by big.Int.Bytes().
	fieldBytes := (local.Curve.Params().BitSize + 7) / 8
	if len(secret) < fieldBytes {
		padded := make([]byte, fieldBytes)
		copy(padded[fieldBytes-len(secret):], secret)
		secret = padded
	}

	keyMaterial := append(append([]byte(nil), salt...), secret...)
	key := sha256.Sum256(keyMaterial)
	ivSeed := sha256.Sum256(key[:])

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	ctx := &EncryptionContext{aead: aead, HeaderLen: headerLen}
	copy(ctx.ivBase[:], ivSeed[:12])
	return ctx, nil
}

// iv computes IV_base with its last 8 bytes XORed with the big-endian
// counter (spec.md §4.4 point 4).
func (c *EncryptionContext) iv(counter uint64) [12]byte {
	var iv [12]byte
	copy(iv[:], c.ivBase[:])
	var ctrBuf [8]byte
	binary.BigEndian.PutUint64(ctrBuf[:], counter)
	for i := 0; i < 8; i++ {
		iv[4+i] ^= ctrBuf[i]
	}
	return iv
}

// Encrypt returns a newly allocated frame: the c.HeaderLen leading bytes
// of frame unchanged, followed by the sealed payload tail and its 16-byte
// GCM tag. frame itself is not modified (spec.md §4.4 point 7, §6
// "Encryption").
func (c *EncryptionContext) Encrypt(frame []byte) []byte {
	header := frame[:c.HeaderLen]
	payload := frame[c.HeaderLen:]

	counter := c.sendCounter
	c.sendCounter++

	iv := c.iv(counter)
	var aad [8]byte
	binary.BigEndian.PutUint64(aad[:], counter)

	sealed := c.aead.Seal(nil, iv[:], payload, aad[:])
	out := make([]byte, 0, len(header)+len(sealed))
	out = append(out, header...)
	return append(out, sealed...)
}

// Decrypt opens frame's payload tail, validating the GCM tag against
// the receiver's own monotonic counter as AAD (spec.md §4.4 point 8;
// §6 "Counters are monotonic, per direction; resync is not permitted").
func (c *EncryptionContext) Decrypt(frame []byte) ([]byte, error) {
	if len(frame) < c.HeaderLen {
		return nil, protoErr(MalformedBatch, fmt.Errorf("frame shorter than header length"))
	}
	header := frame[:c.HeaderLen]
	sealed := frame[c.HeaderLen:]

	counter := c.recvCounter
	c.recvCounter++

	iv := c.iv(counter)
	var aad [8]byte
	binary.BigEndian.PutUint64(aad[:], counter)

	payload, err := c.aead.Open(nil, iv[:], sealed, aad[:])
	if err != nil {
		return nil, protoErr(EncryptionFailed, fmt.Errorf("decryption failed: %w", err))
	}
	out := make([]byte, 0, len(header)+len(payload))
	out = append(out, header...)
	return append(out, payload...), nil
}
