package bedrock

import (
	"bytes"
	"testing"
)

func TestEncryptionContextSymmetricDerivation(t *testing.T) {
	serverKey, err := GenerateServerKeyPair()
	if err != nil {
		t.Fatalf("server keypair: %v", err)
	}
	clientKey, err := GenerateServerKeyPair()
	if err != nil {
		t.Fatalf("client keypair: %v", err)
	}
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("salt: %v", err)
	}

	serverCtx, err := NewEncryptionContext(serverKey, &clientKey.PublicKey, salt, 1)
	if err != nil {
		t.Fatalf("server context: %v", err)
	}
	clientCtx, err := NewEncryptionContext(clientKey, &serverKey.PublicKey, salt, 1)
	if err != nil {
		t.Fatalf("client context: %v", err)
	}

	plain := append([]byte{0xFE}, []byte("hello bedrock")...)
	sealed := serverCtx.Encrypt(plain)
	opened, err := clientCtx.Decrypt(sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(opened, plain) {
		t.Fatalf("round trip mismatch: got %q want %q", opened, plain)
	}
}

func TestEncryptionContextRejectsOutOfOrderCounter(t *testing.T) {
	serverKey, _ := GenerateServerKeyPair()
	clientKey, _ := GenerateServerKeyPair()
	salt, _ := NewSalt()

	serverCtx, _ := NewEncryptionContext(serverKey, &clientKey.PublicKey, salt, 0)
	clientCtx, _ := NewEncryptionContext(clientKey, &serverKey.PublicKey, salt, 0)

	first := serverCtx.Encrypt([]byte("first"))
	second := serverCtx.Encrypt([]byte("second"))

	// Deliver out of order: the receiver's monotonic counter now
	// mismatches the AAD baked into `second`, so it must fail to open.
	if _, err := clientCtx.Decrypt(second); err == nil {
		t.Fatalf("expected decrypt of out-of-order frame to fail")
	}
	_ = first
}
