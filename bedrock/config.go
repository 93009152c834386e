package bedrock

import (
	"crypto"
	"crypto/ecdsa"

	"github.com/sandertv/gophertunnel/bedrock/resource"
)

// ServerConfig is the named-fields configuration surface spec.md §6
// specifies for server-role listeners, matching the teacher's
// established convention of a single options struct passed once at
// construction rather than scattered functional options.
type ServerConfig struct {
	// OnlineMode enforces the Mojang-signed chain (spec.md §6 "online_mode").
	OnlineMode bool
	// CompressionThreshold: batches below this size stay uncompressed
	// (spec.md §6 "compression_threshold").
	CompressionThreshold uint16
	// CompressionLevel is the deflate level used above threshold
	// (spec.md §6 "compression_level").
	CompressionLevel int
	// EncryptionEnabled requires the ECDH/AES-GCM handshake before
	// resource-pack negotiation (spec.md §6 "encryption_enabled").
	EncryptionEnabled bool
	// AllowLegacyAuth, in online mode, accepts a chain that is not rooted
	// in the Mojang key when the client declares a Guest or SelfSigned
	// authentication type. Outside online mode self-signed chains are
	// accepted whatever this flag says (spec.md §6 "allow_legacy_auth").
	AllowLegacyAuth bool
	// RequireResourcePacks terminates the session if the client refuses
	// the pack list (spec.md §6 "require_resource_packs").
	RequireResourcePacks bool
	// HandleClientCacheStatus silently accepts the client's blob-cache
	// declaration during resource-pack negotiation; when false, a client
	// that sends ClientCacheStatus is treated as an out-of-phase protocol
	// error (spec.md §6 "handle_client_cache_status").
	HandleClientCacheStatus bool
	// SendBlockPalette emits an empty UpdateBlockProperties packet once,
	// immediately after StartGame (spec.md §6 "send_block_palette", §9
	// Open Questions).
	SendBlockPalette bool
	// MaxDecompressedBatchSize bounds DecodeBatch's output size; zero
	// selects DefaultMaxDecompressedSize (spec.md §6
	// "max_decompressed_batch_size").
	MaxDecompressedBatchSize int

	// ServerKey is the server's long-lived (or per-listener ephemeral)
	// P-384 signing/ECDH keypair (spec.md §4.4 "Encryption handshake"
	// step 1).
	ServerKey *ecdsa.PrivateKey
	// MojangRoot is the pinned Mojang root public key required in the
	// chain when OnlineMode is true (spec.md §4.4 step 2).
	MojangRoot crypto.PublicKey

	// ResourcePacks is offered to every client in ResourcePacksInfo, in
	// the order they must be applied (spec.md §4.4 "Resource-pack
	// negotiation"). This core only advertises identity/metadata; it
	// does not itself serve SendPacks downloads.
	ResourcePacks []*resource.Pack
}

// DefaultServerConfig returns the named defaults spec.md §6 lists.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		OnlineMode:               true,
		CompressionThreshold:     DefaultCompressionThreshold,
		CompressionLevel:         DefaultCompressionLevel,
		AllowLegacyAuth:          true,
		HandleClientCacheStatus:  true,
		MaxDecompressedBatchSize: DefaultMaxDecompressedSize,
	}
}

func (cfg ServerConfig) maxDecompressed() int {
	if cfg.MaxDecompressedBatchSize > 0 {
		return cfg.MaxDecompressedBatchSize
	}
	return DefaultMaxDecompressedSize
}

// ClientConfig is the client role's mirror of ServerConfig (spec.md
// §4.5).
type ClientConfig struct {
	ClientProtocol int32
	// IdentityKey is the client's long-lived identity keypair used to
	// self-sign its login chain when no online-mode token is supplied.
	IdentityKey *ecdsa.PrivateKey
	// ChainProvider, when set, supplies a fully-formed Mojang-signed
	// chain (the documented extension point for an Xbox Live OAuth flow,
	// out of this core's scope per spec.md §1). When nil, the client
	// self-signs a minimal chain.
	ChainProvider func() ([]byte, error)
	DisplayName   string
	XUID          string
	Identity      string
}

func (cfg ClientConfig) maxDecompressed() int {
	return DefaultMaxDecompressedSize
}
