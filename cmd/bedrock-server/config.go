package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
)

// fileConfig is the on-disk shape of a server's configuration, loaded
// with github.com/pelletier/go-toml the same way the teacher's own
// go.mod already depends on it (example server configuration file
// format, SPEC_FULL.md §B).
type fileConfig struct {
	Listen struct {
		Address string `toml:"address"`
	} `toml:"listen"`

	Login struct {
		OnlineMode      bool `toml:"online_mode"`
		AllowLegacyAuth bool `toml:"allow_legacy_auth"`
	} `toml:"login"`

	Encryption struct {
		Enabled bool `toml:"enabled"`
	} `toml:"encryption"`

	ResourcePacks struct {
		Require bool     `toml:"require"`
		Paths   []string `toml:"paths"`
	} `toml:"resource_packs"`

	Compression struct {
		Threshold uint16 `toml:"threshold"`
		Level     int    `toml:"level"`
	} `toml:"compression"`
}

func defaultFileConfig() fileConfig {
	var c fileConfig
	c.Listen.Address = "0.0.0.0:19132"
	c.Login.OnlineMode = true
	c.Login.AllowLegacyAuth = true
	c.Compression.Threshold = 512
	c.Compression.Level = 7
	return c
}

func loadFileConfig(path string) (fileConfig, error) {
	cfg := defaultFileConfig()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, writeDefaultFileConfig(path, cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func writeDefaultFileConfig(path string, cfg fileConfig) error {
	b, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write default config %s: %w", path, err)
	}
	return nil
}

// generateServerKey produces a fresh P-384 ECDH/signing keypair for the
// encryption handshake (spec.md §4.4 "Encryption handshake" step 1).
// Persisting this across restarts is left to the operator; ephemeral
// generation is the teacher's own default when no key file is configured.
func generateServerKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
}
