// Command bedrock-server runs a standalone RakNet-transported Bedrock
// listener, walking every accepted session through the handshake
// typestate machine up to Play (spec.md §4.4, §6 "CLI surface").
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sandertv/gophertunnel/bedrock"
	"github.com/sandertv/gophertunnel/bedrock/resource"
	"github.com/sandertv/gophertunnel/raknet"
)

func main() {
	var (
		configPath string
		debug      bool
	)

	root := &cobra.Command{
		Use:   "bedrock-server",
		Short: "Run a RakNet-transported Bedrock listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			level := zerolog.InfoLevel
			if debug {
				level = zerolog.DebugLevel
			}
			log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
				Level(level).With().Timestamp().Logger()

			fc, err := loadFileConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			serverKey, err := generateServerKey()
			if err != nil {
				return fmt.Errorf("generate server key: %w", err)
			}

			var packs []*resource.Pack
			for _, p := range fc.ResourcePacks.Paths {
				f, err := os.Open(p)
				if err != nil {
					return fmt.Errorf("open resource pack %s: %w", p, err)
				}
				info, err := f.Stat()
				if err != nil {
					f.Close()
					return fmt.Errorf("stat resource pack %s: %w", p, err)
				}
				pack, err := resource.ReadPack(f, info.Size())
				if err != nil {
					f.Close()
					return fmt.Errorf("read resource pack %s: %w", p, err)
				}
				packs = append(packs, pack)
			}

			cfg := bedrock.DefaultServerConfig()
			cfg.OnlineMode = fc.Login.OnlineMode
			cfg.AllowLegacyAuth = fc.Login.AllowLegacyAuth
			cfg.EncryptionEnabled = fc.Encryption.Enabled
			cfg.RequireResourcePacks = fc.ResourcePacks.Require
			cfg.ResourcePacks = packs
			cfg.CompressionThreshold = fc.Compression.Threshold
			cfg.CompressionLevel = fc.Compression.Level
			cfg.ServerKey = serverKey

			ln, err := raknet.Listen(fc.Listen.Address)
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			defer ln.Close()
			ln.Metrics = raknet.NewMetrics(prometheus.DefaultRegisterer)

			log.Info().Str("address", fc.Listen.Address).Bool("online_mode", cfg.OnlineMode).
				Bool("encryption", cfg.EncryptionEnabled).Msg("listening")

			for {
				session, err := ln.Accept()
				if err != nil {
					return fmt.Errorf("accept: %w", err)
				}
				go serve(log, cfg, session)
			}
		},
	}

	flags := root.Flags()
	flags.StringVar(&configPath, "config", "bedrock-server.toml", "path to the server's TOML configuration file")
	flags.BoolVar(&debug, "debug", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// serve walks one accepted RakNet session through the handshake
// typestate machine to Play, then idles draining Play-phase packets
// until the transport closes. A real game server would hand the
// *bedrock.PlaySession off to its entity/world simulation at this point;
// that simulation is outside this core's scope.
func serve(log zerolog.Logger, cfg bedrock.ServerConfig, session *raknet.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	transport := bedrock.NewRakNetTransport(session)
	hs := bedrock.NewHandshakeSession(transport, cfg)

	login, err := hs.Advance(ctx)
	if err != nil {
		log.Warn().Err(err).Str("remote", session.RemoteAddr.String()).Msg("handshake failed")
		transport.Close()
		return
	}

	next, identity, err := login.Advance(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("login failed")
		transport.Close()
		return
	}

	var rp *bedrock.ResourcePacksSession
	switch s := next.(type) {
	case *bedrock.SecurePendingSession:
		rp, err = s.Advance(ctx)
	case *bedrock.ResourcePacksSession:
		rp = s
	}
	if err != nil {
		log.Warn().Err(err).Msg("encryption handshake failed")
		transport.Close()
		return
	}

	sg, err := rp.Advance(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("resource pack negotiation failed")
		transport.Close()
		return
	}

	play, err := sg.Advance(ctx, spawnGameData(), bedrock.RegistryData{})
	if err != nil {
		log.Warn().Err(err).Msg("start game failed")
		transport.Close()
		return
	}

	log.Info().Str("xuid", identity.XUID).Str("name", identity.DisplayName).Msg("player spawned")

	for {
		if _, err := play.RecvPacket(context.Background()); err != nil {
			log.Info().Str("name", identity.DisplayName).Msg("player disconnected")
			return
		}
	}
}

func spawnGameData() bedrock.GameData {
	return bedrock.GameData{
		WorldSeed:      0,
		Dimension:      0,
		GameMode:       0,
		PlayerEntityID: 1,
	}
}
