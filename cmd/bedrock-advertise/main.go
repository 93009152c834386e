// Command bedrock-advertise broadcasts LAN discovery frames for a
// Bedrock server reachable over NetherNet/RakNet, the standalone
// counterpart to the discovery half of a full listener (spec.md §6 "CLI
// surface").
package main

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sandertv/gophertunnel/nethernet"
)

// loadNetworkID reads a persisted network id from path, or generates and
// writes a fresh one if the file is absent. An empty path generates a
// fresh, unpersisted id for the lifetime of this process.
func loadNetworkID(path string) (uint64, error) {
	if path == "" {
		return randomNetworkID()
	}
	data, err := os.ReadFile(path)
	if err == nil {
		id, perr := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
		if perr != nil {
			return 0, fmt.Errorf("parse network id in %s: %w", path, perr)
		}
		return id, nil
	}
	if !os.IsNotExist(err) {
		return 0, err
	}
	id, err := randomNetworkID()
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, []byte(strconv.FormatUint(id, 10)), 0o600); err != nil {
		return 0, fmt.Errorf("persist network id to %s: %w", path, err)
	}
	return id, nil
}

func randomNetworkID() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

const defaultBroadcastInterval = 1500 * time.Millisecond

func main() {
	var (
		serverIP   string
		serverPort int
		hostName   string
		worldName  string
		tokenPath  string
		debug      bool
	)

	root := &cobra.Command{
		Use:   "bedrock-advertise",
		Short: "Broadcast LAN discovery frames for a Bedrock server",
		RunE: func(cmd *cobra.Command, args []string) error {
			level := zerolog.InfoLevel
			if debug {
				level = zerolog.DebugLevel
			}
			log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
				Level(level).With().Timestamp().Logger()

			networkID, err := loadNetworkID(tokenPath)
			if err != nil {
				return fmt.Errorf("load network id: %w", err)
			}

			info := nethernet.ServerInfo{
				MOTD:       hostName,
				Protocol:   0,
				Version:    "",
				Players:    0,
				MaxPlayers: 0,
				NetworkID:  networkID,
				Level:      worldName,
				GameMode:   "Survival",
			}

			log.Info().
				Str("server", fmt.Sprintf("%s:%d", serverIP, serverPort)).
				Str("host_name", hostName).
				Str("world_name", worldName).
				Uint64("network_id", networkID).
				Msg("starting LAN advertiser")

			adv, err := nethernet.NewAdvertiser(networkID, fmt.Sprintf("255.255.255.255:%d", nethernet.DiscoveryPort), defaultBroadcastInterval, info)
			if err != nil {
				return fmt.Errorf("start advertiser: %w", err)
			}
			defer adv.Close()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig
			log.Info().Msg("shutting down")
			return nil
		},
	}

	flags := root.Flags()
	flags.StringVar(&serverIP, "server-ip", "127.0.0.1", "IP address the advertised server listens on")
	flags.IntVar(&serverPort, "server-port", 19132, "port the advertised server listens on")
	flags.StringVar(&hostName, "host-name", "A Bedrock Server", "MOTD shown in the LAN server list")
	flags.StringVar(&worldName, "world-name", "world", "world/level name shown in the LAN server list")
	flags.StringVar(&tokenPath, "token-path", "", "path to a file containing the advertiser's persistent network id; generated and written on first run if absent")
	flags.BoolVar(&debug, "debug", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
