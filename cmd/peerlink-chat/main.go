package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gosuda.org/peerlink/client"
)

var rootCmd = &cobra.Command{
	Use:   "peerlink-chat",
	Short: "PeerLink demo chat client (direct data channels with relay fallback)",
	RunE:  runChat,
}

var (
	flagURL           string
	flagPeerID        string
	flagRelayPassword string
	flagSTUN          []string
	flagReconnect     bool
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagURL, "url", "ws://localhost:8080/ws", "signaling hub WebSocket URL")
	flags.StringVar(&flagPeerID, "id", "", "requested peer identity (empty lets the hub assign one)")
	flags.StringVar(&flagRelayPassword, "relay-password", os.Getenv("RELAY_PASSWORD"), "relay secret (env: RELAY_PASSWORD)")
	flags.StringSliceVar(&flagSTUN, "stun", nil, "STUN server URLs")
	flags.BoolVar(&flagReconnect, "reconnect", false, "reconnect automatically when the hub drops")
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute chat command")
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	callbacks := client.Callbacks{
		OnPeerList: func(peers []string) {
			fmt.Printf("online peers: %s\n", strings.Join(peers, ", "))
		},
		OnPeerConnected: func(peerID string) {
			fmt.Printf("direct channel open with %s\n", peerID)
		},
		OnPeerDisconnected: func(peerID string) {
			fmt.Printf("direct channel closed with %s\n", peerID)
		},
		OnTextMessage: func(peerID, text string) {
			fmt.Printf("<%s> %s\n", peerID, text)
		},
		OnBinaryMessage: func(peerID string, data []byte) {
			fmt.Printf("<%s> [%d bytes]\n", peerID, len(data))
		},
		OnError: func(err error) {
			log.Warn().Err(err).Msg("[chat] client error")
		},
		OnRelayConnected: func(peerID string) {
			fmt.Printf("relay connected with %s\n", peerID)
		},
		OnRelayDisconnected: func(peerID string) {
			fmt.Printf("relay disconnected from %s\n", peerID)
		},
	}

	c := client.New(client.Config{
		SignalingURL:  flagURL,
		PeerID:        flagPeerID,
		STUNServers:   flagSTUN,
		AutoReconnect: flagReconnect,
	}, callbacks)

	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Close()
	fmt.Printf("connected as %s\n", c.LocalID())

	if flagRelayPassword != "" {
		if err := c.AuthenticateRelay(ctx, flagRelayPassword); err != nil {
			log.Warn().Err(err).Msg("[chat] relay authentication failed")
		} else {
			fmt.Println("relay authenticated")
		}
	}

	repl(ctx, c)
	return nil
}

func repl(ctx context.Context, c *client.Client) {
	fmt.Println("commands: peers | connect <id> | send <id> <msg> | rconnect <id> | rsend <id> <msg> | rbroadcast <msg> | quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		var err error
		switch fields[0] {
		case "peers":
			err = c.RequestPeerList()
		case "connect":
			if len(fields) < 2 {
				fmt.Println("usage: connect <id>")
				continue
			}
			err = c.ConnectToPeerWait(ctx, fields[1])
		case "send":
			if len(fields) < 3 {
				fmt.Println("usage: send <id> <msg>")
				continue
			}
			err = c.SendText(fields[1], strings.Join(fields[2:], " "))
		case "rconnect":
			if len(fields) < 2 {
				fmt.Println("usage: rconnect <id>")
				continue
			}
			err = c.ConnectToPeerViaRelay(fields[1])
		case "rsend":
			if len(fields) < 3 {
				fmt.Println("usage: rsend <id> <msg>")
				continue
			}
			err = c.SendTextViaRelay(fields[1], strings.Join(fields[2:], " "))
		case "rbroadcast":
			if len(fields) < 2 {
				fmt.Println("usage: rbroadcast <msg>")
				continue
			}
			n := c.BroadcastTextViaRelay(strings.Join(fields[1:], " "))
			fmt.Printf("sent to %d relay peers\n", n)
		case "quit":
			return
		default:
			fmt.Println("commands: peers | connect <id> | send <id> <msg> | rconnect <id> | rsend <id> <msg> | rbroadcast <msg> | quit")
		}
		if err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}
