package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gosuda.org/peerlink/signal"
)

var rootCmd = &cobra.Command{
	Use:   "peerlink-hub",
	Short: "PeerLink signaling hub: peer directory, session brokerage and authenticated relay",
	RunE:  runHub,
}

var (
	flagPort    int
	flagEnvFile string
	flagNoREPL  bool
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.IntVar(&flagPort, "port", 8080, "listen port for the signaling WebSocket and admin API")
	flags.StringVar(&flagEnvFile, "env-file", ".env", "env file holding RELAY_PASSWORD")
	flags.BoolVar(&flagNoREPL, "no-repl", false, "disable the admin REPL on stdin")
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute root command")
	}
}

func runHub(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(flagEnvFile); err != nil {
		log.Debug().Str("file", flagEnvFile).Msg("[hub] no env file loaded")
	}
	relaySecret := os.Getenv("RELAY_PASSWORD")
	if relaySecret == "" {
		log.Warn().Msg("[hub] RELAY_PASSWORD not set, relay is disabled")
	}

	hub := signal.NewHub(relaySecret)
	srv := signal.NewServer(hub, fmt.Sprintf(":%d", flagPort))
	if err := srv.Start(); err != nil {
		return err
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	quit := make(chan struct{})
	if !flagNoREPL {
		go adminREPL(hub, quit)
	}

	select {
	case <-ctx.Done():
	case <-quit:
	}
	log.Info().Msg("[hub] shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Stop(shutdownCtx)
	return nil
}

// adminREPL serves the operator commands on stdin: list, relay, quit.
func adminREPL(hub *signal.Hub, quit chan<- struct{}) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case "":
		case "list":
			peers := hub.Peers()
			if len(peers) == 0 {
				fmt.Println("no peers connected")
				continue
			}
			for _, p := range peers {
				flag := " "
				if p.RelayAuthenticated {
					flag = "*"
				}
				fmt.Printf("%s %s\n", flag, p.ID)
			}
		case "relay":
			pairs := hub.RelayPairs()
			if len(pairs) == 0 {
				fmt.Println("no active relay pairs")
				continue
			}
			for _, pair := range pairs {
				fmt.Printf("%s <-> %s\n", pair[0], pair[1])
			}
		case "quit":
			close(quit)
			return
		default:
			fmt.Println("commands: list, relay, quit")
		}
	}
}
