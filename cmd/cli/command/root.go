package command

// root.go defines the root command for the relaycli application.
// set up the global flags and configuration here.

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"chatrelay/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfg        *config.Config // loaded before any subcommand runs
	serverAddr string         // relay address (host:port)
	clientHost string         // local interface to bind
	logFile    string         // where chat logs go, the TUI owns the terminal
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "relaycli",
	Short: "relaycli - chat through a UDP relay",
	Long: `relaycli is a small chat client for the UDP relay server. Every message you send
goes to the relay, which forwards it to everyone who has spoken so far.

- chat: interactive terminal chat
- send: send one message and optionally wait for the relay's echo

Use "relaycli command -help" or "relaycli command -h" to see all available commands.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err) // Print error to standard error
		stop()
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags = available to all subcommands, empty means use the environment
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "", "relay server address (host:port), defaults to CLIENT_SERVER_ADDR")
	rootCmd.PersistentFlags().StringVar(&clientHost, "host", "", "local address to bind, defaults to CLIENT_HOST")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "append logs to this file instead of discarding them")
}

// loadConfig reads .env and the environment, then lets flags override it
func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := loaded.Validate(); err != nil {
		return err
	}

	if serverAddr == "" {
		serverAddr = loaded.ClientServerAddr
	}
	if clientHost == "" {
		clientHost = loaded.ClientHost
	}
	cfg = loaded
	return nil
}

// newLogger builds the client logger. Without --log-file, output goes to
// fallback, which may be io.Discard.
func newLogger(fallback io.Writer) (*slog.Logger, func(), error) {
	if logFile == "" {
		return config.NewLogger(cfg, fallback), func() {}, nil
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return config.NewLogger(cfg, f), func() { f.Close() }, nil
}
