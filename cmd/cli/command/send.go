package command

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"chatrelay/cmd/cli/command/client"

	"github.com/spf13/cobra"
)

var (
	sendPort    int
	sendWait    bool
	sendTimeout time.Duration
)

// sendCmd sends a single message
var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send one message to the relay",
	Long: `Send one message to the relay and exit.

With --wait the command stays until the relay's broadcast of this message
comes back (or --timeout passes) and prints it. Messages other peers send in
the meantime are skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, closeLog, err := newLogger(os.Stderr)
		if err != nil {
			return err
		}
		defer closeLog()

		sender := client.NewUDPClient(
			client.WithLogger(logger),
			client.WithReadTimeout(cfg.ReadTimeout),
			client.WithBufferSize(cfg.BufferSize),
		)
		defer sender.Close()

		err = sender.Login(cmd.Context(), client.LoginRequest{
			LocalAddr:  net.JoinHostPort(clientHost, strconv.Itoa(sendPort)),
			ServerAddr: serverAddr,
		})
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		text := strings.Join(args, " ")
		if err := sender.Send(text); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Sent %d bytes to %s\n", len(text), serverAddr)

		if !sendWait {
			return nil
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
		defer cancel()
		line, err := sender.WaitForEcho(ctx, cfg.ClientPollInterval, text)
		if err != nil {
			return fmt.Errorf("relay did not echo the message: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
		return nil
	},
}

func init() {
	sendCmd.Flags().IntVarP(&sendPort, "port", "p", 0, "local port to bind (0 picks a free port)")
	sendCmd.Flags().BoolVarP(&sendWait, "wait", "w", false, "wait for the relay's broadcast and print it")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 3*time.Second, "how long --wait waits")
	rootCmd.AddCommand(sendCmd)
}
