package command

import (
	"fmt"
	"io"
	"net"
	"strconv"

	"chatrelay/cmd/cli/command/client"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var chatPort int

// chatCmd opens the interactive chat UI
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the interactive chat",
	Long: `Open a terminal chat against the relay server.

Without --port a login form asks for the local port and the relay address.
With --port the client logs in straight away and opens the conversation.

Keys: Enter sends, Esc or Ctrl+C quits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, closeLog, err := newLogger(io.Discard)
		if err != nil {
			return err
		}
		defer closeLog()

		chatClient := client.NewUDPClient(
			client.WithLogger(logger),
			client.WithReadTimeout(cfg.ReadTimeout),
			client.WithBufferSize(cfg.BufferSize),
			client.WithHistoryLimit(cfg.ClientHistoryLimit),
		)
		defer chatClient.Close()

		opts := chatUIOptions{
			Host:         clientHost,
			Port:         strconv.Itoa(cfg.ClientPort),
			ServerAddr:   serverAddr,
			PollInterval: cfg.ClientPollInterval,
		}

		if cmd.Flags().Changed("port") {
			err := chatClient.Login(cmd.Context(), client.LoginRequest{
				LocalAddr:  net.JoinHostPort(clientHost, strconv.Itoa(chatPort)),
				ServerAddr: serverAddr,
			})
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			opts.Port = strconv.Itoa(chatPort)
			opts.LoggedIn = true
		}

		program := tea.NewProgram(
			newChatModel(cmd.Context(), chatClient, opts),
			tea.WithAltScreen(),
			tea.WithContext(cmd.Context()),
		)
		if _, err := program.Run(); err != nil && cmd.Context().Err() == nil {
			return fmt.Errorf("chat UI failed: %w", err)
		}

		chatClient.PrintStats(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	chatCmd.Flags().IntVarP(&chatPort, "port", "p", 0, "local port to bind, skips the login form")
	rootCmd.AddCommand(chatCmd)
}
