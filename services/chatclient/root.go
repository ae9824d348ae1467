package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/journeyman/messaging/internal/logger"
	"github.com/journeyman/messaging/internal/middleware"
	"github.com/journeyman/messaging/internal/session"
)

type globalOptions struct {
	server         string
	user           string
	token          string
	secret         string
	reconnectDelay time.Duration
	verbose        bool
}

var opts globalOptions

var rootCmd = &cobra.Command{
	Use:   "chatclient",
	Short: "Terminal client for the messaging server",
	Long: `chatclient keeps a WebSocket session to the messaging server open,
reconnecting after drops, and prints incoming messages, typing indicators,
read receipts and presence changes.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.SetPrefix("chatclient")
		if opts.verbose {
			logger.SetLevel(logger.LevelDebug)
		} else {
			logger.SetLevel(logger.LevelWarn)
		}
	},
}

// Execute runs the root command; main calls it once.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	f := rootCmd.PersistentFlags()
	f.StringVarP(&opts.server, "server", "s", envOr("MESSAGING_WS_URL", "ws://localhost:8080/ws"), "WebSocket endpoint")
	f.StringVarP(&opts.user, "user", "u", os.Getenv("MESSAGING_USER"), "user id to log in as")
	f.StringVar(&opts.token, "token", os.Getenv("MESSAGING_TOKEN"), "bearer token (overrides --secret)")
	f.StringVar(&opts.secret, "secret", os.Getenv("JWT_SECRET"), "sign a token locally with this secret (development)")
	f.DurationVar(&opts.reconnectDelay, "reconnect-delay", session.DefaultReconnectDelay, "delay between reconnect attempts")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func resolveToken() (string, error) {
	if opts.token != "" {
		return opts.token, nil
	}
	if opts.user == "" {
		return "", errors.New("--user is required")
	}
	if opts.secret == "" {
		return "", errors.New("either --token or --secret is required")
	}
	return middleware.IssueToken(opts.secret, opts.user, 24*time.Hour)
}

// connect starts a session and waits until it is connected or ctx ends.
func connect(ctx context.Context) (*session.Manager, error) {
	token, err := resolveToken()
	if err != nil {
		return nil, err
	}
	userID := opts.user
	if userID == "" {
		if userID, err = middleware.ParseToken(opts.secret, token); err != nil {
			return nil, errors.New("--user is required with an opaque --token")
		}
	}
	mgr := session.New(&session.WebsocketDialer{URL: opts.server, Token: token}, session.Config{
		UserID:         userID,
		ReconnectDelay: opts.reconnectDelay,
	})
	if err := mgr.Start(ctx); err != nil {
		return nil, err
	}
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for mgr.State() != session.Connected {
		select {
		case <-ctx.Done():
			mgr.Logout()
			return nil, fmt.Errorf("connect %s: %w", opts.server, ctx.Err())
		case <-tick.C:
		}
	}
	return mgr, nil
}
