package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/journeyman/messaging/internal/middleware"
	"github.com/journeyman/messaging/internal/model"
	"github.com/journeyman/messaging/internal/session"
	"github.com/journeyman/messaging/internal/ws"
)

func init() {
	rootCmd.AddCommand(tokenCmd, sendCmd, listenCmd, chatCmd, readCmd)
	sendCmd.Flags().String("type", string(model.MessageTypeText), "message type: text, gif, image or video")
	sendCmd.Flags().String("media-url", "", "media url for image, video and gif messages")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var tokenCmd = &cobra.Command{
	Use:   "token [user-id]",
	Short: "Print a development token signed with --secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if opts.secret == "" {
			return errors.New("--secret is required")
		}
		ttl, _ := cmd.Flags().GetDuration("ttl")
		token, err := middleware.IssueToken(opts.secret, args[0], ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send [recipient-id] [content]",
	Short: "Send one message and wait for the server to confirm it",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		ctx, timeout := context.WithTimeout(ctx, 15*time.Second)
		defer timeout()

		mgr, err := connect(ctx)
		if err != nil {
			return err
		}
		defer mgr.Logout()
		events, stop := mgr.Subscribe(ws.EventMessageSent, ws.EventError)
		defer stop()

		msgType, _ := cmd.Flags().GetString("type")
		mediaURL, _ := cmd.Flags().GetString("media-url")
		in := ws.IncomingMessage{RecipientID: args[0], MessageType: model.MessageType(msgType), MediaURL: mediaURL}
		if len(args) > 1 {
			in.Content = args[1]
		}
		if err := mgr.SendMessage(ctx, in); err != nil {
			return err
		}
		select {
		case ev := <-events:
			if ev.Error != nil {
				return fmt.Errorf("server rejected message: %s (%s)", ev.Error.Error, ev.Error.Code)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", ev.Message.ID)
			return nil
		case <-ctx.Done():
			return fmt.Errorf("waiting for confirmation: %w", ctx.Err())
		}
	},
}

var readCmd = &cobra.Command{
	Use:   "read [sender-id]",
	Short: "Mark the conversation with sender-id as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		ctx, timeout := context.WithTimeout(ctx, 15*time.Second)
		defer timeout()

		mgr, err := connect(ctx)
		if err != nil {
			return err
		}
		defer mgr.Logout()
		return mgr.MarkRead(ctx, "", args[0])
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print incoming events until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		mgr, err := connect(ctx)
		if err != nil {
			return err
		}
		defer mgr.Logout()
		events, stop := mgr.Subscribe()
		defer stop()
		printEvents(ctx, cmd.OutOrStdout(), events)
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat [peer-id]",
	Short: "Interactive conversation with one peer; each input line is sent as a message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		peer := args[0]
		ctx, cancel := signalContext()
		defer cancel()
		mgr, err := connect(ctx)
		if err != nil {
			return err
		}
		defer mgr.Logout()

		events, stop := mgr.Subscribe()
		defer stop()
		go printEvents(ctx, cmd.OutOrStdout(), events)

		fmt.Fprintf(cmd.OutOrStdout(), "chatting with %s (online=%v), Ctrl+D to quit\n", peer, mgr.IsOnline(peer))
		if err := mgr.MarkRead(ctx, "", peer); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "mark read: %v\n", err)
		}
		lines := make(chan string)
		go func() {
			defer close(lines)
			sc := bufio.NewScanner(cmd.InOrStdin())
			for sc.Scan() {
				lines <- sc.Text()
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				_ = mgr.SendTyping(ctx, peer, false)
				if err := mgr.SendText(ctx, peer, line); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "send: %v\n", err)
				}
			}
		}
	},
}

func printEvents(ctx context.Context, w io.Writer, events <-chan session.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if line := formatEvent(ev); line != "" {
				fmt.Fprintln(w, line)
			}
		}
	}
}

// formatEvent renders one event as a terminal line; "" skips it.
func formatEvent(ev session.Event) string {
	ts := func(t time.Time) string { return t.Local().Format("15:04:05") }
	switch ev.Type {
	case ws.EventNewMessage:
		m := ev.Message
		body := m.Content
		if m.MessageType != model.MessageTypeText {
			body = fmt.Sprintf("[%s] %s", m.MessageType, strings.TrimSpace(m.MediaURL+" "+m.Content))
		}
		return fmt.Sprintf("%s %s: %s", ts(m.CreatedAt), m.SenderID, body)
	case ws.EventMessageSent:
		return fmt.Sprintf("%s -> %s: %s", ts(ev.Message.CreatedAt), ev.Message.RecipientID, ev.Message.Content)
	case ws.EventTyping:
		if ev.Typing.IsTyping && !ev.Expired {
			return fmt.Sprintf("%s is typing...", ev.Typing.UserID)
		}
		return ""
	case ws.EventReaction:
		return fmt.Sprintf("%s reacted %s to %s", ev.Reaction.UserID, ev.Reaction.Emoji, ev.Reaction.MessageID)
	case ws.EventReadReceipt:
		return fmt.Sprintf("%s %s read the conversation", ts(ev.Receipt.ReadAt), ev.Receipt.ReadBy)
	case ws.EventStatusUpdate:
		state := "offline"
		if ev.Status.Online {
			state = "online"
		}
		return fmt.Sprintf("%s %s is %s", ts(ev.Status.Timestamp), ev.Status.UserID, state)
	case ws.EventError:
		return fmt.Sprintf("error (%s): %s", ev.Error.Code, ev.Error.Error)
	}
	return ""
}
