// chatcli is a terminal client for the chat gateway. It exists to
// exercise the session core end to end: start a session, watch the
// event stream, send messages and typing signals, and drive calls.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/antinvestor/chat-client/config"
	"github.com/antinvestor/chat-client/session"
	"github.com/antinvestor/chat-client/transport"
	"github.com/pitabwire/util"
	"github.com/spf13/viper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := util.Log(ctx)

	cfg, identity, err := loadConfig()
	if err != nil {
		log.WithError(err).Error("invalid configuration")
		os.Exit(1)
	}

	ctrl := session.NewController(cfg.SessionConfig(), transport.New(cfg.TransportConfig()), nil)

	store := session.NewStore(nil)
	if err := store.Put(ctx, identity, ctrl); err != nil {
		log.WithError(err).Error("could not register session")
		os.Exit(1)
	}
	defer store.Close(context.Background())

	go printEvents(ctx, ctrl)

	if err := ctrl.StartSession(ctx, identity); err != nil {
		log.WithError(err).Error("could not start session")
		os.Exit(1)
	}

	go readCommands(ctx, ctrl, stop)

	<-ctx.Done()
	log.Info("shutting down")
}

func loadConfig() (*config.ClientConfig, string, error) {
	v := viper.New()
	v.SetEnvPrefix("chat")
	v.AutomaticEnv()
	v.SetDefault("server_url", "ws://localhost:8080/ws")
	v.SetDefault("identity", "")

	var cfg config.ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}

	identity := v.GetString("identity")
	if len(os.Args) > 1 {
		identity = os.Args[1]
	}
	if identity == "" {
		return nil, "", fmt.Errorf("identity is required: pass it as the first argument or set CHAT_IDENTITY")
	}
	return &cfg, identity, nil
}

func printEvents(ctx context.Context, ctrl *session.Controller) {
	for ev := range ctrl.Events() {
		switch e := ev.(type) {
		case session.StatusChanged:
			fmt.Printf("* connection: %s -> %s\n", e.Old, e.New)
		case session.MessageReceived:
			fmt.Printf("[%s] %s: %s\n", e.ConversationID, e.Sender, string(e.Message))
		case session.MessageDelivered:
			fmt.Printf("* delivered: %s\n", e.ClientMessageID)
		case session.MessageRead:
			fmt.Printf("* read: %s\n", e.MessageID)
		case session.MessageFailed:
			fmt.Printf("* failed: %s (%v)\n", e.ClientMessageID, e.Err)
		case session.PresenceChanged:
			fmt.Printf("* online: %s\n", strings.Join(e.Online, ", "))
		case session.TypingChanged:
			fmt.Printf("* typing in %s: %s\n", e.ConversationID, strings.Join(e.Identities, ", "))
		case session.CallChanged:
			fmt.Printf("* call %s: %s\n", e.Call.CallID, e.Call.State)
		}
	}
}

func readCommands(ctx context.Context, ctrl *session.Controller, stop func()) {
	log := util.Log(ctx)
	scanner := bufio.NewScanner(os.Stdin)

	fmt.Println("commands: /send <conv> <text> | /typing <conv> | /call <user> | /accept <id> | /hangup <id> | /who | /stats | /reconnect | /quit")

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 3)

		switch fields[0] {
		case "/send":
			if len(fields) < 3 {
				fmt.Println("usage: /send <conversation> <text>")
				continue
			}
			ctrl.StopTyping(fields[1])
			id, err := ctrl.SendMessage(ctx, fields[1], fields[2])
			if err != nil {
				log.WithError(err).Error("send failed")
				continue
			}
			fmt.Printf("* sending: %s\n", id)

		case "/typing":
			if len(fields) < 2 {
				fmt.Println("usage: /typing <conversation>")
				continue
			}
			ctrl.StartTyping(fields[1])

		case "/call":
			if len(fields) < 2 {
				fmt.Println("usage: /call <user>")
				continue
			}
			call := ctrl.InitiateCall(fields[1], "audio")
			fmt.Printf("* calling %s (%s)\n", fields[1], call.CallID)

		case "/accept":
			if len(fields) < 2 {
				fmt.Println("usage: /accept <call id>")
				continue
			}
			ctrl.AcceptCall(fields[1])

		case "/hangup":
			if len(fields) < 2 {
				fmt.Println("usage: /hangup <call id>")
				continue
			}
			ctrl.HangupCall(fields[1])

		case "/who":
			fmt.Printf("* online: %s\n", strings.Join(ctrl.OnlineUsers(), ", "))

		case "/stats":
			s := ctrl.Stats()
			fmt.Printf("* %s state=%s attempts=%d queued=%d pending=%d online=%d calls=%d lastBeat=%s\n",
				s.Identity, s.State, s.ReconnectAttempts, s.QueuedMessages,
				s.PendingMessages, s.OnlineUsers, s.LiveCalls,
				s.LastHeartbeat.Format(time.Kitchen))

		case "/reconnect":
			if err := ctrl.Reconnect(); err != nil {
				log.WithError(err).Error("reconnect failed")
			}

		case "/quit":
			stop()
			return

		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}
