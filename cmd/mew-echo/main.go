// Command mew-echo is a demo participant that joins a space and echoes
// every chat message addressed to it back to the sender.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mindburn-labs/mew-gateway/pkg/envelope"
	"github.com/mindburn-labs/mew-gateway/pkg/participant"
	"github.com/mindburn-labs/mew-gateway/pkg/transport"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("mew-echo", flag.ContinueOnError)
	gatewayURL := fs.String("gateway", "ws://localhost:8080/ws", "gateway websocket URL")
	space := fs.String("space", "", "space id to join")
	token := fs.String("token", "", "join token")
	id := fs.String("id", "echo", "participant id")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *space == "" || *token == "" {
		fmt.Fprintln(os.Stderr, "mew-echo: --space and --token are required")
		return 2
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("component", "mew-echo")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ch, err := transport.DialWS(ctx, *gatewayURL, logger)
	if err != nil {
		logger.Error("dial gateway", "error", err)
		return 1
	}

	cfg := withDefaults(participant.Config{Space: *space, Token: *token, ParticipantID: *id})

	var client *participant.Client
	client, welcome, err := participant.Join(ctx, cfg, ch, func(env *envelope.Envelope) {
		if env.Kind != envelope.KindChat {
			return
		}
		var body struct {
			Text string `json:"text"`
		}
		if err := env.PayloadAs(&body); err != nil {
			return
		}
		reply := &envelope.Envelope{
			Kind:          envelope.KindChat,
			To:            []string{env.From},
			CorrelationID: []string{env.ID},
		}
		_ = reply.SetPayload(map[string]any{"text": "Echo: " + body.Text})
		if err := client.Send(reply); err != nil {
			logger.Warn("echo send failed", "error", err)
		}
	})
	if err != nil {
		logger.Error("join", "error", err)
		return 1
	}
	defer client.Close()

	logger.Info("joined", "participants", len(welcome.Participants))

	<-ctx.Done()
	return 0
}

func withDefaults(cfg participant.Config) participant.Config {
	defaults := participant.DefaultConfig()
	if cfg.JoinTimeout == 0 {
		cfg.JoinTimeout = defaults.JoinTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	return cfg
}
