// Command mew-calculator is a demo participant that exposes a single MCP
// tool ("add") other participants can invoke via tools/call.
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
	"github.com/mindburn-labs/mew-gateway/pkg/mcp"
	"github.com/mindburn-labs/mew-gateway/pkg/participant"
	"github.com/mindburn-labs/mew-gateway/pkg/transport"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("mew-calculator", flag.ContinueOnError)
	gatewayURL := fs.String("gateway", "ws://localhost:8080/ws", "gateway websocket URL")
	space := fs.String("space", "", "space id to join")
	token := fs.String("token", "", "join token")
	id := fs.String("id", "calculator", "participant id")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *space == "" || *token == "" {
		fmt.Fprintln(os.Stderr, "mew-calculator: --space and --token are required")
		return 2
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("component", "mew-calculator")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ch, err := transport.DialWS(ctx, *gatewayURL, logger)
	if err != nil {
		logger.Error("dial gateway", "error", err)
		return 1
	}

	catalog := mcp.NewToolCatalog()
	_ = catalog.Register(ctx, mcp.ToolRef{
		Name:        "add",
		Description: "adds two numbers",
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"a": map[string]any{"type": "number"}, "b": map[string]any{"type": "number"}},
			"required":   []string{"a", "b"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			a, _ := args["a"].(float64)
			b, _ := args["b"].(float64)
			return a + b, nil
		},
	})

	cfg := participant.Config{Space: *space, Token: *token, ParticipantID: *id}
	defaults := participant.DefaultConfig()
	if cfg.JoinTimeout == 0 {
		cfg.JoinTimeout = defaults.JoinTimeout
	}

	var client *participant.Client
	var toolServer *participant.ToolServer
	client, welcome, err := participant.Join(ctx, cfg, ch, func(env *envelope.Envelope) {
		if env.Kind != envelope.KindMCPRequest {
			return
		}
		if err := toolServer.HandleRequest(ctx, env); err != nil {
			logger.Warn("tool request failed", "error", err)
		}
	})
	if err != nil {
		logger.Error("join", "error", err)
		return 1
	}
	defer client.Close()
	toolServer = participant.NewToolServer(client, catalog)

	logger.Info("joined", "participants", len(welcome.Participants))

	<-ctx.Done()
	return 0
}
