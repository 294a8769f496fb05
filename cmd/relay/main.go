// Command relay is a line-oriented chat client that routes each prompt
// to the cheapest capable LLM provider.
//
// Usage:
//
//	ANTHROPIC_API_KEY=sk-... relay [flags]
//
// Flags:
//
//	-config string   Path to TOML config file (default: built-in defaults)
//	-session string  Path to session file to resume and save
//	-caller string   Caller ID recorded in the call log (default: "cli")
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"

	"github.com/mstanton/relay"
	"github.com/mstanton/relay/breaker"
	"github.com/mstanton/relay/calllog"
	"github.com/mstanton/relay/classify"
	"github.com/mstanton/relay/config"
	"github.com/mstanton/relay/history"
	"github.com/mstanton/relay/router"
	"github.com/mstanton/relay/tools"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "Path to TOML config file")
		sessionPath = flag.String("session", "", "Path to session file to resume and save")
		callerID    = flag.String("caller", "cli", "Caller ID recorded in the call log")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	providers, models, err := buildProviders(ctx, cfg, config.KeysFromEnv())
	if err != nil {
		return err
	}

	var logger relay.CallLogger
	if cfg.CallLog.Path != "" {
		store, err := calllog.New(cfg.CallLog.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		logger = store
	}

	executor := tools.NewExecutor()
	r := router.New(
		classify.New(),
		breaker.NewRegistry(cfg.Breaker.Threshold, cfg.Breaker.Timeout()),
		providers,
		router.WithModels(models),
		router.WithPolicy(router.Policy{
			RoutineThreshold:       cfg.Routing.RoutineThreshold,
			SummarizationThreshold: cfg.Routing.SummarizationThreshold,
			LongContextThreshold:   cfg.Routing.LongContextThreshold,
		}),
		router.WithTools(executor, executor.Definitions()),
		router.WithCallLogger(logger),
		router.WithSystemPrompt(cfg.SystemPrompt),
		router.WithCallSite("cli"),
		router.WithCallTimeout(cfg.Timeouts.Call()),
	)

	session, err := loadOrCreateSession(*sessionPath, cfg.SystemPrompt)
	if err != nil {
		return err
	}

	if err := repl(ctx, r, &session, *callerID); err != nil {
		return err
	}

	if *sessionPath != "" && len(session.Messages) > 0 {
		if err := history.Save(*sessionPath, session); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
	}
	return nil
}

// repl reads prompts line by line, streams each routed response to
// stdout, and keeps the conversation in session.
func repl(ctx context.Context, r *router.Router, session *relay.Session, callerID string) error {
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !in.Scan() {
			fmt.Println()
			return in.Err()
		}
		line := in.Text()
		if line == "" {
			continue
		}

		reply, err := stream(ctx, r, session.Messages, line, callerID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintf(os.Stderr, "relay: %v\n", err)
			continue
		}

		now := time.Now()
		session.Messages = append(session.Messages,
			relay.UserMessage{Content: []relay.ContentBlock{relay.TextBlock{Text: line}}, Timestamp: now},
			relay.AssistantMessage{Content: []relay.ContentBlock{relay.TextBlock{Text: reply}}, Timestamp: now},
		)
		session.UpdatedAt = now

		usage := r.LastUsage()
		fmt.Fprintf(os.Stderr, "[%s · %d in / %d out]\n", r.LastProvider(), usage.InputTokens, usage.OutputTokens)
	}
}

// stream routes one prompt and prints chunks as they arrive, returning
// the full reply text.
func stream(ctx context.Context, r *router.Router, msgs []relay.Message, text, callerID string) (string, error) {
	ts, err := r.Route(ctx, text, msgs, callerID, "")
	if err != nil {
		return "", err
	}
	defer ts.Close()

	var reply string
	for {
		chunk, err := ts.Next()
		if err == io.EOF {
			fmt.Println()
			return reply, nil
		}
		if err != nil {
			fmt.Println()
			return "", err
		}
		fmt.Print(chunk)
		reply += chunk
	}
}

func loadOrCreateSession(path, systemPrompt string) (relay.Session, error) {
	if path != "" {
		s, err := history.Load(path)
		switch {
		case err == nil:
			return s, nil
		case errors.Is(err, os.ErrNotExist):
			// New session at the given path.
		default:
			return relay.Session{}, fmt.Errorf("load session: %w", err)
		}
	}
	now := time.Now()
	return relay.Session{
		ID:           uuid.NewString(),
		SystemPrompt: systemPrompt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}
