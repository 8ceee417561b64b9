// Package main provides the CLI entry point for agentrun, the thin
// driver that wires the Message Store, Refiner, Temporal Store, Tool
// Router, Session Gate, and Agent Loop together into a runnable
// process. The HTTP surface, WebSocket bridge transport, persistence
// layer, and sandboxed script executor a production deployment would
// add around this core are out of scope (see DESIGN.md); this binary
// only drives one session from the terminal.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/contextloom/loom/internal/agentloop"
	"github.com/contextloom/loom/internal/agentloop/providers"
	"github.com/contextloom/loom/internal/config"
	"github.com/contextloom/loom/internal/memlog"
	"github.com/contextloom/loom/internal/observability"
	"github.com/contextloom/loom/internal/refine"
	"github.com/contextloom/loom/internal/sessiongate"
	"github.com/contextloom/loom/internal/temporal"
	"github.com/contextloom/loom/internal/toolhost"
	"github.com/contextloom/loom/pkg/models"
	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "agentrun",
		Short:         "Run one agent session against a configured LLM provider and tool set",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildRunCmd())
	return root
}

// buildRunCmd creates the "run" command: read a config file, read
// prompts from stdin (one per line) or a single --prompt flag, and
// print each completed turn's text to stdout.
func buildRunCmd() *cobra.Command {
	var (
		configPath string
		prompt     string
		stream     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an interactive or scripted agent session",
		Example: `  # one-shot prompt
  agentrun run --config agentrun.yaml --prompt "what's the weather in boston?"

  # interactive, reading prompts from stdin until EOF
  agentrun run --config agentrun.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd.Context(), configPath, prompt, stream)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "agentrun.yaml", "path to the YAML config file")
	cmd.Flags().StringVar(&prompt, "prompt", "", "run a single prompt and exit instead of reading stdin")
	cmd.Flags().BoolVar(&stream, "stream", true, "ask the provider to stream partial text")
	return cmd
}

func runSession(ctx context.Context, configPath, prompt string, stream bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	provider, err := buildProvider(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("build LLM provider: %w", err)
	}

	store := memlog.New()
	if cfg.Session.System != "" {
		store.SetSystemPrompt(cfg.Session.System)
	}

	temporalStore := temporal.New()
	router, err := buildRouter(cfg.Tools, temporalStore, logger)
	if err != nil {
		return fmt.Errorf("build tool router: %w", err)
	}
	if err := router.Open(ctx); err != nil {
		return fmt.Errorf("open tool providers: %w", err)
	}
	defer router.Close()

	refiner := refine.New(refine.Config{
		BudgetTokens: cfg.Session.BudgetTokens,
		TrimCap:      cfg.Session.TrimCap,
	}, temporalStore)

	gate := sessiongate.New()

	loop := agentloop.New(store, refiner, router, provider, agentloop.Config{
		MaxToolLoop: cfg.Session.MaxToolLoop,
		MaxTokens:   cfg.Session.MaxTokens,
		System:      cfg.Session.System,
	}, func(ev models.StatusEvent) {
		if ev.Phase == models.PhaseToolDiscarded {
			logger.Warn(context.Background(), "tool call slot discarded", "call_id", ev.CallID, "reason", ev.Err)
			return
		}
		logger.Debug(context.Background(), "agent event", "state", ev.State, "phase", ev.Phase, "tokens_per_sec", ev.TokensPerSecond)
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ask := func(runCtx context.Context, text string) error {
		runCtx, release, err := gate.Start(runCtx, sessiongate.NewJobID())
		if err != nil {
			return err
		}
		defer release()

		reply, err := loop.Ask(runCtx, text, stream)
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	}

	if prompt != "" {
		return ask(ctx, prompt)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := ask(ctx, line); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func buildProvider(ctx context.Context, cfg config.LLMConfig) (agentloop.LLMProvider, error) {
	name := cfg.DefaultProvider
	pc, ok := cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("no provider configured for %q", name)
	}

	switch name {
	case "openai":
		return providers.NewOpenAIProvider(os.Getenv(pc.APIKeyEnv), pc.DefaultModel), nil
	case "anthropic":
		maxTokens := pc.MaxTokens
		if maxTokens <= 0 {
			maxTokens = 4096
		}
		return providers.NewAnthropicProvider(os.Getenv(pc.APIKeyEnv), pc.DefaultModel, maxTokens), nil
	case "google":
		return providers.NewGoogleProvider(ctx, os.Getenv(pc.APIKeyEnv), pc.DefaultModel)
	case "bedrock":
		return providers.NewBedrockProvider(ctx, pc.Region, pc.DefaultModel)
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// recallArgs is the argument shape temporal-memory__recall registers
// with toolhost.RegisterAuto.
type recallArgs struct {
	Keys []string `json:"keys" desc:"message ids previously seen in a [temporal-memory_recall(...)] marker"`
}

// statusArgs is temporal-memory__status's (empty) argument shape.
type statusArgs struct{}

func buildRouter(cfg config.ToolsConfig, store *temporal.Store, logger *observability.Logger) (*toolhost.Router, error) {
	router := toolhost.NewRouter()

	temporalProvider := toolhost.NewInProcessProvider(temporal.ProviderID)
	if err := toolhost.RegisterAuto(temporalProvider, "recall", "Recover the original text of a trimmed tool response by the key in its recall marker.",
		func(ctx context.Context, args recallArgs) (any, error) {
			return store.Recall(args.Keys), nil
		}); err != nil {
		return nil, err
	}
	if err := toolhost.RegisterAuto(temporalProvider, "status", "List every key currently held in temporal memory with a short preview.",
		func(ctx context.Context, _ statusArgs) (any, error) {
			return store.Status(), nil
		}); err != nil {
		return nil, err
	}
	if err := router.Register(temporalProvider); err != nil {
		return nil, err
	}

	for _, cp := range cfg.ChildProcesses {
		p := toolhost.NewChildProcessProvider(toolhost.ChildProcessConfig{
			ID:      cp.ID,
			Command: cp.Command,
			Args:    cp.Args,
			Timeout: cp.Timeout,
		}, logger)
		if err := router.Register(p); err != nil {
			return nil, err
		}
	}

	for _, wb := range cfg.WSBridges {
		if err := router.Register(toolhost.NewWSBridgeProvider(wb.ID)); err != nil {
			return nil, err
		}
	}

	return router, nil
}
