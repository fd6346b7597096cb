// Package main is the entry point for the studykit service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/studykit-ai/studykit/internal/assembly"
	"github.com/studykit-ai/studykit/internal/config"
	"github.com/studykit-ai/studykit/internal/fallback"
	"github.com/studykit-ai/studykit/internal/gateway"
	"github.com/studykit-ai/studykit/internal/janitor"
	"github.com/studykit-ai/studykit/internal/retrieval/sqlitefts"
	"github.com/studykit-ai/studykit/internal/session"
	"github.com/studykit-ai/studykit/internal/store"
	"github.com/studykit-ai/studykit/internal/tokens"
	"github.com/studykit-ai/studykit/internal/upstream"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "studykit",
		Short:         "Generation resilience and context orchestration for study artifacts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(versionCmd(), startCmd(), configCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("studykit %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the studykit service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			if cfgPath == "" {
				resolved, err := resolveConfigPath()
				if err != nil {
					return err
				}
				cfgPath = resolved
			}

			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelInfo,
			}))

			return run(cfg, logger)
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <path>",
		Short: "Validate configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Configuration OK (%d tiers, upstream %s)\n",
				len(cfg.Generation.Tiers), cfg.Upstream.BaseURL)
			return nil
		},
	})
	return cmd
}

// run wires the components and blocks until shutdown.
func run(cfg *config.Config, logger *slog.Logger) error {
	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	recorder := store.NewRecorder(st, store.WithRecorderLogger(logger))
	defer recorder.Close()

	index, err := sqlitefts.Open(cfg.Storage.RetrievalIndexPath, sqlitefts.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() { _ = index.Close() }()

	estimator := tokens.NewCharEstimator(0)
	ctxCache := assembly.NewCache(cfg.Context.CacheTTL)
	assembler := assembly.New(estimator, index, ctxCache, assembly.Config{
		RAGThresholdTokens: cfg.Context.RAGThresholdTokens,
		RAGMaxTokens:       cfg.Context.RAGMaxTokens,
		FallbackMaxChars:   cfg.Context.FallbackMaxChars,
		ChunkSize:          cfg.Context.ChunkSize,
		ChunkOverlap:       cfg.Context.ChunkOverlap,
		MinRelevanceScore:  cfg.Context.MinRelevanceScore,
		MaxChunks:          cfg.Context.MaxChunks,
		HybridWeight:       cfg.Context.HybridWeight,
	}, assembly.WithLogger(logger))

	client := upstream.NewClient(upstream.Config{
		BaseURL: cfg.Upstream.BaseURL,
		APIKey:  cfg.Upstream.APIKey,
		Timeout: cfg.Upstream.Timeout,
	}, upstream.WithLogger(logger))

	metrics := gateway.NewMetrics()

	orchestrator, err := fallback.New(buildChain(cfg), client, estimator,
		fallback.WithLogger(logger),
		fallback.WithAttemptObserver(metrics.ObserveAttempt),
	)
	if err != nil {
		return err
	}

	sessCache := session.NewCache(0)
	manager := session.NewManager(sessCache, client, assembler, session.Config{
		Model:        cfg.Chat.Model,
		SystemPrompt: cfg.Chat.SystemPrompt,
	}, session.WithLogger(logger))

	gw := gateway.New(gateway.Config{Listen: cfg.Server.Listen}, gateway.Deps{
		Orchestrator: orchestrator,
		Assembler:    assembler,
		Sessions:     manager,
		SessionCache: sessCache,
		Upstream:     client,
		Store:        st,
		Recorder:     recorder,
	}, gateway.WithLogger(logger), gateway.WithMetrics(metrics))

	if err := gw.Start(); err != nil {
		return err
	}

	var jan *janitor.Janitor
	if cfg.Janitor.Schedule != "" {
		jan = janitor.New(cfg.Janitor.Schedule, logger)
		jan.Register("context", ctxCache)
		jan.Register("session", manager)
		if err := jan.Start(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx := context.Background()
	if jan != nil {
		_ = jan.Stop(shutdownCtx)
	}
	return gw.Stop(shutdownCtx)
}

// buildChain converts configured tiers, falling back to the built-in
// chain when none are configured.
func buildChain(cfg *config.Config) []fallback.Tier {
	if len(cfg.Generation.Tiers) == 0 {
		return fallback.DefaultChain()
	}
	chain := make([]fallback.Tier, len(cfg.Generation.Tiers))
	for i, t := range cfg.Generation.Tiers {
		chain[i] = fallback.Tier{
			Name:            t.Name,
			MaxInputTokens:  t.MaxInputTokens,
			MaxOutputTokens: t.MaxOutputTokens,
			Temperature:     t.Temperature,
			TopK:            t.TopK,
			MaxRetries:      t.MaxRetries,
		}
	}
	return chain
}

// resolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/studykit/studykit.yaml → ./studykit.yaml
func resolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "studykit", "studykit.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "studykit", "studykit.yaml"))
	}

	candidates = append(candidates, "studykit.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}
