// Command sheep hosts the per-agent cognitive memory service: the HTTP
// recall surface, the consolidation scheduler, and the agent tool CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kittclouds/sheep/internal/config"
	"github.com/kittclouds/sheep/internal/llm"
	"github.com/kittclouds/sheep/internal/logging"
	"github.com/kittclouds/sheep/internal/server"
	"github.com/kittclouds/sheep/internal/store"
	"github.com/kittclouds/sheep/pkg/consolidation"
	"github.com/kittclouds/sheep/pkg/recall"
	"github.com/kittclouds/sheep/pkg/tools"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "sheep",
		Short:        "Per-agent cognitive memory store",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config YAML")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(consolidateCmd(&configPath))
	root.AddCommand(toolCmd(&configPath))
	return root
}

// runtime bundles the wired subsystems for one agent.
type runtime struct {
	cfg    config.Config
	store  *store.Store
	buffer *server.SessionBuffer
	sched  *consolidation.Scheduler
	engine *recall.Engine
	log    *zap.SugaredLogger
}

func buildRuntime(configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.JSON)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	st, err := store.Open(cfg.Home, cfg.AgentID, log.Named("store"))
	if err != nil {
		return nil, err
	}

	client := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		BaseURL: cfg.LLM.BaseURL,
	})
	embedder := llm.NewOpenAIEmbedder(llm.OpenAIConfig{
		APIKey:  cfg.Embedding.APIKey,
		Model:   cfg.Embedding.Model,
		BaseURL: cfg.Embedding.BaseURL,
	})

	buffer := server.NewSessionBuffer(cfg.AgentID)

	pipeCfg := consolidation.DefaultConfig()
	if cfg.Memory.MaxEpisodesPerRun > 0 {
		pipeCfg.MaxEpisodesPerRun = cfg.Memory.MaxEpisodesPerRun
	}
	if cfg.Memory.MinRetentionScore > 0 {
		pipeCfg.MinRetentionScore = cfg.Memory.MinRetentionScore
	}
	if cfg.Memory.EnableSleep != nil {
		pipeCfg.EnableSleep = *cfg.Memory.EnableSleep
	}
	if cfg.Memory.MaxEpisodes > 0 {
		pipeCfg.Limits.MaxEpisodes = cfg.Memory.MaxEpisodes
	}
	if cfg.Memory.MaxFacts > 0 {
		pipeCfg.Limits.MaxFacts = cfg.Memory.MaxFacts
	}
	if cfg.Memory.MaxCausalLinks > 0 {
		pipeCfg.Limits.MaxCausalLinks = cfg.Memory.MaxCausalLinks
	}
	if cfg.Memory.MaxProcedures > 0 {
		pipeCfg.Limits.MaxProcedures = cfg.Memory.MaxProcedures
	}
	var emb llm.Embedder
	if embedder != nil {
		emb = embedder
		pipeCfg.EmbedDedupe = true
	}

	pipeline := consolidation.NewPipeline(st, buffer,
		func() (llm.Client, error) { return client, nil },
		emb, pipeCfg, log.Named("consolidation"))

	runner := func(ctx context.Context, agentID string) (*store.ConsolidationRun, error) {
		return pipeline.Run(ctx)
	}
	schedCfg := consolidation.SchedulerConfig{
		IdleThreshold: cfg.Scheduler.IdleThreshold(),
		MinInterval:   cfg.Scheduler.MinInterval(),
		CronSpec:      cfg.Scheduler.CronSpec,
	}
	sched := consolidation.NewScheduler(runner, buffer, schedCfg, log.Named("scheduler"))

	engine := recall.NewEngine(st, client, buffer, sched, server.Version, log.Named("recall"))

	return &runtime{
		cfg:    cfg,
		store:  st,
		buffer: buffer,
		sched:  sched,
		engine: engine,
		log:    log,
	}, nil
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the recall service and consolidation scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(*configPath)
			if err != nil {
				return err
			}
			defer rt.store.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt.sched.Start(ctx)
			defer rt.sched.Stop()

			srv := server.New(rt.cfg.AgentID, rt.buffer, rt.sched, rt.engine, rt.store, rt.log.Named("server"))
			httpSrv := &http.Server{
				Addr:    fmt.Sprintf(":%d", rt.cfg.Port),
				Handler: srv.Handler(),
			}

			errCh := make(chan error, 1)
			go func() {
				rt.log.Infow("listening", "port", rt.cfg.Port, "agent", rt.cfg.AgentID)
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				rt.log.Infow("shutting down")
				return httpSrv.Shutdown(context.Background())
			case err := <-errCh:
				return err
			}
		},
	}
}

func consolidateCmd(configPath *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Run one consolidation cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(*configPath)
			if err != nil {
				return err
			}
			defer rt.store.Close()

			run, err := rt.sched.TriggerConsolidation(cmd.Context(), rt.cfg.AgentID, force)
			if err != nil {
				return err
			}
			if run == nil {
				fmt.Println("consolidation skipped (already running or too recent)")
				return nil
			}
			out, _ := json.MarshalIndent(run, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", true, "bypass the minimum-interval guard")
	return cmd
}

func toolCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tool <name> [json-input]",
		Short: "Invoke an agent tool (remember, recall, why, forget, correct)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(*configPath)
			if err != nil {
				return err
			}
			defer rt.store.Close()

			registry, err := tools.NewRegistry(rt.store, rt.engine)
			if err != nil {
				return err
			}

			input := "{}"
			if len(args) > 1 {
				input = args[1]
			}
			out, err := registry.Invoke(cmd.Context(), args[0], json.RawMessage(input))
			if err != nil {
				return err
			}
			encoded, _ := json.MarshalIndent(out, "", "  ")
			fmt.Println(string(encoded))
			return nil
		},
	}
	return cmd
}
