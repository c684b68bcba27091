package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nxclaw/nxclaw/internal/agent"
	"github.com/nxclaw/nxclaw/internal/auth"
	"github.com/nxclaw/nxclaw/internal/autonomous"
	"github.com/nxclaw/nxclaw/internal/browser"
	"github.com/nxclaw/nxclaw/internal/channels"
	"github.com/nxclaw/nxclaw/internal/config"
	"github.com/nxclaw/nxclaw/internal/events"
	"github.com/nxclaw/nxclaw/internal/memory"
	"github.com/nxclaw/nxclaw/internal/objectives"
	"github.com/nxclaw/nxclaw/internal/observability"
	"github.com/nxclaw/nxclaw/internal/runtime"
	"github.com/nxclaw/nxclaw/internal/skills"
	"github.com/nxclaw/nxclaw/internal/tasks"
	"github.com/nxclaw/nxclaw/internal/web"
	"github.com/nxclaw/nxclaw/internal/workspace"
)

// buildStartCmd creates the "start" command: wire every subsystem and run
// until interrupted, or handle a single prompt with --once.
func buildStartCmd() *cobra.Command {
	var (
		once        string
		noSlack     bool
		noTelegram  bool
		noDashboard bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the agent runtime",
		Long: `Start the full runtime: lane scheduler, memory store, task manager,
autonomous loop, channel adapters, and the HTTP dashboard.

With --once the runtime handles a single prompt on the CLI lane,
prints the reply, and exits.`,
		Example: `  # Run until Ctrl-C
  nxclaw start

  # One-shot prompt
  nxclaw start --once "What's on my plate today?"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runStart(cmd, paths, cfg, startOptions{
				once:        once,
				noSlack:     noSlack,
				noTelegram:  noTelegram,
				noDashboard: noDashboard,
			})
		},
	}

	cmd.Flags().StringVar(&once, "once", "", "Handle a single prompt and exit")
	cmd.Flags().BoolVar(&noSlack, "no-slack", false, "Do not start the Slack adapter")
	cmd.Flags().BoolVar(&noTelegram, "no-telegram", false, "Do not start the Telegram adapter")
	cmd.Flags().BoolVar(&noDashboard, "no-dashboard", false, "Do not start the HTTP dashboard")
	return cmd
}

type startOptions struct {
	once        string
	noSlack     bool
	noTelegram  bool
	noDashboard bool
}

func runStart(cmd *cobra.Command, paths workspace.Paths, initial config.Config, opts startOptions) error {
	logger := slog.Default()
	out := cmd.OutOrStdout()

	// The active config can be replaced through the dashboard settings
	// endpoint while the runtime is up.
	var (
		cfgMu  sync.RWMutex
		active = initial
	)
	getConfig := func() config.Config {
		cfgMu.RLock()
		defer cfgMu.RUnlock()
		return active
	}

	authStore, err := auth.NewStore(paths)
	if err != nil {
		return err
	}

	bus := events.NewBus(events.Config{
		Path:   paths.EventsFile(),
		Logger: logger,
	})
	emit := func(eventType string, payload map[string]any) {
		bus.Emit(eventType, payload)
	}

	factory := providerFactory(authStore, getConfig)
	metrics := observability.NewMetrics()

	memCfg := memoryConfig(initial)
	memCfg.Logger = logger
	memCfg.Emit = emit
	memCfg.Summarize = func(ctx context.Context, batch []memory.RawEntry) (string, error) {
		provider, err := factory()
		if err != nil {
			return "", err
		}
		var b strings.Builder
		for _, entry := range batch {
			fmt.Fprintf(&b, "[%s] %s: %s\n", entry.CreatedAt.Format("2006-01-02 15:04"), entry.Actor, entry.Content)
		}
		return provider.Complete(ctx,
			"Condense the following conversation log into a short summary. Keep decisions, facts about the user, and unfinished work. Drop pleasantries.",
			[]agent.Message{{Role: agent.RoleUser, Content: b.String()}})
	}
	mem, err := memory.NewStore(paths, memCfg)
	if err != nil {
		return err
	}

	taskCfg := tasksConfig(initial)
	taskCfg.Logger = logger
	taskCfg.Emit = emit
	taskCfg.Metrics = metrics
	taskMgr, err := tasks.NewManager(paths, taskCfg)
	if err != nil {
		return err
	}

	objStore, err := objectives.NewStore(paths.ObjectivesFile(), logger)
	if err != nil {
		return err
	}

	skillMgr, err := skills.NewManager(paths, skillsConfig(initial))
	if err != nil {
		return err
	}

	browserCfg := browserConfig(initial)
	browserCfg.Logger = logger
	browserCfg.Emit = emit
	browserCtl := browser.NewController(paths, browserCfg)

	orch := runtime.New(runtime.Deps{
		Paths:           paths,
		Bus:             bus,
		Memory:          mem,
		Tasks:           taskMgr,
		Objectives:      objStore,
		Skills:          skillMgr,
		Browser:         browserCtl,
		Auth:            authStore,
		ProviderFactory: factory,
		Metrics:         metrics,
		Logger:          logger,
	}, runtimeConfig(initial))

	loopCfg := autonomousConfig(initial)
	loopCfg.Logger = logger
	loopCfg.Emit = emit
	loopCfg.Metrics = metrics
	loop := autonomous.NewLoop(autonomous.Deps{
		Objectives: objStore,
		QueueDepth: orch.QueueDepth,
		TaskHealth: taskMgr.GetHealth,
		Prompt: func(ctx context.Context, text string) string {
			return orch.HandleIncoming(ctx, runtime.Incoming{Source: "autonomous", ChannelID: "loop"}, text)
		},
	}, loopCfg)
	orch.AutonomousState = func() map[string]any {
		return autonomousStateMap(loop.GetState())
	}

	registry := channels.NewRegistry(orch.SetChannelHealth)
	registerChannelAdapters(registry, logger, opts)

	var server *web.Server
	if !opts.noDashboard {
		dash := initial.Dashboard
		server = web.NewServer(web.Config{
			Host:   dash.Host,
			Port:   dash.Port,
			Token:  dash.Token,
			Logger: logger,
		}, web.Deps{
			Runtime:   orch,
			Memory:    mem,
			Bus:       bus,
			Metrics:   metrics,
			GetConfig: getConfig,
			ApplyConfig: func(updated config.Config) error {
				if err := config.Save(paths, updated); err != nil {
					return err
				}
				cfgMu.Lock()
				active = updated
				cfgMu.Unlock()
				loop.Reconfigure(autonomousConfigWith(updated, logger, emit))
				orch.ResetProvider()
				return nil
			},
		})
	}

	shutdown := func() {
		loop.Stop()
		registry.StopAll(context.Background())
		if server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			_ = server.Shutdown(ctx)
			cancel()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		orch.Shutdown(ctx)
		cancel()
		bus.Close()
	}

	if opts.once != "" {
		reply := orch.HandleIncoming(cmd.Context(), runtime.Incoming{Source: "cli", ChannelID: "main"}, opts.once)
		fmt.Fprintln(out, reply)
		shutdown()
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := func(ctx context.Context, in channels.Incoming) string {
		return orch.HandleIncoming(ctx, runtime.Incoming{
			Source:    in.Source,
			ChannelID: in.ChannelID,
			UserID:    in.UserID,
			SessionID: in.SessionID,
		}, in.Text)
	}
	if err := registry.StartAll(ctx, handler); err != nil {
		logger.Error("channel adapter failed to start", "error", err)
	}

	if server != nil {
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("dashboard server stopped", "error", err)
			}
		}()
		fmt.Fprintf(out, "Dashboard: http://%s\n", server.Addr())
	}

	loop.Start()
	bus.Emit("runtime.started", map[string]any{"version": version})
	fmt.Fprintln(out, "nxclaw is running. Press Ctrl-C to stop.")

	<-ctx.Done()
	fmt.Fprintln(out, "Shutting down...")
	shutdown()
	return nil
}

// registerChannelAdapters wires the compiled-in channel adapters. Slack and
// Telegram adapters register here when their packages are linked in; the
// flags let a deployment run with a subset.
func registerChannelAdapters(registry *channels.Registry, logger *slog.Logger, opts startOptions) {
	if opts.noSlack {
		logger.Info("slack adapter disabled by flag")
	}
	if opts.noTelegram {
		logger.Info("telegram adapter disabled by flag")
	}
	if len(registry.Names()) == 0 {
		logger.Info("no channel adapters registered; dashboard and CLI lanes only")
	}
}

func autonomousConfigWith(cfg config.Config, logger *slog.Logger, emit func(string, map[string]any)) autonomous.Config {
	out := autonomousConfig(cfg)
	out.Logger = logger
	out.Emit = emit
	return out
}

// autonomousStateMap flattens the loop state through its JSON form so the
// dashboard state payload stays in one shape.
func autonomousStateMap(state autonomous.State) map[string]any {
	raw, err := json.Marshal(state)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"error": err.Error()}
	}
	return m
}
