package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/lakeview-ai/lakeview/internal/bridge"
	"github.com/lakeview-ai/lakeview/internal/config"
	"github.com/lakeview-ai/lakeview/internal/correlate"
	"github.com/lakeview-ai/lakeview/internal/events"
	"github.com/lakeview-ai/lakeview/internal/restore"
	"github.com/lakeview-ai/lakeview/internal/results"
	"github.com/lakeview-ai/lakeview/internal/session"
	"github.com/lakeview-ai/lakeview/internal/storage"
	"github.com/lakeview-ai/lakeview/internal/thread"
)

var (
	debug      bool
	gatewayURL string
)

type appState struct {
	cfg     *config.Config
	bus     *events.Bus
	store   *results.Store
	threads storage.ThreadStore
	agent   bridge.Agent
	gateway *bridge.Gateway
	manager *session.Manager
	adapter *restore.Adapter
}

var app *appState

var rootCmd = &cobra.Command{
	Use:   "lakeview [prompt]",
	Short: "Data analysis chat client",
	Long: `Lakeview is the session and result coordination client for the
analysis agent.

Usage:
  lakeview                     # Start interactive chat
  lakeview "your question"     # Send one message and exit`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	Args:              cobra.ArbitraryArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initApp(cmd.Context())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		shutdownApp()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			return runPrompt(cmd.Context(), strings.Join(args, " "))
		}
		return runInteractive(cmd.Context())
	},
}

func initApp(ctx context.Context) error {
	cfg, err := config.Load(debug)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if lvl, err := log.ParseLevel(cfg.Log.Level); err == nil {
		log.SetLevel(lvl)
	}

	bus := events.NewBus()
	store := results.NewStore(bus)

	threads, err := storage.NewThreadStore(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("failed to open thread store: %w", err)
	}

	app = &appState{
		cfg:     cfg,
		bus:     bus,
		store:   store,
		threads: threads,
		adapter: restore.NewAdapter(threads, store),
	}

	url := gatewayURL
	if url == "" {
		url = cfg.Gateway.URL
	}
	if url != "" {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Gateway.DialTimeout)
		defer cancel()
		gw, err := bridge.Dial(dialCtx, url, bus)
		if err != nil {
			return fmt.Errorf("failed to connect to analysis gateway: %w", err)
		}
		app.gateway = gw
		app.agent = gw
	} else {
		app.agent = bridge.NewLocal(threads, nil)
	}

	corr := correlate.New(correlate.WithGrace(cfg.Chat.DedupGrace))
	app.manager = session.NewManager(app.agent, store, bus, corr,
		session.WithDuplicateWindow(cfg.Chat.DuplicateWindow))
	if err := app.manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session manager: %w", err)
	}
	return nil
}

func shutdownApp() {
	if app == nil {
		return
	}
	if app.manager != nil {
		app.manager.Close()
	}
	if app.gateway != nil {
		app.gateway.Close()
	}
	if app.threads != nil {
		app.threads.Close()
	}
}

func runPrompt(ctx context.Context, prompt string) error {
	printReplies()
	return app.manager.Send(ctx, thread.FreeChatID, prompt)
}

func runInteractive(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	printReplies()
	fmt.Println("lakeview — type a question, /threads to list sessions, /quit to exit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/threads":
			printThreads()
			continue
		case strings.HasPrefix(line, "/switch "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/switch "))
			app.manager.SwitchThread(id)
			if _, err := app.adapter.RestoreSession(ctx, id); err != nil {
				log.Warn("failed to restore session results", "thread", id, "error", err)
			}
			continue
		case line == "/cancel":
			if err := app.manager.Cancel(ctx); err != nil {
				fmt.Println("cancel failed:", err)
			}
			continue
		}

		if err := app.manager.Send(ctx, app.manager.ActiveThreadID(), line); err != nil {
			fmt.Println("error:", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// printReplies subscribes a console renderer to the thread-updated event
// so assistant replies show up as they land.
func printReplies() {
	app.bus.Subscribe(events.ThreadUpdated, func(e events.Event) {
		p, ok := e.Payload.(events.ThreadUpdatedPayload)
		if !ok {
			return
		}
		t, ok := app.manager.Thread(p.ThreadID)
		if !ok || len(t.Messages) == 0 {
			return
		}
		last := t.Messages[len(t.Messages)-1]
		if last.Role == thread.RoleAssistant {
			fmt.Println(last.Content)
		}
	})
	app.bus.Subscribe(events.AnalysisError, func(e events.Event) {
		if info, ok := e.Payload.(results.ErrorInfo); ok {
			fmt.Printf("[%s] %s\n", info.Code, info.Message)
		}
	})
}

func printThreads() {
	for _, t := range app.manager.Threads() {
		marker := " "
		if t.ID == app.manager.ActiveThreadID() {
			marker = "*"
		}
		fmt.Printf("%s %s  %s (%d messages)\n", marker, t.ID, t.Title, len(t.Messages))
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug mode")
	rootCmd.PersistentFlags().StringVar(&gatewayURL, "gateway", "", "Analysis gateway websocket URL")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
