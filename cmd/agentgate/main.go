package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zen-systems/agentgate/pkg/adapter"
	"github.com/zen-systems/agentgate/pkg/config"
	"github.com/zen-systems/agentgate/pkg/orchestrator"
	"github.com/zen-systems/agentgate/pkg/router"
	"github.com/zen-systems/agentgate/pkg/schema"
	"github.com/zen-systems/agentgate/pkg/server"
)

var (
	configFile string
	debug      bool
	logger     *slog.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "agentgate",
		Short: "Agent orchestration with complexity-aware routing and hybrid execution",
		Long: `Agentgate scores each task, routes it to a specialized worker and runs it
on a local or remote backend, falling back to remote when local fails.
It also tracks batch jobs and sessions.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to routing config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(routesCmd())
	rootCmd.AddCommand(workersCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(batchCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var listen string
	var rps float64
	var burst int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := exitContext(cmd.Context())
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			orch, err := orchestrator.New(ctx, cfg, orchestrator.WithLogger(logger))
			if err != nil {
				return err
			}
			defer orch.Close()

			go func() {
				_ = orch.Run(ctx)
			}()

			addr := cfg.Listen
			if listen != "" {
				addr = listen
			}
			srv := server.New(orch, server.WithLogger(logger), server.WithRateLimit(rps, burst))
			return srv.ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides AGENTGATE_LISTEN)")
	cmd.Flags().Float64Var(&rps, "rate-limit", 50, "requests per second accepted (0 disables)")
	cmd.Flags().IntVar(&burst, "burst", 100, "request burst size")
	return cmd
}

func askCmd() *cobra.Command {
	var workerKind string
	var contextFlag string
	var forceLocal bool
	var useKB bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "ask [query]",
		Short: "Route and run one task",
		Long: `Scores the query, routes it to a worker and prints the output.
Reads the query from stdin when no argument is given and stdin is not a terminal.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := readQuery(args)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			orch, err := orchestrator.New(cmd.Context(), cfg, orchestrator.WithLogger(logger))
			if err != nil {
				return err
			}
			defer orch.Close()

			resp, err := orch.Dispatch(cmd.Context(), schema.DispatchRequest{
				Query:            query,
				WorkerKind:       workerKind,
				Context:          contextFlag,
				ForceLocal:       forceLocal,
				UseKnowledgeBase: useKB,
			})
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}

			backend := color.GreenString(resp.BackendUsed)
			if resp.FallbackUsed {
				backend = color.YellowString(resp.BackendUsed + " (fallback)")
			}
			fmt.Fprintf(os.Stderr, "%s %s via %s, complexity %.2f (%s), %dms\n",
				color.CyanString("→"), resp.WorkerUsed, backend,
				resp.ComplexityScore, resp.ComplexityTier, resp.ElapsedMS)
			fmt.Println(resp.Output)
			return nil
		},
	}

	cmd.Flags().StringVar(&workerKind, "worker", "", "pin the worker kind (e.g. researcher, code-debugger)")
	cmd.Flags().StringVar(&contextFlag, "context", "", "extra context for the worker")
	cmd.Flags().BoolVar(&forceLocal, "local", false, "run on the local backend only")
	cmd.Flags().BoolVar(&useKB, "kb", false, "add knowledge-base snippets to the context")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the full dispatch response as JSON")
	return cmd
}

func readQuery(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("query is required")
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Show routing categories and their worker kinds",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			r, err := router.New(cfg.RoutingConfig, router.WithLogger(logger))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CATEGORY\tWORKER\tTRIGGERS")
			for _, route := range r.Routes() {
				triggers := append([]string(nil), route.Triggers...)
				for _, group := range route.AllOf {
					triggers = append(triggers, strings.Join(group, "+"))
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", route.Category, route.Kind, strings.Join(triggers, ", "))
			}
			fmt.Fprintln(w)
			fmt.Fprintf(w, "DEFAULT\t%s\t-\n", r.DefaultKind())

			h := cfg.RoutingConfig.Hybrid
			fmt.Fprintf(w, "\nlocal threshold %.2f, fallback %v, tiers %.2f/%.2f\n",
				h.LocalThreshold, h.FallbackEnabled(),
				cfg.RoutingConfig.Tiers.Medium, cfg.RoutingConfig.Tiers.High)
			return w.Flush()
		},
	}
}

func workersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workers",
		Short: "List registered workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			orch, err := orchestrator.New(cmd.Context(), cfg, orchestrator.WithLogger(logger), offlineAdapters(cfg))
			if err != nil {
				return err
			}
			defer orch.Close()

			routing := orch.Routing()
			settings, err := routing.WorkerSettings()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tNAME\tMODE\tTIMEOUT")
			for _, wk := range orch.Registry().Workers() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", wk.Kind, wk.Name, wk.Mode(), routing.Timeout(settings, wk.Kind))
			}
			return w.Flush()
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [routing.yaml]",
		Short: "Validate a routing config",
		Long:  "Loads the routing config and checks that every routable worker kind has a worker.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				configFile = args[0]
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			orch, err := orchestrator.New(cmd.Context(), cfg, orchestrator.WithLogger(logger), offlineAdapters(cfg))
			if err != nil {
				return err
			}
			defer orch.Close()

			kinds, err := cfg.RoutingConfig.RuleKinds()
			if err != nil {
				return err
			}
			fmt.Printf("%s routing config is valid: %d categories, %d routable worker kinds.\n",
				color.GreenString("✓"), len(cfg.RoutingConfig.Categories), len(kinds))
			return nil
		},
	}
}

// offlineAdapters stands mock adapters in for both backends so commands that
// only inspect wiring never need credentials or a running model server.
func offlineAdapters(cfg *config.Config) orchestrator.Option {
	b := cfg.RoutingConfig.Backends
	return orchestrator.WithAdapters(map[string]adapter.Adapter{
		b.Local.Adapter:  adapter.NewNamedMockAdapter(b.Local.Adapter),
		b.Remote.Adapter: adapter.NewNamedMockAdapter(b.Remote.Adapter),
	})
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadWithRoutingFile(configFile)
	}
	return config.Load()
}

func exitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
