// questweaver runs the orchestration core with a table of demo agents.
//
// Usage:
//
//	questweaver serve                          # start the system
//	questweaver serve --config qw.yaml --demo  # also run a sample encounter
//	questweaver version
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/questweaver/questweaver"
	"github.com/questweaver/questweaver/config"
	"github.com/questweaver/questweaver/types"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	metricsAddr := fs.String("metrics-addr", ":9090", "Metrics and health listen address")
	demo := fs.String("demo", "", "Run a demo workflow: 'encounter'")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := questweaver.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sys, err := questweaver.NewSystem(cfg, logger, nil)
	if err != nil {
		logger.Fatal("system init failed", zap.Error(err))
	}
	for _, exec := range demoAgents() {
		if err := sys.Host(exec); err != nil {
			logger.Fatal("host agent failed", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go serveMetrics(ctx, *metricsAddr, logger)

	if *demo != "" {
		go runDemo(ctx, sys, *demo, logger)
	}

	logger.Info("questweaver starting", zap.String("metrics_addr", *metricsAddr))
	if err := sys.Run(ctx); err != nil {
		logger.Error("system exited with error", zap.Error(err))
		os.Exit(1)
	}
}

// serveMetrics exposes /metrics and /healthz until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", zap.Error(err))
	}
}

// runDemo submits a sample workflow and prints the outcome.
func runDemo(ctx context.Context, sys *questweaver.System, name string, logger *zap.Logger) {
	if name != "encounter" {
		logger.Warn("unknown demo", zap.String("demo", name))
		return
	}
	// Let the system goroutines come up first.
	time.Sleep(200 * time.Millisecond)

	wf := encounterWorkflow()
	if err := sys.Engine.Create(ctx, wf); err != nil {
		logger.Error("demo workflow rejected", zap.Error(err))
		return
	}
	logger.Info("demo workflow started", zap.String("workflow_id", wf.ID))

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			got, ok := sys.Engine.Status(wf.ID)
			if !ok || !got.Status.IsTerminal() {
				continue
			}
			logger.Info("demo workflow finished", zap.String("status", string(got.Status)))
			for _, step := range got.Steps {
				fmt.Printf("%-12s %v\n", step.ID+":", got.Context[types.StepResultKey(step.ID)])
			}
			return
		}
	}
}

// encounterWorkflow is the demo: narrate an ambush, resolve it, then recap
// and illustrate the aftermath in parallel.
func encounterWorkflow() *types.Workflow {
	return types.NewWorkflow("goblin-ambush", "a goblin ambush on the king's road",
		[]types.WorkflowStep{
			{ID: "scene", Name: "set the scene", AgentType: "narrative", Action: "narrate_scene",
				Params: map[string]any{"mood": "ominous"}},
			{ID: "fight", Name: "resolve the ambush", AgentType: "combat", Action: "resolve_round",
				DependsOn: []string{"scene"}},
			{ID: "recap", Name: "recap the fight", AgentType: "narrative", Action: "recap_session",
				DependsOn: []string{"fight"}},
			{ID: "art", Name: "illustrate the aftermath", AgentType: "art", Action: "render_scene",
				DependsOn: []string{"fight"}},
		},
		map[string]any{"location": "king's road", "party_level": 3})
}

func printVersion() {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		version = info.Main.Version
	}
	fmt.Printf("questweaver %s\n", version)
}

func printUsage() {
	fmt.Println(`questweaver - multi-agent orchestration core for tabletop sessions

Usage:
  questweaver serve [--config FILE] [--metrics-addr ADDR] [--demo encounter]
  questweaver version
  questweaver help`)
}
