package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zaggy/mcc/internal/budget"
	"github.com/zaggy/mcc/internal/config"
	"github.com/zaggy/mcc/internal/ledger"
	"github.com/zaggy/mcc/internal/llm"
	"github.com/zaggy/mcc/internal/metrics"
	"github.com/zaggy/mcc/internal/notify"
	"github.com/zaggy/mcc/internal/orchestrator"
	"github.com/zaggy/mcc/internal/signals"
)

var (
	runMetricsAddr string
	runNoColor     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the orchestrator",
	Long: `Start the orchestrator daemon. It serves agent work until
interrupted, enforcing budget limits in front of every LLM call.

While running it watches .mcc/signals for pause/resume files written by
'mcc pause' and 'mcc resume', and optionally serves Prometheus metrics.`,
	RunE: runOrchestrator,
}

func runOrchestrator(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	apiKey, err := config.GetAPIKey(cfg)
	if err != nil && !cfg.Anthropic.UseBedrock {
		return err
	}

	provider, err := llm.NewClient(llm.ClientConfig{
		Model:         cfg.Defaults.Model,
		APIKey:        apiKey,
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return fmt.Errorf("create provider: %w", err)
	}

	db, err := openState()
	if err != nil {
		return err
	}
	defer db.Close()

	registry, err := budget.NewRegistry(db)
	if err != nil {
		return fmt.Errorf("load limits: %w", err)
	}

	pause, err := budget.NewPauseController(db)
	if err != nil {
		return fmt.Errorf("load pause state: %w", err)
	}
	defer pause.Stop()

	notifier := notify.New()
	if runNoColor {
		notifier.NoColor()
	}

	gate := budget.NewGate(registry, ledger.New(db), pause, db, notifier)

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	logger := orchestrator.NewDebugLoggerForProject(cwd)
	defer logger.Close()

	o := orchestrator.New(orchestrator.Config{
		Store:    db,
		Gate:     gate,
		Pause:    pause,
		Provider: provider,
		Retry:    cfg.RetryPolicy(),
		Logger:   logger,
	})
	defer o.Close()

	watcher, err := signals.NewWatcher(cwd, pause)
	if err != nil {
		return fmt.Errorf("start signal watcher: %w", err)
	}
	defer watcher.Close()
	watcher.CheckNow()

	m := metrics.New()
	if runMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		go func() {
			if err := http.ListenAndServe(runMetricsAddr, mux); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
			}
		}()
		notifier.Printf("Metrics on http://%s/metrics", runMetricsAddr)
	}

	go consumeEvents(o, m, notifier, gate, pause)

	if paused, reason := pause.IsPaused(); paused {
		notifier.Printf("Starting PAUSED: %s", reason)
	} else {
		notifier.Printf("Orchestrator running (db: %s)", resolveDBPath())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	notifier.Printf("Shutting down")
	return nil
}

// consumeEvents fans the orchestrator event stream into the notifier and
// the metrics collectors.
func consumeEvents(o *orchestrator.Orchestrator, m *metrics.Metrics, n *notify.Notifier, gate *budget.Gate, pause *budget.PauseController) {
	for ev := range o.Events() {
		n.Event(ev)

		switch ev.Type {
		case orchestrator.EventTaskTransition, orchestrator.EventTaskAssigned,
			orchestrator.EventTaskCompleted, orchestrator.EventTaskFailed:
			if ev.To != "" {
				m.RecordTransition(ev.To)
			}
		case orchestrator.EventMessageRouted:
			m.RecordMessage()
		case orchestrator.EventCallBlocked:
			m.RecordCall("block", "")
		case orchestrator.EventEscalation:
			m.RecordEscalation(false)
		}

		m.SetInFlight(gate.InFlight())
		paused, _ := pause.IsPaused()
		m.SetPaused(paused)
	}
}

func init() {
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	runCmd.Flags().BoolVar(&runNoColor, "no-color", false, "Disable colored output")
}
