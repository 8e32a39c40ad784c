package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"evalgo.org/nimbus/internal/api"
	"evalgo.org/nimbus/internal/events"
	"evalgo.org/nimbus/internal/integrity"
	"evalgo.org/nimbus/internal/metrics"
	"evalgo.org/nimbus/internal/scheduler"
	"evalgo.org/nimbus/internal/storage"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server",
	Long: `Start the HTTP API server.

Instances are stored in CouchDB. Every change is streamed to websocket
clients on /api/v1/ws/events and, when events.nats_url is set, published
to NATS under events.subject_prefix.`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().Bool("watch-changes", false, "forward CouchDB changes made by other writers")
}

func runServer(cmd *cobra.Command, args []string) error {
	if watch, _ := cmd.Flags().GetBool("watch-changes"); watch {
		cfg.Server.WatchChanges = true
	}

	// Initialize storage layer
	store, err := storage.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	// closed last, after the api server and the scheduler are done with it
	defer store.Close()

	m := metrics.New()
	opts := []api.Option{api.WithLogger(logger), api.WithMetrics(m)}

	if cfg.Events.NATSURL != "" {
		publisher, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		defer publisher.Close()
		opts = append(opts, api.WithPublisher("nats", publisher))
	}

	// Create API server
	server := api.New(cfg, store, opts...)

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	// Background integrity scans
	checks := newIntegrityScheduler(store, m)
	checks.Start(ctx)
	defer checks.Stop()

	// Start server in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		return nil

	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

// newIntegrityScheduler builds the background integrity scans configured in
// the integrity section. With a zero scan interval it never runs.
func newIntegrityScheduler(store *storage.Storage, m *metrics.Metrics) *scheduler.Scheduler {
	svc := integrity.NewService(store,
		integrity.WithLogger(logger),
		integrity.WithAudit(integrity.NewAuditLogger(cfg.Integrity.AuditDir)),
	)

	opts := []scheduler.Option{
		scheduler.WithLogger(logger),
		scheduler.WithScanHook(func(report *integrity.ScanReport) {
			byType := make(map[string]int, len(report.Summary.ByType))
			for typ, n := range report.Summary.ByType {
				byType[string(typ)] = n
			}
			m.ObserveIntegrity(report.Summary.HealthScore, byType)
		}),
	}
	if cfg.Integrity.AutoRepair {
		strategy, ok := integrity.ParseStrategy(cfg.Integrity.Strategy)
		if !ok {
			strategy = integrity.StrategyLatestWins
		}
		opts = append(opts, scheduler.WithAutoRepair(strategy))
	}

	return scheduler.New(svc, cfg.Integrity.ScanInterval, opts...)
}
