package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"evalgo.org/nimbus/internal/cache"
	"evalgo.org/nimbus/internal/console"
	"evalgo.org/nimbus/internal/events"
	"evalgo.org/nimbus/internal/metrics"
	"evalgo.org/nimbus/models"
	"evalgo.org/nimbus/pkg/nimbus/client"
)

var (
	watchPage        int
	watchPageCount   int
	watchName        string
	watchEvents      string
	watchOnce        bool
	watchClear       bool
	watchCachePath   string
	watchMetricsAddr string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the instance list live",
	Long: `Keep a local copy of a page of the instance list and of the per node
lists, and print it whenever the server reports a change.

Events come from the server websocket by default, or from NATS with
--events nats. With console.cache_path set, the last state is restored at
start so something is shown before the server answers.

Examples:
  nimbus watch
  nimbus watch --name web --page-count 20
  nimbus watch --events nats
  nimbus watch --once --format json`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().IntVar(&watchPage, "page", 0, "page number (0 based)")
	watchCmd.Flags().IntVar(&watchPageCount, "page-count", 0, "instances per page (default: console.page_size)")
	watchCmd.Flags().StringVar(&watchName, "name", "", "only instances whose name contains this (case-insensitive)")
	watchCmd.Flags().StringVar(&watchEvents, "events", "websocket", "event source (websocket, nats, none)")
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "sync once, print and exit")
	watchCmd.Flags().BoolVar(&watchClear, "clear", false, "clear the terminal before every update")
	watchCmd.Flags().StringVar(&watchCachePath, "cache", "", "snapshot cache directory (default: console.cache_path)")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "serve console metrics on this address (e.g. :9100)")
	watchCmd.Flags().StringVar(&outputFormat, "format", "table", "output format (table, json)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := newClient()
	store := console.NewStore()
	m := metrics.New()

	opts := []console.SyncerOption{
		console.WithLogger(logger),
		console.WithInterval(cfg.Console.ResyncInterval),
		console.WithAppliedHook(m.ObserveApplied),
	}

	cachePath := watchCachePath
	if cachePath == "" {
		cachePath = cfg.Console.CachePath
	}
	if cachePath != "" {
		cc, err := cache.Open(cachePath)
		if err != nil {
			return err
		}
		defer cc.Close()

		if savedAt, err := cc.SavedAt(); err == nil {
			logger.WithField("saved_at", savedAt.Format(time.RFC3339)).Info("restoring cached instance list")
		}
		opts = append(opts, console.WithCache(cc))
	}

	if !watchOnce {
		source, closeSource, err := eventSource(c)
		if err != nil {
			return err
		}
		defer closeSource()
		if source != nil {
			opts = append(opts, console.WithEvents(source))
		}
	}

	syncer := console.NewSyncer(store, c, opts...)
	if err := syncer.Restore(); err != nil {
		logger.WithError(err).Warn("ignoring snapshot cache")
	}

	if err := applyPosition(store); err != nil {
		return err
	}
	if err := trackNodes(ctx, store, c); err != nil {
		logger.WithError(err).Warn("failed to load node lists")
	}

	if watchOnce {
		if err := syncer.Sync(ctx); err != nil {
			return err
		}
		if err := syncer.Save(); err != nil {
			logger.WithError(err).Warn("failed to save snapshot cache")
		}
		return render(os.Stdout, store.Snapshot())
	}

	if watchMetricsAddr != "" {
		srv := &http.Server{Addr: watchMetricsAddr, Handler: m.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Warn("metrics server stopped")
			}
		}()
		defer srv.Close()
	}

	// coalesce bursts of dispatches into one redraw
	redraw := make(chan struct{}, 1)
	unsubscribe := store.Subscribe(func(models.InstanceDispatch) {
		select {
		case redraw <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	done := make(chan error, 1)
	go func() { done <- syncer.Run(ctx) }()

	for {
		select {
		case err := <-done:
			return err
		case <-redraw:
			if watchClear {
				fmt.Print("\033[H\033[2J")
			} else {
				fmt.Printf("--- %s\n", time.Now().Format(time.TimeOnly))
			}
			if err := render(os.Stdout, store.Snapshot()); err != nil {
				return err
			}
		}
	}
}

// eventSource returns the configured event stream and a function releasing it.
func eventSource(c console.EventSource) (console.EventSource, func(), error) {
	switch watchEvents {
	case "websocket":
		return c, func() {}, nil
	case "nats":
		if cfg.Events.NATSURL == "" {
			return nil, nil, fmt.Errorf("events.nats_url is not configured")
		}
		sub, err := events.NewNATSSubscriber(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, logger)
		if err != nil {
			return nil, nil, err
		}
		return sub, sub.Close, nil
	case "none":
		return nil, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown event source %q (use websocket, nats or none)", watchEvents)
	}
}

// applyPosition moves the store to the page and filter given on the
// command line. Without flags the restored position is kept.
func applyPosition(store *console.Store) error {
	if watchName != "" {
		err := store.Dispatch(models.NewDispatch(models.ActionFilter, &models.DispatchData{
			Filter: &models.Filter{Name: models.String(watchName)},
		}))
		if err != nil {
			return err
		}
	}

	pageCount := watchPageCount
	if pageCount == 0 && cfg.Console.PageSize > 0 {
		if _, current := store.Position(); current == console.DefaultPageCount {
			pageCount = cfg.Console.PageSize
		}
	}
	if watchPage == 0 && pageCount == 0 {
		return nil
	}

	page, _ := store.Position()
	if watchPage > 0 {
		page = watchPage
	}
	data := &models.DispatchData{Page: models.Int(page)}
	if pageCount > 0 {
		data.PageCount = models.Int(pageCount)
	}
	return store.Dispatch(models.NewDispatch(models.ActionTraverse, data))
}

// trackNodes applies the instance list of every node the server knows about.
func trackNodes(ctx context.Context, store *console.Store, c *client.Client) error {
	nodes, err := c.ListNodes(ctx)
	if err != nil {
		return err
	}
	for _, node := range nodes.Nodes() {
		if err := store.Dispatch(models.SyncNodeDispatch(node, nodes[node])); err != nil {
			return err
		}
	}
	return nil
}

func render(w io.Writer, snap console.Snapshot) error {
	if outputFormat == "json" {
		return printJSON(w, map[string]interface{}{
			"instances": snap.Instances,
			"nodes":     snap.Nodes,
			"filter":    snap.Filter,
			"page":      snap.Page,
			"pageCount": snap.PageCount,
			"count":     snap.Count,
		})
	}
	return printSnapshot(w, snap)
}
