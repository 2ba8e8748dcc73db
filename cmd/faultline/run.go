package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/armorclaw/faultline/pkg/boundary"
	"github.com/armorclaw/faultline/pkg/display"
	"github.com/armorclaw/faultline/pkg/errlog"
	"github.com/armorclaw/faultline/pkg/guard"
	"github.com/armorclaw/faultline/pkg/offline"
	"github.com/armorclaw/faultline/pkg/stream"
	"github.com/armorclaw/faultline/pkg/tui"
)

// counterEvent is the payload of a "counter" stream event
type counterEvent struct {
	Name  string `json:"name"`
	Delta int    `json:"delta"`
}

// session is the state stream events mutate
type session struct {
	Events   int            `json:"events"`
	LastID   string         `json:"last_id"`
	Counters map[string]int `json:"counters"`
}

func nonNegative(s session) error {
	for name, v := range s.Counters {
		if v < 0 {
			return fmt.Errorf("counter %s would be %d", name, v)
		}
	}
	return nil
}

func applyEvent(ev stream.Event) guard.Mutation[session] {
	return func(s *session) error {
		s.Events++
		s.LastID = ev.ID
		if ev.Type != "counter" {
			return nil
		}
		var c counterEvent
		if err := json.Unmarshal(ev.Data, &c); err != nil {
			return fmt.Errorf("decode counter: %w", err)
		}
		if s.Counters == nil {
			s.Counters = map[string]int{}
		}
		s.Counters[c.Name] += c.Delta
		return nil
	}
}

func newRunCmd() *cobra.Command {
	var (
		headless   bool
		probePath  string
		probeEvery time.Duration
		retention  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the fault host",
		Long: `Run the terminal host. It follows the configured event stream, replays the
offline queue when connectivity returns, serves metrics when enabled and shows
faults as toasts, modals and inline messages.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, appOptions{quiet: !headless})
			if err != nil {
				return err
			}
			defer a.close()
			return a.run(cmd.Context(), runOptions{
				headless:   headless,
				probePath:  probePath,
				probeEvery: probeEvery,
				retention:  retention,
			})
		},
	}

	cmd.Flags().BoolVar(&headless, "headless", false, "Run without the terminal UI")
	cmd.Flags().StringVar(&probePath, "probe-path", "/", "Path probed while offline")
	cmd.Flags().DurationVar(&probeEvery, "probe-interval", 5*time.Second, "How often to probe while offline")
	cmd.Flags().DurationVar(&retention, "retention", 720*time.Hour, "Prune persisted faults older than this")
	return cmd
}

type runOptions struct {
	headless   bool
	probePath  string
	probeEvery time.Duration
	retention  time.Duration
}

func (a *app) run(parent context.Context, opts runOptions) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	state := guard.New("session", session{Counters: map[string]int{}}, a.sys,
		guard.WithCheck(nonNegative),
		guard.WithLogger[session](a.log),
	)

	var stack *clientStack
	if a.sys.DB() != nil {
		s, err := a.newClientStack(ctx)
		if err != nil {
			return err
		}
		stack = s
		g.Go(func() error {
			return stack.probeLoop(ctx, a.cfg.Network, opts.probePath, opts.probeEvery)
		})
	} else {
		a.log.Info("offline queue disabled: no database")
	}

	var rec *stream.Reconnector
	if a.cfg.Stream.URL != "" {
		transport := &stream.WebSocketTransport{URL: a.cfg.Stream.URL, Resume: a.cfg.Stream.Resume}
		handler := func(ctx context.Context, ev stream.Event) error {
			return state.Update(ctx, applyEvent(ev))
		}
		rec = stream.New(transport, handler, a.sys, a.cfg.Stream,
			stream.WithErrorStore(a.sys.Store()),
			stream.WithLogger(a.log),
		)
		g.Go(func() error {
			if err := rec.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("event stream: %w", err)
			}
			return nil
		})
	}

	if a.cfg.Metrics.Enabled {
		g.Go(func() error { return a.serveMetrics(ctx) })
	}

	g.Go(func() error {
		a.cleanupLoop(ctx, opts.retention)
		return nil
	})

	if opts.headless {
		a.log.Info("faultline running", "stream", a.cfg.Stream.URL != "", "metrics", a.cfg.Metrics.Enabled)
		g.Go(func() error {
			<-ctx.Done()
			return nil
		})
		return ignoreCanceled(g.Wait())
	}

	toasts := display.NewToasts(a.sys.Store(), a.sys,
		display.WithTimeout(a.cfg.Display.ToastTimeout.D()),
		display.WithMaxToasts(a.cfg.Display.MaxToasts),
		display.WithToastLogger(a.log),
	)
	defer toasts.Close()

	tcfg := tui.Config{
		Regions: a.regions(state, stack),
		Toasts:  toasts,
		Modal:   display.NewModal(a.sys.Store()),
		Inline:  display.NewInline(a.sys.Store()),
		Stream:  rec,
	}
	if stack != nil {
		tcfg.Offline = stack.queue
	}

	g.Go(func() error {
		defer cancel()
		if err := tui.Run(ctx, tcfg); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})
	return ignoreCanceled(g.Wait())
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// regions builds the guarded panels of the terminal host
func (a *app) regions(state *guard.Guard[session], stack *clientStack) *boundary.Group {
	opts := []boundary.Option{
		boundary.WithRetryCap(a.cfg.Boundary.RetryCap),
		boundary.WithLogger(a.log),
	}
	group := boundary.NewGroup()

	events := boundary.New("events", a.sys, opts...)
	group.Add(events, func() (string, error) {
		s := state.Get()
		var b strings.Builder
		fmt.Fprintf(&b, "Events: %d", s.Events)
		if s.LastID != "" {
			fmt.Fprintf(&b, " (last %s)", s.LastID)
		}
		names := make([]string, 0, len(s.Counters))
		for name := range s.Counters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "\n  %s: %d", name, s.Counters[name])
		}
		return b.String(), nil
	})

	if stack != nil {
		queued := boundary.New("queue", a.sys, opts...)
		group.Add(queued, func() (string, error) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			stats, err := stack.store.Stats(ctx)
			if err != nil {
				return "", fmt.Errorf("queue stats: %w", err)
			}
			line := fmt.Sprintf("Queue: %d pending, %d failed", stats.Pending, stats.Failed)
			if stack.queue.State() == offline.Offline {
				line += " (offline)"
			}
			return line, nil
		})
	}

	recent := boundary.New("recent", a.sys, opts...)
	group.Add(recent, func() (string, error) {
		entries := a.sys.FaultLog().History(errlog.Query{Limit: 5})
		if len(entries) == 0 {
			return "No recent faults", nil
		}
		lines := []string{"Recent faults:"}
		for _, c := range entries {
			lines = append(lines, fmt.Sprintf("  %s %s %s",
				c.Timestamp.Local().Format(time.TimeOnly), c.Code, sanitizer.ScrubString(c.Message)))
		}
		return strings.Join(lines, "\n"), nil
	})
	return group
}

func (a *app) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.sys.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	a.log.Info("metrics listening", "addr", a.cfg.Metrics.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// cleanupLoop prunes old persisted faults at start and then hourly
func (a *app) cleanupLoop(ctx context.Context, retention time.Duration) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		n, err := a.sys.Cleanup(ctx, retention)
		if err != nil && ctx.Err() == nil {
			a.log.Warn("fault log cleanup failed", "error", err)
		} else if n > 0 {
			a.log.Info("pruned fault log", "removed", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
