package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/armorclaw/faultline/internal/queue"
	"github.com/armorclaw/faultline/pkg/config"
	"github.com/armorclaw/faultline/pkg/faults"
	"github.com/armorclaw/faultline/pkg/logger"
	"github.com/armorclaw/faultline/pkg/netclient"
	"github.com/armorclaw/faultline/pkg/stream"
)

var errNoDatabase = errors.New("no database configured (set error_log.db_path or --db-path)")

// Execute runs the CLI
func Execute(version string) error {
	root := newRootCmd(version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func newRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:           "faultline",
		Short:         "Fault classification, propagation and recovery",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	root.PersistentFlags().String("db-path", "", "Override the fault database path")
	root.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	root.AddCommand(newRunCmd())
	root.AddCommand(newSendCmd())
	root.AddCommand(newLogCmd())
	root.AddCommand(newQueueCmd())
	root.AddCommand(newCodesCmd())
	root.AddCommand(newConfigCmd())
	return root
}

// app is the wiring shared by commands
type app struct {
	cfg *config.Config
	log *logger.Logger
	sys *faults.System
}

type appOptions struct {
	// quiet moves process logs off the terminal
	quiet bool
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dbPath, _ := cmd.Flags().GetString("db-path"); dbPath != "" {
		cfg.Log.DBPath = dbPath
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func loadApp(cmd *cobra.Command, opts appOptions) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	output := cfg.Logging.Output
	if opts.quiet && (output == "stderr" || output == "stdout" || output == "") {
		output = "discard"
		if cfg.Log.DBPath != "" && cfg.Log.DBPath != ":memory:" {
			output = cfg.Log.DBPath + ".log"
		}
	}
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: output,
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	sys, err := faults.Initialize(cmd.Context(), cfg, log)
	if err != nil {
		return nil, err
	}
	registerCollectors(sys.Registry())
	return &app{cfg: cfg, log: log, sys: sys}, nil
}

func registerCollectors(reg *prometheus.Registry) {
	var cs []prometheus.Collector
	cs = append(cs, netclient.Collectors()...)
	cs = append(cs, queue.Collectors()...)
	cs = append(cs, stream.Collectors()...)
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				logger.Warn("metric not registered", "error", err)
			}
		}
	}
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.sys.Stop(ctx); err != nil {
		a.log.Warn("shutdown incomplete", "error", err)
	}
}

func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	a, err := loadApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

func (a *app) queueStore() (*queue.Store, error) {
	db := a.sys.DB()
	if db == nil {
		return nil, errNoDatabase
	}
	return queue.New(db), nil
}
