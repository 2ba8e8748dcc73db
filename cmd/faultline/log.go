package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/armorclaw/faultline/pkg/errlog"
	ferrors "github.com/armorclaw/faultline/pkg/errors"
)

func newLogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Inspect the persisted fault log",
	}
	cmd.AddCommand(newLogListCmd(), newLogExportCmd(), newLogStatsCmd(), newLogClearCmd(), newLogPruneCmd())
	return cmd
}

type queryFlags struct {
	kind      string
	code      string
	component string
	severity  string
	since     time.Duration
	limit     int
}

func (f *queryFlags) register(cmd *cobra.Command, defaultLimit int) {
	cmd.Flags().StringVar(&f.kind, "kind", "", "Only entries of this kind")
	cmd.Flags().StringVar(&f.code, "code", "", "Only entries with this code")
	cmd.Flags().StringVar(&f.component, "component", "", "Only entries from this component")
	cmd.Flags().StringVar(&f.severity, "min-severity", "", "Only entries at or above this severity")
	cmd.Flags().DurationVar(&f.since, "since", 0, "Only entries newer than this (e.g. 24h)")
	cmd.Flags().IntVar(&f.limit, "limit", defaultLimit, "Keep only the newest N entries (0 = all)")
}

func (f *queryFlags) query() (errlog.Query, error) {
	q := errlog.Query{
		Kind:        ferrors.Kind(f.kind),
		Code:        f.code,
		Component:   f.component,
		MinSeverity: ferrors.Severity(f.severity),
		Limit:       f.limit,
	}
	if q.Kind != "" && !q.Kind.Valid() {
		return q, fmt.Errorf("unknown kind %q", f.kind)
	}
	if q.MinSeverity != "" && !q.MinSeverity.Valid() {
		return q, fmt.Errorf("unknown severity %q", f.severity)
	}
	if f.since > 0 {
		q.Since = time.Now().Add(-f.since)
	}
	return q, nil
}

func newLogListCmd() *cobra.Command {
	var qf queryFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List logged faults, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := qf.query()
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app) error {
				entries, err := a.sys.FaultLog().Persisted(cmd.Context(), q)
				if err != nil {
					return err
				}

				rows := make([][]string, 0, len(entries))
				for _, c := range entries {
					c = ferrors.Sanitize(c, false)
					rows = append(rows, []string{
						c.Timestamp.Local().Format(time.DateTime),
						c.Code,
						string(c.Severity),
						c.Origin.Component,
						c.Message,
					})
				}
				printTable(cmd.OutOrStdout(), "no faults logged",
					[]string{"TIME", "CODE", "SEVERITY", "COMPONENT", "MESSAGE"}, rows)
				return nil
			})
		},
	}

	qf.register(cmd, 50)
	return cmd
}

func newLogExportCmd() *cobra.Command {
	var (
		qf     queryFlags
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the fault log as json, ndjson, yaml or text",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := errlog.ParseFormat(format)
			if err != nil {
				return err
			}
			q, err := qf.query()
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app) error {
				data, err := a.sys.FaultLog().Export(cmd.Context(), f, q)
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				if err := os.WriteFile(output, data, 0600); err != nil {
					return fmt.Errorf("write export: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported to %s\n", output)
				return nil
			})
		},
	}

	qf.register(cmd, 0)
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Export format: json, ndjson, yaml, text")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")
	return cmd
}

func newLogStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show fault log counts by severity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				db := a.sys.DB()
				if db == nil {
					return errNoDatabase
				}
				total, err := errlog.PersistedCount(cmd.Context(), db)
				if err != nil {
					return err
				}
				entries, err := errlog.ReadPersisted(cmd.Context(), db, errlog.Query{})
				if err != nil {
					return err
				}
				bySeverity := make(map[ferrors.Severity]int)
				for _, c := range entries {
					bySeverity[c.Severity]++
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Persisted entries: %d (capacity %d)\n", total, a.cfg.Log.PersistedCapacity)
				for _, s := range []ferrors.Severity{ferrors.SeverityCritical, ferrors.SeverityError, ferrors.SeverityWarning, ferrors.SeverityInfo} {
					fmt.Fprintf(out, "  %-8s %d\n", s, bySeverity[s])
				}
				return nil
			})
		},
	}
}

func newLogClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every logged fault",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear the fault log without --yes")
			}
			return withApp(cmd, func(a *app) error {
				if err := a.sys.FaultLog().Clear(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Fault log cleared")
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")
	return cmd
}

func newLogPruneCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete logged faults older than a given age",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			return withApp(cmd, func(a *app) error {
				if a.sys.DB() == nil {
					return errNoDatabase
				}
				n, err := a.sys.Cleanup(cmd.Context(), olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d entries\n", n)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Age cutoff")
	return cmd
}
