package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/armorclaw/faultline/internal/queue"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and replay the offline queue",
	}
	cmd.AddCommand(newQueueListCmd())
	cmd.AddCommand(newQueueReplayCmd())
	cmd.AddCommand(newQueueRetryCmd())
	cmd.AddCommand(newQueueDropCmd())
	return cmd
}

func newQueueListCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch queue.Status(status) {
			case "", queue.StatusPending, queue.StatusFailed:
			default:
				return fmt.Errorf("unknown status %q (want pending or failed)", status)
			}

			return withApp(cmd, func(a *app) error {
				store, err := a.queueStore()
				if err != nil {
					return err
				}
				ops, err := store.List(cmd.Context(), queue.Status(status))
				if err != nil {
					return err
				}

				rows := make([][]string, 0, len(ops))
				for _, op := range ops {
					rows = append(rows, []string{
						op.ID,
						op.Kind,
						string(op.Status),
						strconv.Itoa(op.Attempts),
						op.EnqueuedAt.Local().Format(time.DateTime),
						sanitizer.ScrubString(op.LastError),
					})
				}
				out := cmd.OutOrStdout()
				printTable(out, "Queue is empty.", []string{"ID", "KIND", "STATUS", "ATTEMPTS", "QUEUED", "LAST ERROR"}, rows)

				if stats, err := store.Stats(cmd.Context()); err == nil && stats.Total > 0 {
					fmt.Fprintf(out, "\n%d pending, %d failed\n", stats.Pending, stats.Failed)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, failed)")
	return cmd
}

func newQueueReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Replay pending operations in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				stack, err := a.newClientStack(cmd.Context())
				if err != nil {
					return err
				}
				res, err := stack.queue.Replay(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Delivered %d, failed %d, remaining %d\n",
					res.Delivered, res.Failed, res.Remaining)
				return nil
			})
		},
	}
}

func newQueueRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry ID",
		Short: "Return a failed operation to the queue and replay it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				stack, err := a.newClientStack(cmd.Context())
				if err != nil {
					return err
				}
				res, err := stack.queue.RetryFailed(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("retry %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Delivered %d, failed %d, remaining %d\n",
					res.Delivered, res.Failed, res.Remaining)
				return nil
			})
		},
	}
}

func newQueueDropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop ID",
		Short: "Remove an operation without sending it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				store, err := a.queueStore()
				if err != nil {
					return err
				}
				if err := store.Drop(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("drop %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Dropped %s\n", args[0])
				return nil
			})
		},
	}
}
