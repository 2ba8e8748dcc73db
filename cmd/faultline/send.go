package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	ferrors "github.com/armorclaw/faultline/pkg/errors"
	"github.com/armorclaw/faultline/pkg/netclient"
)

func newSendCmd() *cobra.Command {
	var (
		data       string
		noQueue    bool
		maxRetries int
	)

	cmd := &cobra.Command{
		Use:   "send METHOD PATH",
		Short: "Send a request through the interceptor",
		Long: `Send a request through the network interceptor. Recoverable failures are
retried with backoff. A mutating request that fails for lack of connectivity
is stored in the offline queue and replayed later.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := strings.ToUpper(args[0])
			path := args[1]

			var body json.RawMessage
			if data != "" {
				if !json.Valid([]byte(data)) {
					return fmt.Errorf("--data must be valid JSON")
				}
				body = json.RawMessage(data)
			}

			return withApp(cmd, func(a *app) error {
				if cmd.Flags().Changed("max-retries") {
					a.cfg.Network.MaxRetries = maxRetries
				}
				ctx := cmd.Context()
				out := cmd.OutOrStdout()

				if method == http.MethodGet || method == http.MethodHead || noQueue {
					client, err := netclient.New(a.cfg.Network, netclient.WithReporter(a.sys), netclient.WithLogger(a.log))
					if err != nil {
						return err
					}
					var in any
					if len(body) > 0 {
						in = body
					}
					var resp json.RawMessage
					if err := client.SendJSON(ctx, method, path, in, &resp); err != nil {
						return printFailure(cmd, err)
					}
					fmt.Fprintln(out, string(resp))
					return nil
				}

				stack, err := a.newClientStack(ctx)
				if err != nil {
					return err
				}
				payload, err := json.Marshal(queuedRequest{Method: method, Path: path, Body: body})
				if err != nil {
					return err
				}
				res, err := stack.queue.Submit(ctx, requestKind, payload)
				if err != nil {
					return printFailure(cmd, err)
				}
				if res.Queued {
					fmt.Fprintf(out, "Offline: request queued as %s\n", res.ID)
					return nil
				}
				fmt.Fprintln(out, "Sent")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body")
	cmd.Flags().BoolVar(&noQueue, "no-queue", false, "Fail instead of queueing when offline")
	cmd.Flags().IntVar(&maxRetries, "max-retries", netclient.DefaultMaxRetries, "Retries after the first attempt")
	return cmd
}

// printFailure prints the normalized error shape and returns err
func printFailure(cmd *cobra.Command, err error) error {
	re, ok := netclient.IsRequestError(err)
	if !ok {
		return err
	}
	enc := json.NewEncoder(cmd.ErrOrStderr())
	enc.SetIndent("", "  ")
	enc.Encode(re.Response)
	if re.Fault != nil && re.Fault.Severity == ferrors.SeverityCritical {
		return fmt.Errorf("%s %s failed: %w", re.Method, re.URL, err)
	}
	return err
}
