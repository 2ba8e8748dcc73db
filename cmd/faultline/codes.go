package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	ferrors "github.com/armorclaw/faultline/pkg/errors"
)

func newCodesCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "codes",
		Short: "List registered fault codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			defs := ferrors.AllCodes()
			if kind != "" {
				k := ferrors.Kind(kind)
				if !k.Valid() {
					return fmt.Errorf("unknown kind %q", kind)
				}
				defs = ferrors.CodesByKind(k)
			}

			rows := make([][]string, 0, len(defs))
			for _, d := range defs {
				actions := make([]string, len(d.Actions))
				for i, a := range d.Actions {
					actions[i] = string(a)
				}
				rows = append(rows, []string{
					d.Code,
					string(d.Kind),
					string(d.Severity),
					fmt.Sprint(d.Recoverable),
					strings.Join(actions, ","),
					d.Message,
				})
			}
			printTable(cmd.OutOrStdout(), "no codes",
				[]string{"CODE", "KIND", "SEVERITY", "RECOVERABLE", "ACTIONS", "MESSAGE"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Only list codes of this kind")
	return cmd
}
