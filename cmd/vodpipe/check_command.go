package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"vodpipe/internal/daemonctl"
	"vodpipe/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run local preflight checks and probe the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			fmt.Fprintln(out, renderSectionHeader("Preflight", colorize))
			results := preflight.RunAll(cmd.Context(), cfg)
			for _, r := range results {
				kind := statusOK
				if !r.Passed {
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, renderSectionHeader("Daemon", colorize))
			client, err := ctx.client()
			if err != nil {
				return err
			}
			health, err := client.Health(cmd.Context())
			switch {
			case errors.Is(err, daemonctl.ErrUnavailable):
				fmt.Fprintln(out, renderStatusLine("API", statusWarn, "not running", colorize))
			case err != nil:
				fmt.Fprintln(out, renderStatusLine("API", statusError, err.Error(), colorize))
			default:
				fmt.Fprintln(out, renderStatusLine("API", boolKind(health.Ready), "ready: "+yesNo(health.Ready), colorize))
			}

			if !preflight.Passed(results) {
				return errors.New("preflight checks failed")
			}
			return nil
		},
	}
}
