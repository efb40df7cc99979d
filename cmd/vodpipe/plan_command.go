package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"vodpipe/internal/planner"
)

func newPlanCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:         "plan WIDTHxHEIGHT",
		Short:       "Show the quality tiers planned for a source resolution",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			width, height, err := parseResolution(args[0])
			if err != nil {
				return err
			}
			plan, err := planner.Plan(width, height)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, plan)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTiers(plan))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func parseResolution(value string) (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(value)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("resolution %q must look like 1920x1080", value)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return 0, 0, fmt.Errorf("resolution %q: invalid width", value)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return 0, 0, fmt.Errorf("resolution %q: invalid height", value)
	}
	return width, height, nil
}
