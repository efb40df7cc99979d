package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"vodpipe/internal/api"
	"vodpipe/internal/planner"
	"vodpipe/internal/stage"
)

func newMetricsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show rolling job metrics from the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.Metrics(cmd.Context())
			if err != nil {
				return wrapClientError(err)
			}
			if asJSON {
				return writeJSON(cmd, resp)
			}
			renderMetrics(cmd, resp)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func renderMetrics(cmd *cobra.Command, resp api.MetricsResponse) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	fmt.Fprintln(out, renderSectionHeader(fmt.Sprintf("Last %d jobs", resp.WindowSize), colorize))
	fmt.Fprintln(out, renderStatusLine("Completed", statusOK, strconv.Itoa(resp.Completed), colorize))
	fmt.Fprintln(out, renderStatusLine("Failed", failedKind(resp.Failed), strconv.Itoa(resp.Failed), colorize))
	fmt.Fprintln(out, renderStatusLine("Cancelled", statusInfo, strconv.Itoa(resp.Cancelled), colorize))
	fmt.Fprintln(out, renderStatusLine("Success rate", statusInfo, fmt.Sprintf("%.1f%%", resp.SuccessRate*100), colorize))
	fmt.Fprintln(out, renderStatusLine("Active", statusInfo, strconv.Itoa(resp.ActiveJobs), colorize))
	fmt.Fprintln(out, renderStatusLine("Retries", statusInfo, strconv.Itoa(resp.TotalRetries), colorize))

	numeric := []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight}
	if len(resp.Stages) > 0 {
		rows := make([][]string, 0, len(resp.Stages))
		for _, name := range stageOrder(resp.Stages) {
			s := resp.Stages[name]
			rows = append(rows, []string{name, strconv.Itoa(s.Count), formatMS(s.MinMS), formatMS(s.AvgMS), formatMS(s.MaxMS)})
		}
		fmt.Fprintln(out, renderTable("Stage durations", []string{"Stage", "Runs", "Min", "Avg", "Max"}, rows, numeric))
	}
	if len(resp.Tiers) > 0 {
		rows := make([][]string, 0, len(resp.Tiers))
		for _, name := range tierOrder(resp.Tiers) {
			s := resp.Tiers[name]
			rows = append(rows, []string{name, strconv.Itoa(s.Count), formatMS(s.AvgMS), formatMS(s.MaxMS), formatBytes(s.AvgSizeBytes)})
		}
		fmt.Fprintln(out, renderTable("Tier encodes", []string{"Tier", "Encodes", "Avg", "Max", "Avg size"}, rows, numeric))
	}
	if len(resp.Recent) > 0 {
		rows := make([][]string, 0, len(resp.Recent))
		for _, job := range resp.Recent {
			rows = append(rows, []string{
				job.UploadID,
				string(job.Outcome),
				job.FinishedAt.Sub(job.StartedAt).Round(time.Millisecond).String(),
				strconv.Itoa(job.Retries),
			})
		}
		fmt.Fprintln(out, renderTable("Recent jobs", []string{"Upload", "Outcome", "Took", "Retries"}, rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight}))
	}
}

func failedKind(n int) statusKind {
	if n > 0 {
		return statusWarn
	}
	return statusOK
}

// stageOrder lists stage keys in pipeline order, unknown names last.
func stageOrder[V any](stages map[string]V) []string {
	names := make([]string, 0, len(stages))
	for name := range stages {
		names = append(names, name)
	}
	sort.SliceStable(names, func(i, j int) bool {
		a, b := stage.Name(names[i]).Index(), stage.Name(names[j]).Index()
		if a < 0 {
			a = len(stage.Pipeline())
		}
		if b < 0 {
			b = len(stage.Pipeline())
		}
		if a != b {
			return a < b
		}
		return names[i] < names[j]
	})
	return names
}

// tierOrder lists tiers highest first, following the preset catalog.
func tierOrder[V any](tiers map[string]V) []string {
	names := make([]string, 0, len(tiers))
	for _, preset := range planner.Presets() {
		if _, ok := tiers[preset.Name]; ok {
			names = append(names, preset.Name)
		}
	}
	if len(names) == len(tiers) {
		return names
	}
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		seen[name] = struct{}{}
	}
	var rest []string
	for name := range tiers {
		if _, ok := seen[name]; !ok {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}
