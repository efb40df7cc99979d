package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"vodpipe/internal/logging"
	"vodpipe/internal/media"
	"vodpipe/internal/planner"
	"vodpipe/internal/transcoder"
)

// probeRunner executes ffprobe for the probe command. Tests swap it.
var probeRunner transcoder.Runner = transcoder.ExecRunner{}

type probeOutput struct {
	Source   string              `json:"source"`
	Metadata media.Metadata      `json:"metadata"`
	Plan     planner.QualityPlan `json:"plan"`
}

func newProbeCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "probe FILE",
		Short: "Probe a local video and show the tiers it would be encoded to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			invoker := transcoder.NewInvoker(transcoder.SettingsFromConfig(cfg), probeRunner, logging.NewNop())
			meta, err := invoker.Probe(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("probe %s: %w", args[0], err)
			}
			plan, err := planner.Plan(meta.Width, meta.Height)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, probeOutput{Source: args[0], Metadata: meta, Plan: plan})
			}

			out := cmd.OutOrStdout()
			audio := meta.AudioCodec
			if !meta.HasAudio() {
				audio = "none"
			}
			rows := [][]string{
				{"Duration", meta.Duration.Round(10 * time.Millisecond).String()},
				{"Resolution", meta.Resolution()},
				{"Frame rate", strconv.FormatFloat(meta.FrameRate, 'f', 2, 64)},
				{"Video codec", meta.VideoCodec},
				{"Audio codec", audio},
				{"Bitrate", fmt.Sprintf("%d kbps", meta.Bitrate/1000)},
			}
			if meta.Container != "" {
				rows = append(rows, []string{"Container", meta.Container})
			}
			fmt.Fprintln(out, renderTable(args[0], []string{"Field", "Value"}, rows, nil))
			fmt.Fprintln(out, renderTiers(plan))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func renderTiers(plan planner.QualityPlan) string {
	rows := make([][]string, 0, len(plan.Tiers))
	for _, tier := range plan.Tiers {
		rows = append(rows, []string{
			tier.Name,
			tier.Resolution(),
			strconv.Itoa(tier.VideoBitrateKbps),
			strconv.Itoa(tier.AudioBitrateKbps),
			tier.Profile,
		})
	}
	title := fmt.Sprintf("Plan for %dx%d", plan.SourceWidth, plan.SourceHeight)
	return renderTable(
		title,
		[]string{"Tier", "Resolution", "Video kbps", "Audio kbps", "Profile"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)
}
