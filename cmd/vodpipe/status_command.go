package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"vodpipe/internal/api"
	"vodpipe/internal/daemonctl"
	"vodpipe/internal/daemonrun"
	"vodpipe/internal/progress"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var withEvents bool

	cmd := &cobra.Command{
		Use:   "status [UPLOAD_ID]",
		Short: "Show daemon health, or the progress of one upload",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				return showUpload(cmd, client, strings.TrimSpace(args[0]), withEvents, asJSON)
			}
			return showDaemon(cmd, ctx, client, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	cmd.Flags().BoolVar(&withEvents, "events", false, "Include the audit trail of the upload")
	return cmd
}

func showUpload(cmd *cobra.Command, client *daemonctl.Client, id string, withEvents, asJSON bool) error {
	rec, err := client.Progress(cmd.Context(), id)
	if err != nil {
		return wrapClientError(err)
	}
	var trail api.AuditResponse
	if withEvents {
		trail, err = client.Audit(cmd.Context(), id)
		var apiErr *daemonctl.APIError
		if err != nil && !(errors.As(err, &apiErr) && apiErr.Status == 404) {
			return wrapClientError(err)
		}
	}
	if asJSON {
		if withEvents {
			return writeJSON(cmd, map[string]any{"progress": rec, "events": trail.Events})
		}
		return writeJSON(cmd, rec)
	}

	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	fmt.Fprintln(out, renderSectionHeader("Upload "+rec.UploadID, colorize))
	fmt.Fprintln(out, renderStatusLine("Status", recordKind(rec.Status), string(rec.Status), colorize))
	fmt.Fprintln(out, renderStatusLine("Stage", statusInfo, fmt.Sprintf("%s (%.0f%%)", rec.Stage, rec.Percent), colorize))
	if rec.Slug != "" {
		fmt.Fprintln(out, renderStatusLine("Slug", statusInfo, rec.Slug, colorize))
	}
	if rec.Message != "" {
		fmt.Fprintln(out, renderStatusLine("Message", statusInfo, rec.Message, colorize))
	}
	if rec.EstimatedCompletion != nil {
		remaining := time.Until(*rec.EstimatedCompletion).Round(time.Second)
		if remaining < 0 {
			remaining = 0
		}
		fmt.Fprintln(out, renderStatusLine("ETA", statusInfo, "in "+remaining.String(), colorize))
	}
	if rec.Error != "" {
		msg := rec.Error
		if rec.ErrorKind != "" {
			msg = rec.ErrorKind + ": " + msg
		}
		fmt.Fprintln(out, renderStatusLine("Error", statusError, msg, colorize))
	}
	if rec.Hint != "" {
		fmt.Fprintln(out, renderStatusLine("Hint", statusWarn, rec.Hint, colorize))
	}
	if rec.Playback != nil {
		fmt.Fprintln(out, renderStatusLine("Master playlist", statusOK, rec.Playback.Master, colorize))
		fmt.Fprintln(out, renderStatusLine("Tiers", statusOK, strings.Join(rec.Playback.Tiers, ", "), colorize))
	}
	if withEvents && len(trail.Events) > 0 {
		rows := make([][]string, 0, len(trail.Events))
		for _, ev := range trail.Events {
			rows = append(rows, []string{ev.Timestamp.Local().Format("15:04:05.000"), string(ev.Type), ev.Stage, ev.Detail})
		}
		fmt.Fprintln(out, renderTable("Events", []string{"Time", "Event", "Stage", "Detail"}, rows, nil))
	}
	return nil
}

func showDaemon(cmd *cobra.Command, ctx *commandContext, client *daemonctl.Client, asJSON bool) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	alive, pid, pidErr := daemonctl.ProcessInfo(daemonrun.PIDPath(cfg))

	health, err := client.Health(cmd.Context())
	unavailable := errors.Is(err, daemonctl.ErrUnavailable)
	if err != nil && !unavailable {
		return wrapClientError(err)
	}
	if asJSON {
		return writeJSON(cmd, map[string]any{
			"reachable": !unavailable,
			"pid":       pid,
			"alive":     alive,
			"health":    health,
		})
	}

	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	fmt.Fprintln(out, renderSectionHeader("Daemon", colorize))
	switch {
	case pidErr != nil:
		fmt.Fprintln(out, renderStatusLine("Process", statusWarn, pidErr.Error(), colorize))
	case alive:
		fmt.Fprintln(out, renderStatusLine("Process", statusOK, fmt.Sprintf("pid %d", pid), colorize))
	default:
		fmt.Fprintln(out, renderStatusLine("Process", statusInfo, "no pid file", colorize))
	}
	if unavailable {
		fmt.Fprintln(out, renderStatusLine("API", statusError, "not reachable; start it with `vodpipe serve`", colorize))
		return nil
	}
	fmt.Fprintln(out, renderStatusLine("API", boolKind(health.Ready), "ready: "+yesNo(health.Ready), colorize))
	writeWorkflow(out, health, colorize)
	return nil
}

func writeWorkflow(out io.Writer, health api.HealthResponse, colorize bool) {
	wf := health.Workflow
	fmt.Fprintln(out, renderStatusLine("Workers", statusInfo, fmt.Sprintf("%d (%d active)", wf.Workers, len(wf.Active)), colorize))
	fmt.Fprintln(out, renderStatusLine("Queue", statusInfo, fmt.Sprintf("%d/%d", wf.Queued, wf.QueueCap), colorize))
	if wf.LastError != "" {
		fmt.Fprintln(out, renderStatusLine("Last error", statusWarn, wf.LastError, colorize))
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderSectionHeader("Checks", colorize))
	for _, check := range health.Checks {
		fmt.Fprintln(out, renderStatusLine(check.Name, boolKind(check.Ready), check.Detail, colorize))
	}
}

func recordKind(status progress.Status) statusKind {
	switch status {
	case progress.StatusComplete:
		return statusOK
	case progress.StatusFailed:
		return statusError
	case progress.StatusCancelled:
		return statusWarn
	default:
		return statusInfo
	}
}

func boolKind(ok bool) statusKind {
	if ok {
		return statusOK
	}
	return statusError
}
