package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"vodpipe/internal/catalog"
	"vodpipe/internal/logging"
	"vodpipe/internal/staging"
)

func newStagingCommand(ctx *commandContext) *cobra.Command {
	stagingCmd := &cobra.Command{
		Use:   "staging",
		Short: "Inspect and clean upload workspaces",
	}
	stagingCmd.AddCommand(newStagingListCommand(ctx))
	stagingCmd.AddCommand(newStagingCleanCommand(ctx))
	return stagingCmd
}

func newStagingListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List upload workspaces in the staging directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			dirs, err := staging.ListDirectories(cfg.Paths.StagingDir)
			if err != nil {
				return fmt.Errorf("list staging directories: %w", err)
			}
			var total int64
			for _, dir := range dirs {
				total += dir.Size
			}
			if asJSON {
				if dirs == nil {
					dirs = []staging.DirInfo{}
				}
				return writeJSON(cmd, map[string]any{
					"staging_dir":      cfg.Paths.StagingDir,
					"workspaces":       dirs,
					"total_size_bytes": total,
				})
			}

			out := cmd.OutOrStdout()
			if len(dirs) == 0 {
				fmt.Fprintln(out, "No upload workspaces found")
				return nil
			}
			rows := make([][]string, 0, len(dirs))
			for _, dir := range dirs {
				rows = append(rows, []string{dir.Name, formatAge(time.Since(dir.ModTime)), formatBytes(dir.Size)})
			}
			fmt.Fprintln(out, renderTable(cfg.Paths.StagingDir, []string{"Upload", "Age", "Size"}, rows,
				[]columnAlignment{alignLeft, alignRight, alignRight}))
			fmt.Fprintf(out, "Total: %d workspaces, %s\n", len(dirs), formatBytes(total))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func newStagingCleanCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove workspaces that belong to no unfinished upload",
		Long: `Remove workspaces that belong to no unfinished upload.

The catalog decides which uploads are still uploading or processing; every
other workspace is removed. The daemon does the same on startup.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := catalog.Open(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("open catalog: %w", err)
			}
			defer store.Close()

			unfinished, err := store.ListByStatus(cmd.Context(), catalog.StatusUploading, catalog.StatusProcessing)
			if err != nil {
				return fmt.Errorf("list unfinished uploads: %w", err)
			}
			active := make(map[string]struct{}, len(unfinished))
			for _, entry := range unfinished {
				active[strings.ToLower(entry.UploadID)] = struct{}{}
			}

			result := staging.CleanOrphaned(cmd.Context(), cfg.Paths.StagingDir, active, logging.NewNop())
			out := cmd.OutOrStdout()
			for _, e := range result.Errors {
				fmt.Fprintf(out, "  Error: %s: %v\n", e.Path, e.Error)
			}
			fmt.Fprintf(out, "Removed %d orphaned workspaces, kept %d unfinished\n", len(result.Removed), len(active))
			if len(result.Errors) > 0 {
				return fmt.Errorf("%d workspaces could not be removed", len(result.Errors))
			}
			return nil
		},
	}
	return cmd
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
