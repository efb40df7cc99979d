package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel UPLOAD_ID",
		Short: "Request cancellation of an in-flight upload",
		Long: `Request cancellation of an in-flight upload.

The job stops at its next stage boundary; the command returns once the
request is recorded. Poll "vodpipe status UPLOAD_ID" to see it settle.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.Cancel(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return wrapClientError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", resp.UploadID, resp.Message)
			return nil
		},
	}
}
