package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, release, err := ctx.openDaemon(false)
			if err != nil {
				return err
			}
			defer release()

			sent, message, err := d.TestNotification(cmd.Context())
			if message != "" {
				fmt.Fprintln(cmd.OutOrStdout(), message)
			}
			if err != nil {
				return err
			}
			if !sent && message == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "Notification not sent")
			}
			return nil
		},
	}
}
