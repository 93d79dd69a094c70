package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSessionCommand(ctx *commandContext) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Manage the saved session",
	}
	sessionCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete the saved session and its results",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := ctx.openWorkspace(true)
			if err != nil {
				return err
			}
			defer ws.Close()

			if err := ws.manager.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Session cleared")
			return nil
		},
	})
	return sessionCmd
}
