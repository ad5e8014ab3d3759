package main

import (
	"github.com/spf13/cobra"
)

func newTransferCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Inspect and control transfer tasks",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List transfer tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDispatch(cmd, "list_transfer_tasks", nil)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "pause <task-id>",
		Short: "Pause a running transfer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd, "pause_active_transfer", map[string]string{"task_id": args[0]})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "resume <task-id>",
		Short: "Resume a paused transfer or re-run a stopped one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd, "resume_transfer_task", map[string]string{"task_id": args[0]})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a transfer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd, "cancel_transfer_task", map[string]string{"task_id": args[0]})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a transfer record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd, "delete_transfer_task", map[string]string{"task_id": args[0]})
		},
	})

	clear := &cobra.Command{
		Use:   "clear [mode]",
		Short: "Clear finished transfer records (mode: all, success, failed)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := ""
			if len(args) == 1 {
				mode = args[0]
			}

			return runDispatch(cmd, "clear_transfer_history", map[string]string{"mode": mode})
		},
	}
	cmd.AddCommand(clear)

	return cmd
}
