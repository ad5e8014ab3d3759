package main

import (
	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Manage and run sync tasks",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sync tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDispatch(cmd, "list_sync_tasks", nil)
		},
	})

	cmd.AddCommand(newSyncCreateCmd())
	cmd.AddCommand(newSyncUpdateCmd())

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a sync task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd, "delete_sync_task", map[string]string{"task_id": args[0]})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "run <task-id>",
		Short: "Run a sync task now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd, "trigger_sync_task", map[string]string{"task_id": args[0]})
		},
	})

	logs := &cobra.Command{
		Use:   "logs <task-id>",
		Short: "Show a task's run log, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			return runDispatch(cmd, "list_sync_logs", map[string]any{
				"task_id": args[0],
				"limit":   limit,
			})
		},
	}
	logs.Flags().Int("limit", 0, "max entries (default 100, cap 500)")
	cmd.AddCommand(logs)

	return cmd
}

func newSyncCreateCmd() *cobra.Command {
	var (
		flagName      string
		flagDirection string
		flagTenant    string
		flagRemote    string
		flagLabel     string
		flagLocal     string
		flagSchedule  string
		flagEnabled   bool
		flagDetection string
		flagConflict  string
		flagPropagate bool
		flagInclude   []string
		flagExclude   []string
		flagNotes     string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a sync task",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDispatch(cmd, "create_sync_task", map[string]any{
				"name":                flagName,
				"direction":           flagDirection,
				"tenant_id":           flagTenant,
				"remote_folder_token": flagRemote,
				"remote_label":        flagLabel,
				"local_path":          flagLocal,
				"schedule":            flagSchedule,
				"enabled":             flagEnabled,
				"detection":           flagDetection,
				"conflict":            flagConflict,
				"propagate_delete":    flagPropagate,
				"include_patterns":    flagInclude,
				"exclude_patterns":    flagExclude,
				"notes":               flagNotes,
			})
		},
	}

	cmd.Flags().StringVar(&flagName, "name", "", "task name")
	cmd.Flags().StringVar(&flagDirection, "direction", "bidirectional", "local_to_cloud, cloud_to_local, or bidirectional")
	cmd.Flags().StringVar(&flagTenant, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&flagRemote, "remote-token", "", "remote folder token")
	cmd.Flags().StringVar(&flagLabel, "remote-label", "", "remote folder label for display")
	cmd.Flags().StringVar(&flagLocal, "local-path", "", "local directory")
	cmd.Flags().StringVar(&flagSchedule, "schedule", "", "cron schedule (five fields)")
	cmd.Flags().BoolVar(&flagEnabled, "enabled", true, "enable scheduled runs")
	cmd.Flags().StringVar(&flagDetection, "detection", "metadata", "change detection: metadata, size, or checksum")
	cmd.Flags().StringVar(&flagConflict, "conflict", "newest", "conflict strategy: prefer_local, prefer_remote, or newest")
	cmd.Flags().BoolVar(&flagPropagate, "propagate-delete", false, "propagate deletions")
	cmd.Flags().StringSliceVar(&flagInclude, "include", nil, "include glob patterns")
	cmd.Flags().StringSliceVar(&flagExclude, "exclude", nil, "exclude glob patterns")
	cmd.Flags().StringVar(&flagNotes, "notes", "", "free-form note")

	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("remote-token")
	_ = cmd.MarkFlagRequired("local-path")

	return cmd
}

func newSyncUpdateCmd() *cobra.Command {
	var (
		flagName      string
		flagDirection string
		flagRemote    string
		flagLocal     string
		flagSchedule  string
		flagEnabled   bool
		flagConflict  string
		flagPropagate bool
		flagNotes     string
	)

	cmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Update a sync task; only changed flags are applied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{"task_id": args[0]}

			if cmd.Flags().Changed("name") {
				payload["name"] = flagName
			}

			if cmd.Flags().Changed("direction") {
				payload["direction"] = flagDirection
			}

			if cmd.Flags().Changed("remote-token") {
				payload["remote_folder_token"] = flagRemote
			}

			if cmd.Flags().Changed("local-path") {
				payload["local_path"] = flagLocal
			}

			if cmd.Flags().Changed("schedule") {
				payload["schedule"] = flagSchedule
			}

			if cmd.Flags().Changed("enabled") {
				payload["enabled"] = flagEnabled
			}

			if cmd.Flags().Changed("conflict") {
				payload["conflict"] = flagConflict
			}

			if cmd.Flags().Changed("propagate-delete") {
				payload["propagate_delete"] = flagPropagate
			}

			if cmd.Flags().Changed("notes") {
				payload["notes"] = flagNotes
			}

			return runDispatch(cmd, "update_sync_task", payload)
		},
	}

	cmd.Flags().StringVar(&flagName, "name", "", "task name")
	cmd.Flags().StringVar(&flagDirection, "direction", "", "sync direction")
	cmd.Flags().StringVar(&flagRemote, "remote-token", "", "remote folder token")
	cmd.Flags().StringVar(&flagLocal, "local-path", "", "local directory")
	cmd.Flags().StringVar(&flagSchedule, "schedule", "", "cron schedule")
	cmd.Flags().BoolVar(&flagEnabled, "enabled", true, "enable scheduled runs")
	cmd.Flags().StringVar(&flagConflict, "conflict", "", "conflict strategy")
	cmd.Flags().BoolVar(&flagPropagate, "propagate-delete", false, "propagate deletions")
	cmd.Flags().StringVar(&flagNotes, "notes", "", "free-form note")

	return cmd
}
