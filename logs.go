package main

import (
	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Inspect the API call log and its mirror settings",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Query API call records, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			command, _ := cmd.Flags().GetString("command")
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")

			return runDispatch(cmd, "list_api_logs", map[string]any{
				"command": command,
				"status":  status,
				"limit":   limit,
			})
		},
	}
	list.Flags().String("command", "", "filter by command name substring")
	list.Flags().String("status", "", "filter by status: success or error")
	list.Flags().Int("limit", 0, "max entries (default 200, cap 2000)")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Show the log mirror configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDispatch(cmd, "get_log_config", nil)
		},
	})

	set := &cobra.Command{
		Use:   "set-config",
		Short: "Update the log mirror configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			enabled, _ := cmd.Flags().GetBool("enabled")
			directory, _ := cmd.Flags().GetString("directory")
			maxSize, _ := cmd.Flags().GetInt64("max-size-mb")

			return runDispatch(cmd, "update_log_config", map[string]any{
				"enabled":     enabled,
				"directory":   directory,
				"max_size_mb": maxSize,
			})
		},
	}
	set.Flags().Bool("enabled", false, "mirror api log entries to a plain file")
	set.Flags().String("directory", "", "mirror directory")
	set.Flags().Int64("max-size-mb", 0, "mirror file size cap in MiB (5-2048)")
	cmd.AddCommand(set)

	return cmd
}
