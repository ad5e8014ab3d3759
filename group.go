package main

import (
	"github.com/spf13/cobra"
)

func newGroupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage tenant groups and their scoped API keys",
	}

	cmd.AddCommand(newGroupListCmd())
	cmd.AddCommand(newGroupAddCmd())
	cmd.AddCommand(newGroupUpdateCmd())
	cmd.AddCommand(newGroupDeleteCmd())
	cmd.AddCommand(newGroupRegenKeyCmd())

	return cmd
}

func newGroupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List groups with their API keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDispatch(cmd, "list_groups", nil)
		},
	}
}

func newGroupAddCmd() *cobra.Command {
	var (
		flagName    string
		flagRemark  string
		flagTenants []string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a group and generate its API key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDispatch(cmd, "add_group", map[string]any{
				"name":       flagName,
				"remark":     flagRemark,
				"tenant_ids": flagTenants,
			})
		},
	}

	cmd.Flags().StringVar(&flagName, "name", "", "group name")
	cmd.Flags().StringVar(&flagRemark, "remark", "", "free-form note")
	cmd.Flags().StringSliceVar(&flagTenants, "tenants", nil, "member tenant ids")

	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newGroupUpdateCmd() *cobra.Command {
	var (
		flagName    string
		flagRemark  string
		flagTenants []string
	)

	cmd := &cobra.Command{
		Use:   "update <group-id>",
		Short: "Update group settings; only changed flags are applied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{"group_id": args[0]}

			if cmd.Flags().Changed("name") {
				payload["name"] = flagName
			}

			if cmd.Flags().Changed("remark") {
				payload["remark"] = flagRemark
			}

			if cmd.Flags().Changed("tenants") {
				payload["tenant_ids"] = flagTenants
			}

			return runDispatch(cmd, "update_group", payload)
		},
	}

	cmd.Flags().StringVar(&flagName, "name", "", "group name")
	cmd.Flags().StringVar(&flagRemark, "remark", "", "free-form note")
	cmd.Flags().StringSliceVar(&flagTenants, "tenants", nil, "member tenant ids")

	return cmd
}

func newGroupDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <group-id>",
		Short: "Delete a group and revoke its API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd, "delete_group", map[string]string{"group_id": args[0]})
		},
	}
}

func newGroupRegenKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regen-key <group-id>",
		Short: "Replace a group's API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd, "regenerate_group_key", map[string]string{"group_id": args[0]})
		},
	}
}
