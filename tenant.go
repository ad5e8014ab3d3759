package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/feisync/feisync/internal/tenant"
)

func newTenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenant app credentials",
	}

	cmd.AddCommand(newTenantListCmd())
	cmd.AddCommand(newTenantAddCmd())
	cmd.AddCommand(newTenantDetailCmd())
	cmd.AddCommand(newTenantRefreshCmd())
	cmd.AddCommand(newTenantUpdateCmd())
	cmd.AddCommand(newTenantRemoveCmd())

	return cmd
}

func newTenantListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured tenants",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			result, err := a.dispatch(cmd.Context(), "list_tenants", nil)
			if err != nil {
				return err
			}

			if flagJSON {
				return printResult(result)
			}

			tenants, ok := result.([]tenant.Public)
			if !ok {
				return printResult(result)
			}

			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ORDER\tID\tNAME\tPLATFORM\tACTIVE\tPERMISSION")

			for _, t := range tenants {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\t%s\n",
					t.Order, t.ID, t.Name, t.Platform, t.Active, t.Permission)
			}

			return w.Flush()
		},
	}
}

func newTenantAddCmd() *cobra.Command {
	var (
		flagName       string
		flagAppID      string
		flagAppSecret  string
		flagQuota      float64
		flagPlatform   string
		flagPermission string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a tenant and verify its credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDispatch(cmd, "add_tenant", map[string]any{
				"name":       flagName,
				"app_id":     flagAppID,
				"app_secret": flagAppSecret,
				"quota_gb":   flagQuota,
				"platform":   flagPlatform,
				"permission": flagPermission,
			})
		},
	}

	cmd.Flags().StringVar(&flagName, "name", "", "display name")
	cmd.Flags().StringVar(&flagAppID, "app-id", "", "application id")
	cmd.Flags().StringVar(&flagAppSecret, "app-secret", "", "application secret")
	cmd.Flags().Float64Var(&flagQuota, "quota-gb", 0, "storage quota in GB")
	cmd.Flags().StringVar(&flagPlatform, "platform", string(tenant.PlatformLark), "lark or feishu")
	cmd.Flags().StringVar(&flagPermission, "permission", string(tenant.PermissionReadWrite), "read_write or read_only")

	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("app-id")
	_ = cmd.MarkFlagRequired("app-secret")

	return cmd
}

func newTenantDetailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detail <tenant-id>",
		Short: "Show one tenant including its app secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd, "get_tenant_detail", map[string]string{"tenant_id": args[0]})
		},
	}
}

func newTenantRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <tenant-id>",
		Short: "Force a token refresh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd, "refresh_tenant_token", map[string]string{"tenant_id": args[0]})
		},
	}
}

func newTenantUpdateCmd() *cobra.Command {
	var (
		flagName       string
		flagAppID      string
		flagAppSecret  string
		flagQuota      float64
		flagActive     bool
		flagPlatform   string
		flagPermission string
	)

	cmd := &cobra.Command{
		Use:   "update <tenant-id>",
		Short: "Update tenant settings; only changed flags are applied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{"tenant_id": args[0]}

			if cmd.Flags().Changed("name") {
				payload["name"] = flagName
			}

			if cmd.Flags().Changed("app-id") {
				payload["app_id"] = flagAppID
			}

			if cmd.Flags().Changed("app-secret") {
				payload["app_secret"] = flagAppSecret
			}

			if cmd.Flags().Changed("quota-gb") {
				payload["quota_gb"] = flagQuota
			}

			if cmd.Flags().Changed("active") {
				payload["active"] = flagActive
			}

			if cmd.Flags().Changed("platform") {
				payload["platform"] = flagPlatform
			}

			if cmd.Flags().Changed("permission") {
				payload["permission"] = flagPermission
			}

			return runDispatch(cmd, "update_tenant_meta", payload)
		},
	}

	cmd.Flags().StringVar(&flagName, "name", "", "display name")
	cmd.Flags().StringVar(&flagAppID, "app-id", "", "application id")
	cmd.Flags().StringVar(&flagAppSecret, "app-secret", "", "application secret")
	cmd.Flags().Float64Var(&flagQuota, "quota-gb", 0, "storage quota in GB")
	cmd.Flags().BoolVar(&flagActive, "active", true, "enable or disable the tenant")
	cmd.Flags().StringVar(&flagPlatform, "platform", "", "lark or feishu")
	cmd.Flags().StringVar(&flagPermission, "permission", "", "read_write or read_only")

	return cmd
}

func newTenantRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <tenant-id>",
		Short: "Delete a tenant and its indexed resources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd, "remove_tenant", map[string]string{"tenant_id": args[0]})
		},
	}
}
