package main

import (
	"github.com/spf13/cobra"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the admin API key",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the admin API key, generating one if unset",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			key, err := a.ensureAdminKey()
			if err != nil {
				return err
			}

			return printResult(map[string]string{"api_key": key})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <new-key>",
		Short: "Replace the admin API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			result, err := a.dispatch(cmd.Context(), "update_api_key", map[string]string{
				"currentKey": a.keys.AdminKeyPlain(),
				"newKey":     args[0],
			})
			if err != nil {
				return err
			}

			return printResult(result)
		},
	})

	return cmd
}
