package main

import (
	"github.com/spf13/cobra"
)

func newFilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Browse and manipulate cloud-drive files",
	}

	cmd.AddCommand(newFilesLsCmd())
	cmd.AddCommand(newFilesSearchCmd())
	cmd.AddCommand(newFilesMkdirCmd())
	cmd.AddCommand(newFilesUploadCmd())
	cmd.AddCommand(newFilesUploadDirCmd())
	cmd.AddCommand(newFilesDownloadCmd())
	cmd.AddCommand(newFilesDownloadDirCmd())
	cmd.AddCommand(newFilesRmCmd())
	cmd.AddCommand(newFilesMvCmd())
	cmd.AddCommand(newFilesCpCmd())
	cmd.AddCommand(newFilesRenameCmd())

	return cmd
}

func newFilesLsCmd() *cobra.Command {
	var (
		flagTenant    string
		flagAggregate bool
	)

	cmd := &cobra.Command{
		Use:   "ls [folder-token]",
		Short: "List the root folder, a named folder, or all tenant roots",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runDispatch(cmd, "list_folder_entries", map[string]string{
					"tenant_id":    flagTenant,
					"folder_token": args[0],
				})
			}

			return runDispatch(cmd, "list_root_entries", map[string]any{
				"tenant_id": flagTenant,
				"aggregate": flagAggregate,
			})
		},
	}

	cmd.Flags().StringVar(&flagTenant, "tenant", "", "tenant id (default: best active)")
	cmd.Flags().BoolVar(&flagAggregate, "aggregate", false, "list every visible tenant's root")

	return cmd
}

func newFilesSearchCmd() *cobra.Command {
	var flagTenant string

	cmd := &cobra.Command{
		Use:   "search <keyword>",
		Short: "Search files by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd, "search_entries", map[string]string{
				"tenant_id": flagTenant,
				"keyword":   args[0],
			})
		},
	}

	cmd.Flags().StringVar(&flagTenant, "tenant", "", "tenant id (default: best active)")

	return cmd
}

func newFilesMkdirCmd() *cobra.Command {
	var flagTenant string

	cmd := &cobra.Command{
		Use:   "mkdir <parent-token> <name>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd, "create_folder", map[string]string{
				"tenant_id":    flagTenant,
				"parent_token": args[0],
				"name":         args[1],
			})
		},
	}

	cmd.Flags().StringVar(&flagTenant, "tenant", "", "tenant id")

	return cmd
}

func newFilesUploadCmd() *cobra.Command {
	var (
		flagTenant string
		flagName   string
	)

	cmd := &cobra.Command{
		Use:   "upload <parent-token> <local-path>",
		Short: "Upload a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd, "upload_file", map[string]string{
				"tenant_id":    flagTenant,
				"parent_token": args[0],
				"local_path":   args[1],
				"file_name":    flagName,
			})
		},
	}

	cmd.Flags().StringVar(&flagTenant, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&flagName, "name", "", "remote file name (default: local basename)")

	return cmd
}

func newFilesUploadDirCmd() *cobra.Command {
	var flagTenant string

	cmd := &cobra.Command{
		Use:   "upload-dir <parent-token> <local-dir>",
		Short: "Upload a directory tree",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd, "upload_folder", map[string]string{
				"tenant_id":    flagTenant,
				"parent_token": args[0],
				"local_path":   args[1],
			})
		},
	}

	cmd.Flags().StringVar(&flagTenant, "tenant", "", "tenant id")

	return cmd
}

func newFilesDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download <file-token> <dest-dir> <file-name>",
		Short: "Download a file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd, "download_file", map[string]string{
				"token":     args[0],
				"dest_dir":  args[1],
				"file_name": args[2],
			})
		},
	}

	return cmd
}

func newFilesDownloadDirCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download-dir <folder-token> <dest-dir> <folder-name>",
		Short: "Download a folder tree",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd, "download_folder", map[string]string{
				"token":       args[0],
				"dest_dir":    args[1],
				"folder_name": args[2],
			})
		},
	}

	return cmd
}

func newFilesRmCmd() *cobra.Command {
	var flagType string

	cmd := &cobra.Command{
		Use:   "rm <token>",
		Short: "Delete a file or folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd, "delete_file", map[string]string{
				"token": args[0],
				"type":  flagType,
			})
		},
	}

	cmd.Flags().StringVar(&flagType, "type", "file", "entry type: file or folder")

	return cmd
}

func newFilesMvCmd() *cobra.Command {
	var flagType string

	cmd := &cobra.Command{
		Use:   "mv <token> <target-folder-token>",
		Short: "Move a file or folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd, "move_file", map[string]string{
				"token":               args[0],
				"type":                flagType,
				"target_folder_token": args[1],
			})
		},
	}

	cmd.Flags().StringVar(&flagType, "type", "file", "entry type: file or folder")

	return cmd
}

func newFilesCpCmd() *cobra.Command {
	var flagType string

	cmd := &cobra.Command{
		Use:   "cp <token> <target-folder-token> <new-name>",
		Short: "Copy a file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd, "copy_file", map[string]string{
				"token":               args[0],
				"type":                flagType,
				"target_folder_token": args[1],
				"name":                args[2],
			})
		},
	}

	cmd.Flags().StringVar(&flagType, "type", "file", "entry type")

	return cmd
}

func newFilesRenameCmd() *cobra.Command {
	var flagType string

	cmd := &cobra.Command{
		Use:   "rename <token> <new-name>",
		Short: "Rename a file or folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd, "rename_file", map[string]string{
				"token":    args[0],
				"type":     flagType,
				"new_name": args[1],
			})
		},
	}

	cmd.Flags().StringVar(&flagType, "type", "file", "entry type: file or folder")

	return cmd
}
