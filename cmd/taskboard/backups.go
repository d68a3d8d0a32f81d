package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskboard/internal/backup"
	"taskboard/internal/config"
)

func backupsCmd(v *viper.Viper, configPath *string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "backups",
		Short: "Show backup statistics for the configured backup directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, *configPath)
			if err != nil {
				return err
			}
			info, err := backup.NewManager(nil, cfg.BackupDir, cfg.BackupInterval, nil).Info()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			fmt.Fprintf(out, "directory: %s\n", cfg.BackupDir)
			fmt.Fprintf(out, "backups:   %d\n", info.TotalBackups)
			if info.TotalBackups > 0 {
				fmt.Fprintf(out, "oldest:    %s\n", info.OldestBackup)
				fmt.Fprintf(out, "newest:    %s\n", info.NewestBackup)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}
