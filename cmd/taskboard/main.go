package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"taskboard/internal/config"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	v := config.New()
	var configPath string

	root := &cobra.Command{
		Use:           "taskboard",
		Short:         "Realtime collaborative task board",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, v, configPath)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	flags.String("addr", ":5765", "HTTP listen address")
	flags.String("static-dir", "", "directory with the built frontend")
	flags.String("store", config.StoreJSON, "persistence backend (json or sqlite)")
	flags.String("data-file", "", "JSON document path")
	flags.String("db-path", "", "SQLite database path")
	flags.String("backup-dir", "", "directory for periodic backups")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text or json)")
	bindFlags(v, flags)

	root.AddCommand(serveCmd(v, &configPath))
	root.AddCommand(backupsCmd(v, &configPath))
	return root
}

// bindFlags maps dashed flag names onto the underscored config keys. Flags
// only override the file and environment when set on the command line.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		_ = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
}

func serveCmd(v *viper.Viper, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the board server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, v, *configPath)
		},
	}
}
