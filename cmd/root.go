package cmd

import (
	"fmt"
	"os"

	"github.com/jmehdipour/push-relay/cmd/worker"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X .../cmd.version=..."
var version = "dev"

var (
	cfgPath string
	rootCmd = &cobra.Command{
		Use:          "push-relay",
		Short:        "Multi-tenant push relay: client registry, admission control and APNS/FCM dispatch",
		Version:      version,
		SilenceUsage: true,
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to YAML config file (missing file means defaults + env)")
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, worker.NewWorkerCmd())
}
