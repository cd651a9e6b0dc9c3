package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build info - injected via ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "xprovision",
	Short:         "Credential provisioning and migration engine",
	Long:          `xprovision creates, migrates and revokes VLESS/Reality and Shadowsocks-2022 clients on 3x-ui panels and keeps the subscription ledger.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./config.yaml or /etc/xprovision/config.yaml)")
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "xprovision %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		},
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
