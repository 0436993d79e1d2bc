package main

import (
	"github.com/spf13/cobra"

	"smartapp-rpc/config"
)

type rootFlags struct {
	cfgFile string
	envFile string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	cmd := &cobra.Command{
		Use:   "smartapp-rpc",
		Short: "SmartApp RPC server and client",
		Long: `smartapp-rpc serves RPC methods to SmartApps over a framed TCP transport
and calls them from the command line.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&flags.cfgFile, "config", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file with SMARTAPP_RPC_* overrides")

	cmd.AddCommand(
		newServeCmd(&flags),
		newCallCmd(&flags),
		newMethodsCmd(),
	)
	return cmd
}

func (f *rootFlags) load() (*config.Config, error) {
	cfg, err := config.LoadWithEnvFile(f.cfgFile, f.envFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
