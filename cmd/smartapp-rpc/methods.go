package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"smartapp-rpc/rpc"
)

func newMethodsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "methods",
		Short: "List the demo RPC methods with their arguments and errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := rpc.New(demoRouters(), rpc.WithLogger(zap.NewNop()))
			if err != nil {
				return err
			}
			catalog := app.Registry().Catalog()

			var out []byte
			if asJSON {
				out, err = json.MarshalIndent(catalog, "", "  ")
			} else {
				out, err = yaml.Marshal(catalog)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of YAML")
	return cmd
}
