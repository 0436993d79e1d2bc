package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"smartapp-rpc/client"
	"smartapp-rpc/codec"
	"smartapp-rpc/discovery"
	"smartapp-rpc/loadbalance"
)

type callFlags struct {
	addr    string
	codec   string
	timeout time.Duration
	chatID  string
}

func newCallCmd(flags *rootFlags) *cobra.Command {
	var cf callFlags
	cmd := &cobra.Command{
		Use:   "call <method> [params-json]",
		Short: "Call an RPC method and print the response envelope",
		Example: `  smartapp-rpc call sum '{"first": 1, "second": 2}' --addr 127.0.0.1:8800
  smartapp-rpc call ping --config config.yaml`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := flags.load()
			if err != nil {
				return err
			}

			var params map[string]any
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
					return fmt.Errorf("params must be a JSON object: %w", err)
				}
			}

			codecName := cfg.Codec
			if cf.codec != "" {
				codecName = cf.codec
			}
			ct, err := codec.ParseCodecType(codecName)
			if err != nil {
				return err
			}
			chatID := uuid.New()
			if cf.chatID != "" {
				if chatID, err = uuid.Parse(cf.chatID); err != nil {
					return fmt.Errorf("chat id: %w", err)
				}
			}

			var reg discovery.Registry
			switch {
			case cf.addr != "":
				reg = discovery.Static(cfg.AppName, discovery.ServiceInstance{Addr: cf.addr})
			case len(cfg.Etcd.Endpoints) > 0:
				if reg, err = discovery.NewEtcdRegistry(cfg.Etcd.Endpoints, discovery.WithLogger(zap.NewNop())); err != nil {
					return err
				}
			default:
				return fmt.Errorf("no server: pass --addr or configure etcd endpoints")
			}
			defer func() { err = multierr.Append(err, reg.Close()) }()

			bal, err := loadbalance.New(cfg.Balancer)
			if err != nil {
				return err
			}
			c := client.NewClient(reg, bal,
				client.WithServiceName(cfg.AppName),
				client.WithCodec(ct),
				client.WithIdentity(uuid.New(), chatID),
				client.WithLogger(zap.NewNop()),
			)
			defer func() { err = multierr.Append(err, c.Close()) }()

			ctx, cancel := context.WithTimeout(cmd.Context(), cf.timeout)
			defer cancel()
			env, err := c.Call(ctx, args[0], params)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(env, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&cf.addr, "addr", "", "server address, bypasses discovery")
	cmd.Flags().StringVar(&cf.codec, "codec", "", "frame codec (json, cbor), defaults to the configured one")
	cmd.Flags().DurationVar(&cf.timeout, "timeout", 10*time.Second, "call timeout")
	cmd.Flags().StringVar(&cf.chatID, "chat-id", "", "chat id to call as, random by default")
	return cmd
}
