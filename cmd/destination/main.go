package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ikedadada/go-onion/cmd/destination/server"
	"ikedadada/go-onion/shared/cli"
)

func newRootCommand() *cobra.Command {
	var (
		configFile string
		listen     string
		httpListen string
	)
	cmd := &cobra.Command{
		Use:          "destination",
		Short:        "Echo destination: answers each stream with a JSON echo of it",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig(configFile)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Destination.Address = listen
			}
			if httpListen != "" {
				cfg.Destination.HTTPAddress = httpListen
			}
			if err := cfg.FixupAndValidate(); err != nil {
				return err
			}
			backend, err := cli.NewLogBackend(cfg)
			if err != nil {
				return err
			}
			svr, err := server.New(cfg, backend)
			if err != nil {
				return fmt.Errorf("failed to spawn destination: %v", err)
			}
			defer svr.Shutdown()
			cli.Run(svr, backend)
			return nil
		},
	}
	cli.ConfigFlag(cmd, &configFile)
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides Destination.Address)")
	cmd.Flags().StringVar(&httpListen, "http", "", "also serve the echo over HTTP here (overrides Destination.HTTPAddress)")
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
