package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ikedadada/go-onion/cmd/directory/server"
	"ikedadada/go-onion/shared/cli"
)

func newRootCommand() *cobra.Command {
	var (
		configFile string
		listen     string
	)
	cmd := &cobra.Command{
		Use:   "directory",
		Short: "Relay directory: registration, selection and liveness",
		Example: `  directory
  directory --listen 127.0.0.1:9000
  directory -c onion.toml`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig(configFile)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Directory.Address = listen
				if err := cfg.FixupAndValidate(); err != nil {
					return err
				}
			}
			backend, err := cli.NewLogBackend(cfg)
			if err != nil {
				return err
			}
			svr, err := server.New(cfg, backend)
			if err != nil {
				return fmt.Errorf("failed to spawn directory: %v", err)
			}
			defer svr.Shutdown()
			cli.Run(svr, backend)
			return nil
		},
	}
	cli.ConfigFlag(cmd, &configFile)
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides Directory.Address)")
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
