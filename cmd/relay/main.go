package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ikedadada/go-onion/cmd/relay/server"
	"ikedadada/go-onion/shared/cli"
)

func newRootCommand() *cobra.Command {
	var (
		configFile string
		listen     string
		directory  string
		keyFile    string
		keyStore   string
		identity   string
	)
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Onion relay: peels one layer and forwards or exits",
		Example: `  relay --listen 127.0.0.1:6001 --directory http://127.0.0.1:9000
  relay --listen 127.0.0.1:6002 --keystore relays.db --identity relay2
  relay -c onion.toml`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig(configFile)
			if err != nil {
				return err
			}
			if listen != "" {
				// the identity defaults to the address
				if cfg.Relay.Identity == cfg.Relay.Address {
					cfg.Relay.Identity = listen
				}
				cfg.Relay.Address = listen
			}
			if directory != "" {
				cfg.Directory.URL = directory
			}
			if keyFile != "" {
				cfg.Relay.KeyFile = keyFile
			}
			if keyStore != "" {
				cfg.Relay.KeyStore = keyStore
			}
			if identity != "" {
				cfg.Relay.Identity = identity
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
				return fmt.Errorf("failed to spawn relay: %v", err)
			}
			defer svr.Shutdown()
			cli.Run(svr, backend)
			return nil
		},
	}
	cli.ConfigFlag(cmd, &configFile)
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen and advertised address (overrides Relay.Address)")
	cmd.Flags().StringVarP(&directory, "directory", "d", "", "directory base URL (overrides Directory.URL)")
	cmd.Flags().StringVar(&keyFile, "key", "", "PEM private key file (overrides Relay.KeyFile)")
	cmd.Flags().StringVar(&keyStore, "keystore", "", "bbolt key store (overrides Relay.KeyStore)")
	cmd.Flags().StringVar(&identity, "identity", "", "key store identity (overrides Relay.Identity)")
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
