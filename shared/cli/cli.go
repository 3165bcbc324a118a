// Package cli holds the start-up plumbing shared by the long-running binaries.
package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ikedadada/go-onion/shared/config"
	"ikedadada/go-onion/shared/infrastructure/log"
)

// Daemon is a running service with the usual lifecycle.
type Daemon interface {
	Shutdown()
	Wait()
}

// ConfigFlag registers --config/-c on cmd.
func ConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", "", "path to the configuration file (TOML); defaults apply when omitted")
}

// LoadConfig loads path, or the defaults when path is empty.
func LoadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file '%v': %v", path, err)
	}
	return cfg, nil
}

// NewLogBackend builds the logging backend described by cfg.
func NewLogBackend(cfg *config.Config) (*log.Backend, error) {
	return log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
}

// Run blocks until d halts. SIGINT and SIGTERM shut it down; SIGHUP
// rotates the log.
func Run(d Daemon, backend *log.Backend) {
	haltCh := make(chan os.Signal, 1)
	signal.Notify(haltCh, os.Interrupt, syscall.SIGTERM)
	rotateCh := make(chan os.Signal, 1)
	signal.Notify(rotateCh, syscall.SIGHUP)
	defer signal.Stop(haltCh)
	defer signal.Stop(rotateCh)

	go func() {
		<-haltCh
		d.Shutdown()
	}()
	go func() {
		for range rotateCh {
			if err := backend.Rotate(); err != nil {
				fmt.Fprintf(os.Stderr, "log rotation failed, shutting down: %v\n", err)
				d.Shutdown()
				return
			}
		}
	}()

	d.Wait()
}
