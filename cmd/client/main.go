package main

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"ikedadada/go-onion/cmd/client/app"
	"ikedadada/go-onion/cmd/client/usecase"
	"ikedadada/go-onion/shared/cli"
	"ikedadada/go-onion/shared/config"
	vo "ikedadada/go-onion/shared/domain/value_object"
	infraHTTP "ikedadada/go-onion/shared/infrastructure/http"
	"ikedadada/go-onion/shared/service"
)

type globalFlags struct {
	configFile string
	directory  string
	style      string
	terminus   string
	hops       int
}

func (g *globalFlags) load() (*config.Config, error) {
	cfg, err := cli.LoadConfig(g.configFile)
	if err != nil {
		return nil, err
	}
	if g.directory != "" {
		cfg.Directory.URL = g.directory
	}
	if g.style != "" {
		cfg.Client.Style = g.style
	}
	if g.terminus != "" {
		cfg.Client.TerminusAddress = g.terminus
	}
	if g.hops != 0 {
		cfg.Client.PathLength = g.hops
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withClient runs fn against a client that is shut down afterwards.
func (g *globalFlags) withClient(fn func(ctx context.Context, c *app.Client) error) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	backend, err := cli.NewLogBackend(cfg)
	if err != nil {
		return err
	}
	c, err := app.New(cfg, backend)
	if err != nil {
		return fmt.Errorf("failed to start client: %v", err)
	}
	defer func() {
		c.Shutdown()
		c.Wait()
	}()
	return fn(context.Background(), c)
}

func newRootCommand() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:          "client",
		Short:        "Onion client: sends requests through a random relay circuit",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&g.configFile, "config", "c", "", "path to the configuration file (TOML); defaults apply when omitted")
	cmd.PersistentFlags().StringVarP(&g.directory, "directory", "d", "", "directory base URL (overrides Directory.URL)")
	cmd.PersistentFlags().StringVar(&g.style, "style", "", "response routing: sync or async (overrides Client.Style)")
	cmd.PersistentFlags().StringVar(&g.terminus, "terminus", "", "async terminus listen address (overrides Client.TerminusAddress)")
	cmd.PersistentFlags().IntVar(&g.hops, "hops", 0, "relays per circuit (overrides Client.PathLength)")

	cmd.AddCommand(newFetchCommand(g), newEchoCommand(g), newRelaysCommand(g))
	return cmd
}

func newFetchCommand(g *globalFlags) *cobra.Command {
	var (
		method string
		data   string
		save   string
	)
	cmd := &cobra.Command{
		Use:     "fetch URL",
		Short:   "Fetch a URL at the exit relay",
		Example: `  client fetch http://example.com/ --save out`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withClient(func(ctx context.Context, c *app.Client) error {
				out, err := c.Fetch(ctx, args[0], method, []byte(data))
				if err != nil {
					return err
				}
				return printResponse(cmd.OutOrStdout(), out, save)
			})
		},
	}
	cmd.Flags().StringVarP(&method, "method", "X", "GET", "HTTP method; anything but GET and POST is sent as GET")
	cmd.Flags().StringVar(&data, "data", "", "request body")
	cmd.Flags().StringVar(&save, "save", "", "write the body to DIR/response.{html,txt,bin} instead of stdout")
	return cmd
}

func newEchoCommand(g *globalFlags) *cobra.Command {
	var dest string
	cmd := &cobra.Command{
		Use:     "echo MESSAGE",
		Short:   "Send MESSAGE as a raw stream to a destination",
		Example: `  client echo '{"hello":"world"}' --dest 127.0.0.1:9100`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withClient(func(ctx context.Context, c *app.Client) error {
				addr := dest
				if addr == "" {
					addr = c.DestinationAddress()
				}
				ep, err := vo.ParseEndpoint(addr)
				if err != nil {
					return err
				}
				out, err := c.Echo(ctx, ep, []byte(args[0]))
				if err != nil {
					return err
				}
				return printResponse(cmd.OutOrStdout(), out, "")
			})
		},
	}
	cmd.Flags().StringVar(&dest, "dest", "", "destination address (overrides Destination.Address)")
	return cmd
}

func newRelaysCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "relays",
		Short: "List the relays the directory currently knows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			dir := service.NewDirectoryClientService(cfg.Directory.URL, infraHTTP.NewHTTPClient(cfg.Timeouts.DirectoryCall))
			relays, err := dir.ListRelays(context.Background())
			if err != nil {
				return err
			}
			for _, r := range relays {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", r.Address(), r.Fingerprint())
			}
			return nil
		},
	}
}

func printResponse(w io.Writer, out usecase.SendRequestOutput, saveDir string) error {
	keys := make([]string, 0, len(out.Headers))
	for k := range out.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s: %s\n", k, out.Headers[k])
	}
	if len(keys) > 0 {
		fmt.Fprintln(w)
	}

	if saveDir == "" {
		_, err := w.Write(out.Body)
		return err
	}
	name := filepath.Join(saveDir, "response"+extensionFor(out.Headers["Content-Type"]))
	if err := os.MkdirAll(saveDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(name, out.Body, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(w, "saved %d bytes to %s\n", len(out.Body), name)
	return nil
}

// extensionFor picks the file extension for a saved body.
func extensionFor(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".bin"
	}
	switch {
	case mt == "text/html":
		return ".html"
	case strings.HasPrefix(mt, "text/"), mt == "application/json":
		return ".txt"
	default:
		return ".bin"
	}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
