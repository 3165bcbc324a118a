package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"ikedadada/go-onion/shared/config"
	vo "ikedadada/go-onion/shared/domain/value_object"
	keystore "ikedadada/go-onion/shared/infrastructure/repository"
	"ikedadada/go-onion/shared/service"
)

type keygenOptions struct {
	out      string
	bits     int
	keyStore string
	identity string
}

func run(w io.Writer, opt keygenOptions) error {
	key, err := service.NewCryptoService().GenerateRSAKeypair(opt.bits)
	if err != nil {
		return err
	}
	pub := key.PublicKey()

	if opt.out != "" {
		if err := os.WriteFile(opt.out, key.ToPEM(), 0o600); err != nil {
			return err
		}
		pubOut := opt.out + ".pub"
		if err := os.WriteFile(pubOut, pub.ToPEM(), 0o644); err != nil {
			return err
		}
		fmt.Fprintln(w, "generated", opt.out, "and", pubOut)
	}
	if opt.keyStore != "" {
		if err := store(opt.keyStore, opt.identity, key); err != nil {
			return err
		}
		fmt.Fprintf(w, "stored in %s as %q\n", opt.keyStore, opt.identity)
	}
	fmt.Fprintln(w, "fingerprint", pub.Fingerprint())
	return nil
}

func store(path, identity string, key *vo.RSAPrivKey) error {
	repo, err := keystore.NewKeyRepository(path)
	if err != nil {
		return err
	}
	defer repo.Close()
	return repo.Save(identity, key)
}

func newRootCommand() *cobra.Command {
	var opt keygenOptions
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a relay RSA keypair",
		Example: `  keygen --out relay.pem
  keygen --keystore relays.db --identity 127.0.0.1:6001`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opt.keyStore != "" && opt.identity == "" {
				return fmt.Errorf("--identity is required with --keystore")
			}
			if opt.keyStore == "" && opt.out == "" {
				return fmt.Errorf("nothing to write: give --out or --keystore")
			}
			return run(cmd.OutOrStdout(), opt)
		},
	}
	cmd.Flags().StringVar(&opt.out, "out", "rsa_key.pem", "output private key file (PKCS#8); the public key goes to <out>.pub")
	cmd.Flags().IntVar(&opt.bits, "bits", config.Default().Relay.KeyBits, "RSA modulus size")
	cmd.Flags().StringVar(&opt.keyStore, "keystore", "", "also store the key in this bbolt key store")
	cmd.Flags().StringVar(&opt.identity, "identity", "", "relay identity to store the key under")
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
