package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/swissborg/academic-certs/internal/keys"
)

const (
	privateKeyFile = "private.pem"
	publicKeyFile  = "public.pem"
)

type keygenOutput struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key,omitempty"`
	Directory  string `json:"directory,omitempty"`
}

// AddKeygenCommand adds the keygen command to the root command.
func AddKeygenCommand(parent *cobra.Command) {
	var outDir string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an RSA signing key pair",
		Long: `Generate a 2048-bit RSA signing key pair in PEM form (PKCS#8 private key,
PKIX public key).

With --out-dir the keys are written to private.pem and public.pem and only the
public key is printed. Existing files are never overwritten.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pair, err := keys.GenerateSigningKeyPair()
			if err != nil {
				return err
			}
			if outDir == "" {
				return writeJSON(cmd.OutOrStdout(), keygenOutput{PublicKey: pair.Public, PrivateKey: pair.Private})
			}

			if err := os.MkdirAll(outDir, 0o700); err != nil {
				return fmt.Errorf("create %s: %w", outDir, err)
			}
			if err := writeNew(filepath.Join(outDir, privateKeyFile), pair.Private, 0o600); err != nil {
				return err
			}
			if err := writeNew(filepath.Join(outDir, publicKeyFile), pair.Public, 0o644); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), keygenOutput{PublicKey: pair.Public, Directory: outDir})
		},
	}
	cmd.Flags().StringVar(&outDir, "out-dir", "", "write private.pem and public.pem into this directory")
	parent.AddCommand(cmd)
}

func writeNew(path, content string, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

type ledgerAccountOutput struct {
	Address    string `json:"address"`
	PrivateKey string `json:"private_key"`
}

// AddLedgerAccountCommand adds the ledger-account command to the root command.
func AddLedgerAccountCommand(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "ledger-account",
		Short: "Generate a secp256k1 ledger account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			acct, err := keys.GenerateLedgerAccount()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), ledgerAccountOutput{Address: acct.Address, PrivateKey: acct.PrivateKey})
		},
	}
	parent.AddCommand(cmd)
}
