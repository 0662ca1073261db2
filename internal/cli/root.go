// Package cli provides certctl, the operator command line for key material,
// identifiers and the registry contract.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/swissborg/academic-certs/config"
)

// GlobalFlags are shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
}

func newRootCmd(flags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "certctl",
		Short: "Operate the academic certificate registry",
		Long: `certctl generates key material, derives principal identifiers and talks to
the certificate registry contract configured for the API service.

Examples:
  certctl keygen --out-dir ./keys
  certctl derive-id student --firstname "Tai Man" --lastname Chan --id-prefix Y123 --dob 2003-05-17
  certctl check-chain --config config.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := godotenv.Load(".env"); err != nil {
				var pathError *fs.PathError
				if !errors.As(err, &pathError) {
					return fmt.Errorf("parsing .env file: %w", err)
				}
			}
			if flags.ConfigPath == "" {
				flags.ConfigPath = os.Getenv("CONFIG_PATH")
			}

			level, err := log.ParseLevel(flags.LogLevel)
			if err != nil {
				return fmt.Errorf("invalid --log-level: %w", err)
			}
			log.SetLevel(level)
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to the service yaml config (defaults to $CONFIG_PATH)")
	cmd.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "warn", "logrus level")

	AddKeygenCommand(cmd)
	AddLedgerAccountCommand(cmd)
	AddDeriveIDCommand(cmd)
	AddVerifyCommand(cmd, flags)
	AddAuthorizeCommand(cmd, flags)
	AddCheckChainCommand(cmd, flags)

	return cmd
}

// Execute runs certctl with os.Args.
func Execute(ctx context.Context) error {
	cmd := newRootCmd(&GlobalFlags{})
	return cmd.ExecuteContext(ctx)
}

// loadConfig reads the service config and takes the contract owner key from
// the environment, as the API service does.
func loadConfig(flags *GlobalFlags) (config.Config, error) {
	if flags.ConfigPath == "" {
		return config.Config{}, errors.New("no config: pass --config or set CONFIG_PATH")
	}
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	cfg.Ledger.OwnerPrivateKey = os.Getenv("CHAIN_OWNER_PRIVATE_KEY")
	return cfg, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
