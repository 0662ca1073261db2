package cli

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/swissborg/academic-certs/config"
	"github.com/swissborg/academic-certs/internal/keys"
	"github.com/swissborg/academic-certs/internal/ledger"
	"github.com/swissborg/academic-certs/internal/signer"
)

func dialLedger(ctx context.Context, cfg config.Config) (*ledger.EthGateway, error) {
	if !cfg.Ledger.Enabled {
		return nil, ledger.ErrLedgerDisabled
	}

	var owner *ecdsa.PrivateKey
	if cfg.Ledger.OwnerPrivateKey != "" {
		key, err := keys.ParseLedgerKey(cfg.Ledger.OwnerPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("CHAIN_OWNER_PRIVATE_KEY: %w", err)
		}
		owner = key
	}
	return ledger.Dial(ctx, cfg.Ledger, owner)
}

type chainStatus struct {
	Node            string `json:"node"`
	ChainID         int64  `json:"chain_id"`
	RegistryAddress string `json:"registry_address"`
	Connected       bool   `json:"connected"`
	Error           string `json:"error,omitempty"`
}

// AddCheckChainCommand adds the check-chain command to the root command.
func AddCheckChainCommand(parent *cobra.Command, flags *GlobalFlags) {
	cmd := &cobra.Command{
		Use:   "check-chain",
		Short: "Check that the configured node answers on the configured chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			gw, err := dialLedger(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer gw.Close()

			status := chainStatus{
				Node:            cfg.Ledger.Node,
				ChainID:         cfg.Ledger.ChainID,
				RegistryAddress: cfg.Ledger.RegistryAddress.Hex(),
				Connected:       true,
			}
			checkErr := gw.CheckConnection(cmd.Context())
			if checkErr != nil {
				status.Connected = false
				status.Error = checkErr.Error()
			}
			if err := writeJSON(cmd.OutOrStdout(), status); err != nil {
				return err
			}
			return checkErr
		},
	}
	parent.AddCommand(cmd)
}

// AddAuthorizeCommand adds the authorize command to the root command.
func AddAuthorizeCommand(parent *cobra.Command, flags *GlobalFlags) {
	cmd := &cobra.Command{
		Use:   "authorize <ledger-address>",
		Short: "Whitelist an institution address in the registry contract",
		Long: `Send authorizeInstitution for the address from the contract owner account.
The owner key is read from CHAIN_OWNER_PRIVATE_KEY.

Addresses the contract already whitelists are reported and left alone.
This does not record the authorization in the database; prefer
POST /institutions/:uid/authorize for registered institutions.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(args[0]) {
				return fmt.Errorf("%q is not a ledger address", args[0])
			}
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			gw, err := dialLedger(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer gw.Close()

			address := common.HexToAddress(args[0])
			authorized, err := gw.IsAuthorized(cmd.Context(), address)
			if err != nil {
				return err
			}
			if authorized {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"address":            address.Hex(),
					"already_authorized": true,
				})
			}

			receipt, err := gw.AuthorizeInstitution(cmd.Context(), address)
			if err != nil {
				ledger.LogFailure("authorize", err, nil)
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"address": address.Hex(),
				"tx_hash": receipt.TxHash.Hex(),
				"nonce":   receipt.Nonce,
				"block":   receipt.BlockNumber,
			})
		},
	}
	parent.AddCommand(cmd)
}

type verifyOutput struct {
	SignatureKeccak string `json:"signature_keccak"`
	Signature       *bool  `json:"signature,omitempty"`
	OnChain         *bool  `json:"on_chain,omitempty"`
}

// AddVerifyCommand adds the verify command to the root command.
func AddVerifyCommand(parent *cobra.Command, flags *GlobalFlags) {
	var hash, signature, publicKeyPath string
	var chain bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a certificate signature offline and its anchor on the ledger",
		Long: `Check a certificate without the API service.

--signature is always required; its keccak digest is what the registry stores.
With --hash and --public-key the RSA-PSS signature is checked against the PEM
public key file. With --chain the digest is looked up in the registry contract.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if signature == "" {
				return errors.New("--signature is required")
			}
			digest, err := signer.SignatureKeccak(signature)
			if err != nil {
				return err
			}
			out := verifyOutput{SignatureKeccak: digest}

			if publicKeyPath != "" {
				if hash == "" {
					return errors.New("--hash is required with --public-key")
				}
				pem, err := os.ReadFile(publicKeyPath)
				if err != nil {
					return fmt.Errorf("read public key: %w", err)
				}
				ok := signer.VerifyPEM(signature, hash, string(pem))
				out.Signature = &ok
			}

			if chain {
				cfg, err := loadConfig(flags)
				if err != nil {
					return err
				}
				gw, err := dialLedger(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				defer gw.Close()

				anchored, err := gw.IsAnchored(cmd.Context(), digest)
				if err != nil {
					return err
				}
				out.OnChain = &anchored
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&hash, "hash", "", "certificate hash, 0x-prefixed")
	cmd.Flags().StringVar(&signature, "signature", "", "hex signature stored with the certificate")
	cmd.Flags().StringVar(&publicKeyPath, "public-key", "", "PEM file with the signer's public key")
	cmd.Flags().BoolVar(&chain, "chain", false, "look the signature digest up in the registry contract")
	parent.AddCommand(cmd)
}
