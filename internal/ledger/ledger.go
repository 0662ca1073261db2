// Package ledger anchors signature digests in the certificate registry
// contract and answers whether a digest is anchored.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	ErrLedgerDisabled = errors.New("ledger is disabled")
	// ErrLedgerUnavailable means nothing was broadcast.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	// ErrAnchorInconclusive means a transaction may have been broadcast but
	// its outcome is unknown or negative.
	ErrAnchorInconclusive = errors.New("anchor outcome inconclusive")
	ErrChainMismatch      = errors.New("node chain id does not match configuration")
	ErrReverted           = errors.New("transaction reverted")
	ErrOwnerKeyMissing    = errors.New("contract owner key not configured")
	ErrInvalidDigest      = errors.New("digest must be 32 bytes of hex")
)

// RegistryABI is the subset of the certificate registry contract in use.
const RegistryABI = `[
	{"type":"function","name":"authorizeInstitution","stateMutability":"nonpayable",
	 "inputs":[{"name":"institution","type":"address"}],"outputs":[]},
	{"type":"function","name":"addSignedHash","stateMutability":"nonpayable",
	 "inputs":[{"name":"signedHash","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"verifySignedHash","stateMutability":"view",
	 "inputs":[{"name":"signedHash","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"authorizedInstitutions","stateMutability":"view",
	 "inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"bool"}]}
]`

// Receipt describes a broadcast transaction. BlockNumber is zero when the
// transaction was not seen mined.
type Receipt struct {
	From        common.Address
	TxHash      common.Hash
	Nonce       uint64
	BlockNumber uint64
}

type Gateway interface {
	// AuthorizeInstitution whitelists address using the contract owner key.
	AuthorizeInstitution(ctx context.Context, address common.Address) (*Receipt, error)
	// AnchorSignedHash records signatureKeccak, sending from key's address.
	// A non-nil receipt may accompany ErrAnchorInconclusive.
	AnchorSignedHash(ctx context.Context, key *ecdsa.PrivateKey, signatureKeccak string) (*Receipt, error)
	IsAnchored(ctx context.Context, signatureKeccak string) (bool, error)
	IsAuthorized(ctx context.Context, address common.Address) (bool, error)
}

// Disabled is the gateway used when anchoring is switched off.
type Disabled struct{}

func (Disabled) AuthorizeInstitution(context.Context, common.Address) (*Receipt, error) {
	return nil, ErrLedgerDisabled
}

func (Disabled) AnchorSignedHash(context.Context, *ecdsa.PrivateKey, string) (*Receipt, error) {
	return nil, ErrLedgerDisabled
}

func (Disabled) IsAnchored(context.Context, string) (bool, error) {
	return false, ErrLedgerDisabled
}

func (Disabled) IsAuthorized(context.Context, common.Address) (bool, error) {
	return false, ErrLedgerDisabled
}

// Bytes32 decodes a 0x-prefixed 32-byte hex digest.
func Bytes32(digest string) ([32]byte, error) {
	var out [32]byte
	b, err := hexutil.Decode(digest)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	if len(b) != len(out) {
		return out, fmt.Errorf("%w: got %d bytes", ErrInvalidDigest, len(b))
	}
	copy(out[:], b)
	return out, nil
}
