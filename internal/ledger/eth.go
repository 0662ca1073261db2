package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	log "github.com/sirupsen/logrus"

	"github.com/swissborg/academic-certs/config"
	"github.com/swissborg/academic-certs/internal/certhash"
)

// Backend is what EthGateway needs from a node. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

type EthGateway struct {
	backend  Backend
	contract *bind.BoundContract
	registry common.Address
	owner    *ecdsa.PrivateKey
	nonces   *NonceManager

	chainID        *big.Int
	gasLimit       uint64
	callTimeout    time.Duration
	receiptTimeout time.Duration

	chainChecked atomic.Bool
	close        func()
}

// Dial connects to the configured node. owner may be nil, in which case
// AuthorizeInstitution fails with ErrOwnerKeyMissing.
func Dial(ctx context.Context, cfg config.Ledger, owner *ecdsa.PrivateKey) (*EthGateway, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	defer cancel()

	client, err := ethclient.DialContext(dialCtx, cfg.Node)
	if err != nil {
		return nil, fmt.Errorf("connect to ethereum node: %w", err)
	}

	g, err := NewEthGateway(client, cfg, owner)
	if err != nil {
		client.Close()
		return nil, err
	}
	g.close = client.Close
	return g, nil
}

func NewEthGateway(backend Backend, cfg config.Ledger, owner *ecdsa.PrivateKey) (*EthGateway, error) {
	parsed, err := abi.JSON(strings.NewReader(RegistryABI))
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}

	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	receiptTimeout := cfg.ReceiptTimeout
	if receiptTimeout <= 0 {
		receiptTimeout = 2 * time.Minute
	}
	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = 150000
	}

	return &EthGateway{
		backend:        backend,
		contract:       bind.NewBoundContract(cfg.RegistryAddress, parsed, backend, backend, backend),
		registry:       cfg.RegistryAddress,
		owner:          owner,
		nonces:         NewNonceManager(backend),
		chainID:        big.NewInt(cfg.ChainID),
		gasLimit:       gasLimit,
		callTimeout:    callTimeout,
		receiptTimeout: receiptTimeout,
	}, nil
}

func (g *EthGateway) Close() {
	if g.close != nil {
		g.close()
	}
}

// CheckConnection reports whether the node answers and runs the configured chain.
func (g *EthGateway) CheckConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	id, err := g.backend.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("%w: retrieve chain id: %w", ErrLedgerUnavailable, err)
	}
	if id.Cmp(g.chainID) != 0 {
		return fmt.Errorf("%w: %w: node reports %s, configured %s", ErrLedgerUnavailable, ErrChainMismatch, id, g.chainID)
	}
	g.chainChecked.Store(true)
	return nil
}

func (g *EthGateway) ensureChain(ctx context.Context) error {
	if g.chainChecked.Load() {
		return nil
	}
	return g.CheckConnection(ctx)
}

func (g *EthGateway) AuthorizeInstitution(ctx context.Context, address common.Address) (*Receipt, error) {
	if g.owner == nil {
		return nil, ErrOwnerKeyMissing
	}
	return g.transact(ctx, g.owner, "authorizeInstitution", address)
}

func (g *EthGateway) AnchorSignedHash(ctx context.Context, key *ecdsa.PrivateKey, signatureKeccak string) (*Receipt, error) {
	digest, err := Bytes32(signatureKeccak)
	if err != nil {
		return nil, err
	}
	return g.transact(ctx, key, "addSignedHash", digest)
}

func (g *EthGateway) IsAnchored(ctx context.Context, signatureKeccak string) (bool, error) {
	digest, err := Bytes32(signatureKeccak)
	if err != nil {
		return false, err
	}
	return g.callBool(ctx, "verifySignedHash", digest)
}

func (g *EthGateway) IsAuthorized(ctx context.Context, address common.Address) (bool, error) {
	return g.callBool(ctx, "authorizedInstitutions", address)
}

func (g *EthGateway) callBool(ctx context.Context, method string, args ...interface{}) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	var out []interface{}
	if err := g.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return false, fmt.Errorf("%w: call %s: %w", ErrLedgerUnavailable, method, err)
	}
	if len(out) != 1 {
		return false, fmt.Errorf("%w: %s returned %d values", ErrLedgerUnavailable, method, len(out))
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// transact signs and broadcasts one contract call, then waits for it to be
// mined under the receipt timeout.
func (g *EthGateway) transact(ctx context.Context, key *ecdsa.PrivateKey, method string, args ...interface{}) (*Receipt, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)
	logger := log.WithFields(log.Fields{"method": method, "from": from.Hex(), "registry": g.registry.Hex()})

	if err := g.ensureChain(ctx); err != nil {
		return nil, err
	}

	auth, err := bind.NewKeyedTransactorWithChainID(key, g.chainID)
	if err != nil {
		return nil, fmt.Errorf("create transaction signer from private key: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	gasPrice, err := g.backend.SuggestGasPrice(callCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: suggest gas price: %w", ErrLedgerUnavailable, err)
	}

	nonce, release, err := g.nonces.Acquire(callCtx, from)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}

	auth.Context = callCtx
	auth.Nonce = new(big.Int).SetUint64(nonce)
	auth.GasLimit = g.gasLimit
	auth.GasPrice = gasPrice

	tx, err := g.contract.Transact(auth, method, args...)
	release(err == nil)
	if err != nil {
		return nil, fmt.Errorf("%w: send %s: %w", ErrLedgerUnavailable, method, err)
	}

	receipt := &Receipt{From: from, TxHash: tx.Hash(), Nonce: nonce}
	logger.WithFields(log.Fields{
		"nonce": nonce,
		"tx":    certhash.Short(tx.Hash().Hex()),
	}).Info("transaction sent")

	waitCtx, cancelWait := context.WithTimeout(ctx, g.receiptTimeout)
	defer cancelWait()

	mined, err := bind.WaitMined(waitCtx, g.backend, tx)
	if err != nil {
		// the node may have dropped it; re-read the pending nonce on next send
		g.nonces.Reset(from)
		return receipt, fmt.Errorf("%w: wait until transaction %s is mined: %w", ErrAnchorInconclusive, tx.Hash(), err)
	}
	if mined.BlockNumber != nil {
		receipt.BlockNumber = mined.BlockNumber.Uint64()
	}
	if mined.Status == types.ReceiptStatusFailed {
		return receipt, fmt.Errorf("%w: %w: %s", ErrAnchorInconclusive, ErrReverted, tx.Hash())
	}

	logger.WithFields(log.Fields{
		"tx":    certhash.Short(tx.Hash().Hex()),
		"block": receipt.BlockNumber,
	}).Info("transaction mined")
	return receipt, nil
}
