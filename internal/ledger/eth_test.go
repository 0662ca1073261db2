package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swissborg/academic-certs/config"
)

const testChainID = 1337

// fakeChain emulates a node running the registry contract. Backend methods
// the gateway does not use come from the nil embedded interface and panic.
type fakeChain struct {
	bind.ContractBackend

	abi      abi.ABI
	gasPrice *big.Int

	mu         sync.Mutex
	chainID    int64
	pending    uint64
	status     uint64
	unmined    bool
	drop       bool
	sendErr    error
	sent       []*types.Transaction
	anchored   map[[32]byte]bool
	authorized map[common.Address]bool
}

func newFakeChain(t *testing.T) *fakeChain {
	parsed, err := abi.JSON(strings.NewReader(RegistryABI))
	require.NoError(t, err)
	return &fakeChain{
		abi:        parsed,
		gasPrice:   big.NewInt(2_000_000_000),
		chainID:    testChainID,
		status:     types.ReceiptStatusSuccessful,
		anchored:   map[[32]byte]bool{},
		authorized: map[common.Address]bool{},
	}
}

func (f *fakeChain) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(f.chainID), nil
}

func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return f.gasPrice, nil
}

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	if f.drop {
		return nil
	}
	f.pending = tx.Nonce() + 1
	if f.status != types.ReceiptStatusSuccessful {
		return nil
	}

	method, err := f.abi.MethodById(tx.Data()[:4])
	if err != nil {
		return err
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		return err
	}
	switch method.Name {
	case "addSignedHash":
		f.anchored[args[0].([32]byte)] = true
	case "authorizeInstitution":
		f.authorized[args[0].(common.Address)] = true
	}
	return nil
}

func (f *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unmined {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{TxHash: hash, Status: f.status, BlockNumber: big.NewInt(42)}, nil
}

func (f *fakeChain) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	method, err := f.abi.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	var result bool
	switch method.Name {
	case "verifySignedHash":
		result = f.anchored[args[0].([32]byte)]
	case "authorizedInstitutions":
		result = f.authorized[args[0].(common.Address)]
	}
	return method.Outputs.Pack(result)
}

func newGateway(t *testing.T, chain *fakeChain, owner *ecdsa.PrivateKey) *EthGateway {
	g, err := NewEthGateway(chain, config.Ledger{
		RegistryAddress: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		ChainID:         testChainID,
		GasLimit:        150000,
		CallTimeout:     time.Second,
		ReceiptTimeout:  time.Second,
	}, owner)
	require.NoError(t, err)
	return g
}

func newKey(t *testing.T) *ecdsa.PrivateKey {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

const digest = "0x8f434346648f6b96df89dda901c5176b10a6d83961dd3c1ac88b59b2dc327aa4"

func TestAnchorAndVerify(t *testing.T) {
	chain := newFakeChain(t)
	chain.pending = 5
	g := newGateway(t, chain, nil)
	key := newKey(t)
	ctx := context.Background()

	anchored, err := g.IsAnchored(ctx, digest)
	require.NoError(t, err)
	assert.False(t, anchored)

	receipt, err := g.AnchorSignedHash(ctx, key, digest)
	require.NoError(t, err)
	assert.EqualValues(t, 5, receipt.Nonce)
	assert.EqualValues(t, 42, receipt.BlockNumber)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), receipt.From)

	anchored, err = g.IsAnchored(ctx, digest)
	require.NoError(t, err)
	assert.True(t, anchored)

	require.Len(t, chain.sent, 1)
	tx := chain.sent[0]
	assert.EqualValues(t, 150000, tx.Gas())
	assert.Equal(t, chain.gasPrice, tx.GasPrice())
	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(testChainID)), tx)
	require.NoError(t, err)
	assert.Equal(t, receipt.From, sender)
}

func TestSequentialAnchorsUseConsecutiveNonces(t *testing.T) {
	chain := newFakeChain(t)
	g := newGateway(t, chain, nil)
	key := newKey(t)

	for i := 0; i < 3; i++ {
		r, err := g.AnchorSignedHash(context.Background(), key, digest)
		require.NoError(t, err)
		assert.EqualValues(t, i, r.Nonce)
	}
}

func TestRevertedAnchorIsInconclusive(t *testing.T) {
	chain := newFakeChain(t)
	chain.status = types.ReceiptStatusFailed
	g := newGateway(t, chain, nil)

	receipt, err := g.AnchorSignedHash(context.Background(), newKey(t), digest)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAnchorInconclusive)
	assert.Equal(t, ReasonReverted, Classify(err))
	require.NotNil(t, receipt)
	assert.NotEqual(t, common.Hash{}, receipt.TxHash)
}

func TestReceiptTimeoutIsInconclusive(t *testing.T) {
	chain := newFakeChain(t)
	chain.unmined = true
	g := newGateway(t, chain, nil)
	g.receiptTimeout = 50 * time.Millisecond

	receipt, err := g.AnchorSignedHash(context.Background(), newKey(t), digest)
	assert.ErrorIs(t, err, ErrAnchorInconclusive)
	assert.Equal(t, ReasonTimeout, Classify(err))
	require.NotNil(t, receipt)
	assert.Zero(t, receipt.BlockNumber)
}

func TestDroppedTransactionFreesItsNonce(t *testing.T) {
	chain := newFakeChain(t)
	chain.unmined = true
	chain.drop = true
	g := newGateway(t, chain, nil)
	g.receiptTimeout = 50 * time.Millisecond
	key := newKey(t)

	_, err := g.AnchorSignedHash(context.Background(), key, digest)
	require.ErrorIs(t, err, ErrAnchorInconclusive)

	chain.mu.Lock()
	chain.unmined, chain.drop = false, false
	chain.mu.Unlock()

	r, err := g.AnchorSignedHash(context.Background(), key, digest)
	require.NoError(t, err)
	assert.EqualValues(t, 0, r.Nonce)

	require.Len(t, chain.sent, 2)
	assert.EqualValues(t, 0, chain.sent[0].Nonce())
	assert.EqualValues(t, 0, chain.sent[1].Nonce())
}

func TestMinedTransactionKeepsNonceOrder(t *testing.T) {
	chain := newFakeChain(t)
	chain.unmined = true
	g := newGateway(t, chain, nil)
	g.receiptTimeout = 50 * time.Millisecond
	key := newKey(t)

	// still pending in the pool: the re-read must not reuse its nonce
	_, err := g.AnchorSignedHash(context.Background(), key, digest)
	require.ErrorIs(t, err, ErrAnchorInconclusive)

	chain.mu.Lock()
	chain.unmined = false
	chain.mu.Unlock()

	r, err := g.AnchorSignedHash(context.Background(), key, digest)
	require.NoError(t, err)
	assert.EqualValues(t, 1, r.Nonce)
}

func TestChainMismatchSendsNothing(t *testing.T) {
	chain := newFakeChain(t)
	chain.chainID = 1
	g := newGateway(t, chain, nil)

	_, err := g.AnchorSignedHash(context.Background(), newKey(t), digest)
	assert.ErrorIs(t, err, ErrChainMismatch)
	assert.ErrorIs(t, err, ErrLedgerUnavailable)
	assert.Empty(t, chain.sent)

	assert.ErrorIs(t, g.CheckConnection(context.Background()), ErrChainMismatch)
}

func TestFailedSendRereadsNonce(t *testing.T) {
	chain := newFakeChain(t)
	chain.pending = 2
	g := newGateway(t, chain, nil)
	key := newKey(t)

	chain.sendErr = errors.New("nonce too low")
	_, err := g.AnchorSignedHash(context.Background(), key, digest)
	assert.ErrorIs(t, err, ErrLedgerUnavailable)

	chain.sendErr = nil
	chain.pending = 9
	r, err := g.AnchorSignedHash(context.Background(), key, digest)
	require.NoError(t, err)
	assert.EqualValues(t, 9, r.Nonce)
}

func TestAuthorizeInstitution(t *testing.T) {
	chain := newFakeChain(t)
	institution := crypto.PubkeyToAddress(newKey(t).PublicKey)

	_, err := newGateway(t, chain, nil).AuthorizeInstitution(context.Background(), institution)
	assert.ErrorIs(t, err, ErrOwnerKeyMissing)

	g := newGateway(t, chain, newKey(t))
	_, err = g.AuthorizeInstitution(context.Background(), institution)
	require.NoError(t, err)

	ok, err := g.IsAuthorized(context.Background(), institution)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInvalidDigest(t *testing.T) {
	g := newGateway(t, newFakeChain(t), nil)

	_, err := g.IsAnchored(context.Background(), "0x1234")
	assert.ErrorIs(t, err, ErrInvalidDigest)

	_, err = g.AnchorSignedHash(context.Background(), newKey(t), "not hex")
	assert.ErrorIs(t, err, ErrInvalidDigest)
}

func TestDisabledGateway(t *testing.T) {
	var g Gateway = Disabled{}
	ok, err := g.IsAnchored(context.Background(), digest)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrLedgerDisabled)

	_, err = g.AnchorSignedHash(context.Background(), nil, digest)
	assert.ErrorIs(t, err, ErrLedgerDisabled)
}
