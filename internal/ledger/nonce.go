package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager hands out transaction nonces per sending address. An address
// is locked from Acquire until its release is called, so concurrent senders
// from one address broadcast strictly one after another.
type NonceManager struct {
	source NonceSource

	mu       sync.Mutex
	accounts map[common.Address]*accountNonce
}

type accountNonce struct {
	sem   chan struct{}
	next  uint64
	known bool
}

func NewNonceManager(source NonceSource) *NonceManager {
	return &NonceManager{
		source:   source,
		accounts: make(map[common.Address]*accountNonce),
	}
}

func (m *NonceManager) account(addr common.Address) *accountNonce {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[addr]
	if !ok {
		a = &accountNonce{sem: make(chan struct{}, 1)}
		m.accounts[addr] = a
	}
	return a
}

// Acquire returns the nonce to use for addr and a release func that must be
// called exactly once after the broadcast attempt. release(true) advances the
// cached nonce; release(false) drops it so the next Acquire re-reads the
// pending count from the node.
func (m *NonceManager) Acquire(ctx context.Context, addr common.Address) (uint64, func(sent bool), error) {
	a := m.account(addr)

	select {
	case a.sem <- struct{}{}:
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}

	if !a.known {
		n, err := m.source.PendingNonceAt(ctx, addr)
		if err != nil {
			<-a.sem
			return 0, nil, fmt.Errorf("read pending nonce of %s: %w", addr, err)
		}
		a.next, a.known = n, true
	}

	nonce := a.next
	var once sync.Once
	release := func(sent bool) {
		once.Do(func() {
			if sent {
				a.next = nonce + 1
			} else {
				a.known = false
			}
			<-a.sem
		})
	}
	return nonce, release, nil
}

// Reset forgets the cached nonce of addr so the next Acquire re-reads the
// pending count from the node. It waits for an in-flight broadcast from addr
// to release first.
func (m *NonceManager) Reset(addr common.Address) {
	a := m.account(addr)
	a.sem <- struct{}{}
	a.known = false
	<-a.sem
}
