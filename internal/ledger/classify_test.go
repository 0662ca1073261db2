package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Reason
	}{
		{fmt.Errorf("%w: lookup: %w", ErrLedgerUnavailable, ethereum.NotFound), ReasonNotFound},
		{fmt.Errorf("%w: wait: %w", ErrAnchorInconclusive, context.DeadlineExceeded), ReasonTimeout},
		{fmt.Errorf("%w: %w", ErrLedgerUnavailable, ErrChainMismatch), ReasonChainMismatch},
		{fmt.Errorf("%w: %w: 0x1", ErrAnchorInconclusive, ErrReverted), ReasonReverted},
		{ErrLedgerDisabled, ReasonDisabled},
		{errors.New("connection refused"), ReasonUnavailable},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.err), c.err.Error())
	}
}

func TestLogFailureAttachesReason(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	LogFailure("anchor", fmt.Errorf("%w: %w", ErrAnchorInconclusive, context.DeadlineExceeded), log.Fields{"certificate": "0xabc"})

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, log.WarnLevel, entry.Level)
	assert.Equal(t, ReasonTimeout, entry.Data["reason"])
	assert.Equal(t, "anchor", entry.Data["op"])
	assert.Equal(t, "0xabc", entry.Data["certificate"])
}
