package ledger

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum"
	log "github.com/sirupsen/logrus"
)

// Reason is the failure class attached to ledger log lines.
type Reason string

const (
	ReasonNotFound      Reason = "not_found"
	ReasonTimeout       Reason = "timeout"
	ReasonChainMismatch Reason = "chain_mismatch"
	ReasonReverted      Reason = "reverted"
	ReasonDisabled      Reason = "disabled"
	ReasonUnavailable   Reason = "unavailable"
)

func Classify(err error) Reason {
	switch {
	case errors.Is(err, ErrLedgerDisabled):
		return ReasonDisabled
	case errors.Is(err, ErrChainMismatch):
		return ReasonChainMismatch
	case errors.Is(err, ErrReverted):
		return ReasonReverted
	case errors.Is(err, ethereum.NotFound):
		return ReasonNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	}
	return ReasonUnavailable
}

// LogFailure writes one warning line for a failed ledger operation.
func LogFailure(op string, err error, fields log.Fields) {
	entry := log.WithFields(fields).WithError(err).WithFields(log.Fields{
		"op":     op,
		"reason": Classify(err),
	})
	if errors.Is(err, ErrLedgerDisabled) {
		entry.Debug("ledger operation skipped")
		return
	}
	entry.Warn("ledger operation failed")
}
