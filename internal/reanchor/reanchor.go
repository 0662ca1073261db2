// Package reanchor periodically retries anchoring for certificates whose
// first attempt was inconclusive or failed.
package reanchor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron"
	log "github.com/sirupsen/logrus"

	"github.com/swissborg/academic-certs/config"
	"github.com/swissborg/academic-certs/internal/certhash"
	"github.com/swissborg/academic-certs/internal/domain"
	"github.com/swissborg/academic-certs/internal/journal"
	"github.com/swissborg/academic-certs/internal/ledger"
	"github.com/swissborg/academic-certs/internal/taskqueue"
)

// taskMaxAge drops queued retries that a stalled node kept waiting.
const taskMaxAge = time.Hour

// lookupRuns bounds how often one sweep asks an unreachable node about a
// digest before leaving it to the next sweep.
const lookupRuns = 3

type Journal interface {
	Retryable(maxAttempts int) ([]journal.Record, error)
	Update(signatureKeccak string, fn func(*journal.Record)) (journal.Record, error)
}

type Store interface {
	CertificateBySignatureKeccak(ctx context.Context, keccak string) (*domain.Certificate, error)
}

// Anchorer is implemented by issuance.Service.
type Anchorer interface {
	Anchor(ctx context.Context, cert *domain.Certificate, previousAttempts int) journal.Record
}

type Sweeper struct {
	cron        *cron.Cron
	queue       *taskqueue.Queue
	journal     Journal
	store       Store
	ledger      ledger.Gateway
	anchorer    Anchorer
	schedule    string
	maxAttempts int
}

func New(cfg config.Reanchor, ledgerCfg config.Ledger, j Journal, st Store, gw ledger.Gateway, anchorer Anchorer) *Sweeper {
	return &Sweeper{
		cron:        cron.New(),
		queue:       taskqueue.NewQueue(ledgerCfg.CallTimeout+ledgerCfg.ReceiptTimeout, taskMaxAge),
		journal:     j,
		store:       st,
		ledger:      gw,
		anchorer:    anchorer,
		schedule:    cfg.Schedule,
		maxAttempts: cfg.MaxAttempts,
	}
}

func (s *Sweeper) Start() error {
	if err := s.cron.AddFunc(s.schedule, func() { s.Sweep() }); err != nil {
		return fmt.Errorf("schedule re-anchoring sweep: %w", err)
	}
	s.cron.Start()
	log.WithField("schedule", s.schedule).Info("re-anchoring sweep started")
	return nil
}

func (s *Sweeper) Stop() {
	s.cron.Stop()
	s.queue.Close()
}

// Wait blocks until every queued retry has run.
func (s *Sweeper) Wait() {
	s.queue.Wait()
}

// Sweep queues a retry for every journaled digest that is still eligible and
// returns how many were queued.
func (s *Sweeper) Sweep() int {
	records, err := s.journal.Retryable(s.maxAttempts)
	if err != nil {
		log.WithError(err).Error("failed to list anchor records")
		return 0
	}

	queued := 0
	for _, rec := range records {
		rec := rec
		task := taskqueue.NewTask(rec.SignatureKeccak, func(ctx context.Context) error {
			return s.retry(ctx, rec)
		})
		// retry starts with a read, so running it again never double-sends
		task.Retry = func(err error) bool { return errors.Is(err, ledger.ErrLedgerUnavailable) }
		task.MaxRuns = lookupRuns
		if s.queue.Add(task) {
			queued++
		}
	}
	if queued > 0 {
		log.WithField("queued", queued).Info("re-anchoring certificates")
	}
	return queued
}

// retry checks the ledger first so a transaction that did land after an
// inconclusive wait is not sent twice.
func (s *Sweeper) retry(ctx context.Context, rec journal.Record) error {
	logger := log.WithField("digest", certhash.Short(rec.SignatureKeccak))

	anchored, err := s.ledger.IsAnchored(ctx, rec.SignatureKeccak)
	if err != nil {
		ledger.LogFailure("reanchor-check", err, logger.Data)
		return err
	}
	if anchored {
		_, err := s.journal.Update(rec.SignatureKeccak, func(r *journal.Record) {
			r.Status = journal.StatusAnchored
			r.LastError = ""
		})
		logger.Info("digest found on ledger")
		return err
	}

	cert, err := s.store.CertificateBySignatureKeccak(ctx, rec.SignatureKeccak)
	if err != nil {
		logger.WithError(err).Error("cannot load certificate for re-anchoring")
		if _, uerr := s.journal.Update(rec.SignatureKeccak, func(r *journal.Record) {
			r.Status = journal.StatusFailed
			r.Attempts++
			r.LastError = err.Error()
		}); uerr != nil {
			logger.WithError(uerr).Error("failed to journal anchor outcome")
		}
		return err
	}

	out := s.anchorer.Anchor(ctx, cert, rec.Attempts)
	if out.Status != journal.StatusAnchored {
		return fmt.Errorf("anchor %s: %s", out.Status, out.LastError)
	}
	return nil
}
