// Package journal keeps the anchoring outcome of every issued certificate in
// badger, keyed by signature digest. Records expire after the configured TTL.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	log "github.com/sirupsen/logrus"

	"github.com/swissborg/academic-certs/config"
)

type Status string

const (
	StatusPending      Status = "pending"
	StatusAnchored     Status = "anchored"
	StatusInconclusive Status = "inconclusive"
	StatusFailed       Status = "failed"
	// StatusSkipped marks certificates issued while the ledger was disabled.
	StatusSkipped Status = "skipped"
)

const keyPrefix = "anchor/"

var ErrRecordNotFound = errors.New("anchor record not found")

type Record struct {
	SignatureKeccak string    `json:"signature_keccak"`
	CertificateHash string    `json:"certificate_hash"`
	Status          Status    `json:"status"`
	LedgerAddress   string    `json:"ledger_address,omitempty"`
	TxHash          string    `json:"tx_hash,omitempty"`
	Nonce           *uint64   `json:"nonce,omitempty"`
	Attempts        int       `json:"attempts"`
	LastError       string    `json:"last_error,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Retryable reports whether a sweep should try to anchor the record again.
// Skipped records are included so certificates issued while the ledger was
// off get anchored once it is turned on.
func (r Record) Retryable() bool {
	switch r.Status {
	case StatusInconclusive, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

type Journal struct {
	db  *badger.DB
	ttl time.Duration
}

func Open(cfg config.Journal) (*Journal, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open anchor journal: %w", err)
	}
	log.WithField("in_memory", cfg.InMemory).Info("anchor journal opened")

	return New(db, cfg.RecordTTL), nil
}

// New wraps an open badger database. ttl <= 0 keeps records forever.
func New(db *badger.DB, ttl time.Duration) *Journal {
	return &Journal{db: db, ttl: ttl}
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func key(signatureKeccak string) []byte {
	return []byte(keyPrefix + signatureKeccak)
}

// Put stores rec, replacing any previous record for the same digest.
func (j *Journal) Put(rec Record) error {
	if rec.SignatureKeccak == "" {
		return errors.New("anchor record without signature digest")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	return j.db.Update(func(txn *badger.Txn) error {
		return j.set(txn, rec)
	})
}

func (j *Journal) set(txn *badger.Txn, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode anchor record: %w", err)
	}
	e := badger.NewEntry(key(rec.SignatureKeccak), data)
	if j.ttl > 0 {
		e = e.WithTTL(j.ttl)
	}
	if err := txn.SetEntry(e); err != nil {
		return fmt.Errorf("failed to set anchor record: %w", err)
	}
	return nil
}

func (j *Journal) Get(signatureKeccak string) (Record, error) {
	var rec Record
	err := j.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = get(txn, signatureKeccak)
		return err
	})
	return rec, err
}

func get(txn *badger.Txn, signatureKeccak string) (Record, error) {
	var rec Record
	item, err := txn.Get(key(signatureKeccak))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return rec, ErrRecordNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("error retrieving anchor record: %w", err)
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	return rec, err
}

// Update applies fn to the stored record and writes the result back in one
// transaction. A write that conflicts with a concurrent update is retried
// against the newer record.
func (j *Journal) Update(signatureKeccak string, fn func(*Record)) (Record, error) {
	for {
		var rec Record
		err := j.db.Update(func(txn *badger.Txn) error {
			var err error
			rec, err = get(txn, signatureKeccak)
			if err != nil {
				return err
			}
			fn(&rec)
			rec.UpdatedAt = time.Now().UTC()
			return j.set(txn, rec)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return Record{}, err
		}
		return rec, nil
	}
}

// Retryable lists records a sweep should re-anchor. maxAttempts <= 0 means
// no limit. Order follows badger key order.
func (j *Journal) Retryable(maxAttempts int) ([]Record, error) {
	var out []Record
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode anchor record %s: %w", it.Item().Key(), err)
			}
			if !rec.Retryable() {
				continue
			}
			if maxAttempts > 0 && rec.Attempts >= maxAttempts {
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}
