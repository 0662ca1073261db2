// Package issuance turns a claim about a student into a signed, persisted and
// (best effort) anchored certificate.
package issuance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/swissborg/academic-certs/internal/certhash"
	"github.com/swissborg/academic-certs/internal/domain"
	"github.com/swissborg/academic-certs/internal/journal"
	"github.com/swissborg/academic-certs/internal/keys"
	"github.com/swissborg/academic-certs/internal/ledger"
	"github.com/swissborg/academic-certs/internal/signer"
)

type Store interface {
	CreateCertificate(ctx context.Context, cert *domain.Certificate) error
	CreateCertificateFromDraft(ctx context.Context, cert *domain.Certificate, draftID uuid.UUID) error
	CreateDraft(ctx context.Context, draft *domain.DraftCertificate) error
	DraftByID(ctx context.Context, id uuid.UUID, institutionID uint) (*domain.DraftCertificate, error)
	MarkInstitutionAuthorized(ctx context.Context, id uint, at time.Time) error
}

type Journal interface {
	Put(rec journal.Record) error
}

type Options struct {
	LedgerEnabled bool
}

type Service struct {
	store   Store
	ledger  ledger.Gateway
	journal Journal
	opts    Options
}

func NewService(store Store, gateway ledger.Gateway, j Journal, opts Options) *Service {
	if gateway == nil {
		gateway = ledger.Disabled{}
	}
	return &Service{store: store, ledger: gateway, journal: j, opts: opts}
}

type IssueRequest struct {
	Institution     *domain.Institution
	Student         *domain.Student
	CertificateType domain.CertificateType
	Metadata        json.RawMessage
	// IssuingUser signs instead of the institution when set. It must belong
	// to Institution.
	IssuingUser *domain.InstitutionUser
	// Timestamp overrides the issuance moment in the hash preimage.
	Timestamp string
}

type Result struct {
	Certificate *domain.Certificate
	Anchor      journal.Record
}

// Issue signs and persists a certificate, then tries to anchor its signature
// digest. Anchoring problems are logged and journaled, never returned.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*Result, error) {
	cert, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateCertificate(ctx, cert); err != nil {
		return nil, fmt.Errorf("persist certificate: %w", err)
	}
	return s.finish(ctx, cert), nil
}

func (s *Service) finish(ctx context.Context, cert *domain.Certificate) *Result {
	log.WithFields(log.Fields{
		"certificate": certhash.Short(cert.CertificateHash),
		"type":        cert.CertificateType,
		"institution": cert.IssuingInstitution.UniqueIdentifier,
	}).Info("certificate issued")

	return &Result{Certificate: cert, Anchor: s.Anchor(ctx, cert, 0)}
}

// prepare runs every step before persistence: policy check, hashing and
// signing. Nothing is written.
func (s *Service) prepare(req IssueRequest) (*domain.Certificate, error) {
	if req.Institution == nil {
		return nil, domain.NewValidationError("institution", "is required")
	}
	if req.Student == nil {
		return nil, domain.NewValidationError("student", "is required")
	}
	if err := domain.CheckCertificatePolicy(req.Institution.Type, req.CertificateType); err != nil {
		return nil, err
	}
	if req.IssuingUser != nil && req.IssuingUser.InstitutionID != req.Institution.ID {
		return nil, domain.NewValidationError("issuing_user", "does not belong to institution %s", req.Institution.UniqueIdentifier)
	}

	metadata, err := certhash.CanonicalMetadata(req.Metadata)
	if err != nil {
		return nil, domain.NewValidationError("metadata", "must be a json document")
	}

	hash, err := certhash.Compute(certhash.Input{
		Type:          string(req.CertificateType),
		InstitutionID: req.Institution.UniqueIdentifier,
		StudentID:     req.Student.UniqueIdentifier,
		Metadata:      metadata,
		Timestamp:     req.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("hash certificate: %w", err)
	}

	signingPEM := req.Institution.PrivateKey
	if req.IssuingUser != nil {
		signingPEM = req.IssuingUser.PrivateKey
	}
	signature, err := signer.SignPEM(hash, signingPEM)
	if err != nil {
		return nil, fmt.Errorf("sign certificate: %w", err)
	}

	digest, err := signer.SignatureKeccak(signature)
	if err != nil {
		return nil, fmt.Errorf("digest signature: %w", err)
	}

	cert := &domain.Certificate{
		CertificateHash:      hash,
		CertificateType:      req.CertificateType,
		SignedHash:           signature,
		SignedHashKeccak:     digest,
		IssuingInstitutionID: req.Institution.ID,
		IssuingInstitution:   req.Institution,
		StudentID:            req.Student.ID,
		Student:              req.Student,
		Metadata:             datatypes.JSON(metadata),
	}
	if req.IssuingUser != nil {
		id := req.IssuingUser.ID
		cert.IssuingUserID = &id
		cert.IssuingUser = req.IssuingUser
	}
	return cert, nil
}

// Anchor records cert's signature digest on the ledger under the issuing
// institution's account and journals the outcome. previousAttempts is the
// attempt count already journaled for this digest.
func (s *Service) Anchor(ctx context.Context, cert *domain.Certificate, previousAttempts int) journal.Record {
	rec := journal.Record{
		SignatureKeccak: cert.SignedHashKeccak,
		CertificateHash: cert.CertificateHash,
		Attempts:        previousAttempts,
	}
	logger := log.WithFields(log.Fields{
		"certificate": certhash.Short(cert.CertificateHash),
		"digest":      certhash.Short(cert.SignedHashKeccak),
	})

	if !s.opts.LedgerEnabled {
		rec.Status = journal.StatusSkipped
		s.record(rec)
		return rec
	}

	inst := cert.IssuingInstitution
	if inst == nil {
		rec.Status = journal.StatusFailed
		rec.LastError = domain.ErrDelegationUnresolved.Error()
		s.record(rec)
		logger.Error("cannot anchor certificate without its institution")
		return rec
	}
	rec.LedgerAddress = inst.LedgerAddress

	key, err := keys.ParseLedgerKey(inst.LedgerPrivateKey)
	if err != nil {
		rec.Status = journal.StatusFailed
		rec.LastError = err.Error()
		s.record(rec)
		logger.WithError(err).Error("institution ledger key unreadable")
		return rec
	}

	rec.Status = journal.StatusPending
	s.record(rec)

	rec.Attempts++
	receipt, err := s.ledger.AnchorSignedHash(ctx, key, cert.SignedHashKeccak)
	if receipt != nil {
		rec.TxHash = receipt.TxHash.Hex()
		nonce := receipt.Nonce
		rec.Nonce = &nonce
	}
	switch {
	case err == nil:
		rec.Status = journal.StatusAnchored
		rec.LastError = ""
		logger.WithField("tx", certhash.Short(rec.TxHash)).Info("signature digest anchored")
	case errors.Is(err, ledger.ErrAnchorInconclusive):
		rec.Status = journal.StatusInconclusive
		rec.LastError = err.Error()
		ledger.LogFailure("anchor", err, logger.Data)
	default:
		rec.Status = journal.StatusFailed
		rec.LastError = err.Error()
		ledger.LogFailure("anchor", err, logger.Data)
	}

	s.record(rec)
	return rec
}

func (s *Service) record(rec journal.Record) {
	if s.journal == nil {
		return
	}
	rec.UpdatedAt = time.Now().UTC()
	if err := s.journal.Put(rec); err != nil {
		log.WithError(err).WithField("digest", certhash.Short(rec.SignatureKeccak)).Error("failed to journal anchor outcome")
	}
}

type DraftRequest struct {
	Institution     *domain.Institution
	Student         *domain.Student
	IssuingUser     *domain.InstitutionUser
	CertificateType domain.CertificateType
	Metadata        json.RawMessage
}

func (s *Service) CreateDraft(ctx context.Context, req DraftRequest) (*domain.DraftCertificate, error) {
	if req.IssuingUser != nil && req.Institution != nil && req.IssuingUser.InstitutionID != req.Institution.ID {
		return nil, domain.NewValidationError("issuing_user", "does not belong to institution %s", req.Institution.UniqueIdentifier)
	}
	draft, err := domain.NewDraft(domain.DraftInput{
		CertificateType: req.CertificateType,
		Metadata:        req.Metadata,
	}, req.Institution, req.Student, req.IssuingUser)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateDraft(ctx, draft); err != nil {
		return nil, fmt.Errorf("persist draft: %w", err)
	}
	return draft, nil
}

// ConfirmDraft issues the certificate described by a draft of institutionID
// and deletes the draft. On any failure the draft is kept.
func (s *Service) ConfirmDraft(ctx context.Context, draftID uuid.UUID, institutionID uint) (*Result, error) {
	draft, err := s.store.DraftByID(ctx, draftID, institutionID)
	if err != nil {
		return nil, err
	}

	cert, err := s.prepare(IssueRequest{
		Institution:     draft.Institution,
		Student:         draft.Student,
		CertificateType: draft.CertificateType,
		Metadata:        json.RawMessage(draft.Metadata),
		IssuingUser:     draft.IssuingUser,
	})
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateCertificateFromDraft(ctx, cert, draft.ID); err != nil {
		return nil, fmt.Errorf("persist certificate from draft: %w", err)
	}
	return s.finish(ctx, cert), nil
}

// AuthorizeInstitution whitelists the institution's ledger address in the
// registry contract and records when that happened. Authorization happens
// once: an institution already recorded, or already whitelisted by the
// contract, gets a nil receipt and no transaction is sent.
func (s *Service) AuthorizeInstitution(ctx context.Context, inst *domain.Institution) (*ledger.Receipt, error) {
	if !s.opts.LedgerEnabled {
		return nil, ledger.ErrLedgerDisabled
	}
	if !common.IsHexAddress(inst.LedgerAddress) {
		return nil, domain.NewValidationError("ledger_address", "is not a valid address")
	}
	logger := log.WithFields(log.Fields{
		"institution": inst.UniqueIdentifier,
		"address":     inst.LedgerAddress,
	})
	if inst.LedgerAuthorizedAt != nil {
		logger.Debug("institution already authorized")
		return nil, nil
	}

	address := common.HexToAddress(inst.LedgerAddress)
	authorized, err := s.ledger.IsAuthorized(ctx, address)
	if err != nil {
		ledger.LogFailure("authorized lookup", err, log.Fields{"institution": inst.UniqueIdentifier})
		return nil, err
	}

	var receipt *ledger.Receipt
	if !authorized {
		receipt, err = s.ledger.AuthorizeInstitution(ctx, address)
		if err != nil {
			ledger.LogFailure("authorize", err, log.Fields{"institution": inst.UniqueIdentifier})
			return receipt, err
		}
	}

	now := time.Now().UTC()
	if err := s.store.MarkInstitutionAuthorized(ctx, inst.ID, now); err != nil {
		return receipt, err
	}
	inst.LedgerAuthorizedAt = &now

	if receipt == nil {
		logger.Info("institution was already whitelisted by the registry")
	} else {
		logger.Info("institution authorized on ledger")
	}
	return receipt, nil
}
