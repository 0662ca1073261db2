// Package verification answers the three questions asked of a certificate
// hash: is it recorded, is its signature valid, is it anchored. Every tier
// degrades to false; none of them returns an error.
package verification

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/swissborg/academic-certs/internal/certhash"
	"github.com/swissborg/academic-certs/internal/domain"
	"github.com/swissborg/academic-certs/internal/ledger"
	"github.com/swissborg/academic-certs/internal/signer"
	"github.com/swissborg/academic-certs/internal/store"
)

type Store interface {
	CertificateByHash(ctx context.Context, hash string) (*domain.Certificate, error)
	CertificateExists(ctx context.Context, hash string) (bool, error)
}

type Options struct {
	LedgerEnabled bool
}

type Result struct {
	DB        bool `json:"db"`
	Signature bool `json:"signature"`
	OnChain   bool `json:"on_chain"`
}

type DBSignatureResult struct {
	DB        bool `json:"db"`
	Signature bool `json:"signature"`
}

type Service struct {
	store  Store
	ledger ledger.Gateway
	opts   Options
}

func NewService(store Store, gateway ledger.Gateway, opts Options) *Service {
	if gateway == nil || !opts.LedgerEnabled {
		gateway = ledger.Disabled{}
	}
	return &Service{store: store, ledger: gateway, opts: opts}
}

// Lookup returns the stored certificate, or nil when it is unknown or the
// datastore failed.
func (s *Service) Lookup(ctx context.Context, hash string) *domain.Certificate {
	cert, err := s.store.CertificateByHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.WithError(err).WithField("certificate", certhash.Short(hash)).Error("certificate lookup failed")
		}
		return nil
	}
	return cert
}

func (s *Service) Full(ctx context.Context, hash string) Result {
	cert := s.Lookup(ctx, hash)
	return s.Evaluate(ctx, cert)
}

// Evaluate runs all tiers against an already loaded certificate.
func (s *Service) Evaluate(ctx context.Context, cert *domain.Certificate) Result {
	if cert == nil {
		return Result{}
	}
	return Result{
		DB:        true,
		Signature: s.signatureValid(cert),
		OnChain:   s.anchored(ctx, cert),
	}
}

func (s *Service) DBSignature(ctx context.Context, hash string) DBSignatureResult {
	cert := s.Lookup(ctx, hash)
	if cert == nil {
		return DBSignatureResult{}
	}
	return DBSignatureResult{DB: true, Signature: s.signatureValid(cert)}
}

func (s *Service) OnChain(ctx context.Context, hash string) bool {
	cert := s.Lookup(ctx, hash)
	if cert == nil {
		return false
	}
	return s.anchored(ctx, cert)
}

// DB only counts rows; it does not load the certificate's parties.
func (s *Service) DB(ctx context.Context, hash string) bool {
	ok, err := s.store.CertificateExists(ctx, hash)
	if err != nil {
		log.WithError(err).WithField("certificate", certhash.Short(hash)).Error("certificate lookup failed")
		return false
	}
	return ok
}

// signatureValid checks the stored signature against the stored hash with
// the public key of whoever signed.
func (s *Service) signatureValid(cert *domain.Certificate) bool {
	pub, err := cert.SignerPublicKey()
	if err != nil {
		log.WithError(err).WithField("certificate", certhash.Short(cert.CertificateHash)).Warn("signer key unavailable")
		return false
	}
	return signer.VerifyPEM(cert.SignedHash, cert.CertificateHash, pub)
}

// anchored asks the ledger about the digest of the stored signature. A row
// whose recorded digest no longer matches its signature is never anchored.
func (s *Service) anchored(ctx context.Context, cert *domain.Certificate) bool {
	digest, err := signer.SignatureKeccak(cert.SignedHash)
	if err != nil || digest != cert.SignedHashKeccak {
		return false
	}

	ok, err := s.ledger.IsAnchored(ctx, digest)
	if err != nil {
		ledger.LogFailure("verify", err, log.Fields{"certificate": certhash.Short(cert.CertificateHash)})
		return false
	}
	return ok
}
