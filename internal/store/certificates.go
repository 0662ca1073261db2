package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/swissborg/academic-certs/internal/domain"
)

const defaultListLimit = 200

// CreateCertificate inserts a certificate. A duplicate certificate hash or
// signature digest yields ErrConflict.
func (s *Store) CreateCertificate(ctx context.Context, cert *domain.Certificate) error {
	err := s.db.WithContext(ctx).Omit(clause.Associations).Create(cert).Error
	return translate(err, "create certificate")
}

// CreateCertificateFromDraft inserts the certificate and deletes the draft in
// one transaction. If the insert fails the draft is untouched.
func (s *Store) CreateCertificateFromDraft(ctx context.Context, cert *domain.Certificate, draftID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(cert).Error; err != nil {
			return translate(err, "create certificate")
		}
		res := tx.Delete(&domain.DraftCertificate{}, "id = ?", draftID)
		if res.Error != nil {
			return translate(res.Error, "delete draft")
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("draft %s: %w", draftID, ErrNotFound)
		}
		return nil
	})
}

func (s *Store) preloadCertificate(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Preload("IssuingInstitution").
		Preload("IssuingUser").
		Preload("Student")
}

// CertificateByHash loads a certificate with issuer, issuing user and student.
func (s *Store) CertificateByHash(ctx context.Context, hash string) (*domain.Certificate, error) {
	var cert domain.Certificate
	err := s.preloadCertificate(ctx).Where("certificate_hash = ?", hash).First(&cert).Error
	if err != nil {
		return nil, translate(err, "certificate "+hash)
	}
	return &cert, nil
}

func (s *Store) CertificateBySignatureKeccak(ctx context.Context, keccak string) (*domain.Certificate, error) {
	var cert domain.Certificate
	err := s.preloadCertificate(ctx).Where("signed_hash_keccak = ?", keccak).First(&cert).Error
	if err != nil {
		return nil, translate(err, "certificate with signature digest "+keccak)
	}
	return &cert, nil
}

func (s *Store) CertificateExists(ctx context.Context, hash string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.Certificate{}).Where("certificate_hash = ?", hash).Count(&count).Error
	if err != nil {
		return false, translate(err, "count certificates")
	}
	return count > 0, nil
}

type CertificateFilter struct {
	InstitutionID uint
	StudentID     uint
	Type          domain.CertificateType
	From          *time.Time
	To            *time.Time
	// Search matches student first name, last name or identifier, case-insensitively.
	Search string
	Limit  int
}

// ListCertificates returns matching certificates, newest first.
func (s *Store) ListCertificates(ctx context.Context, f CertificateFilter) ([]domain.Certificate, error) {
	q := s.preloadCertificate(ctx).Model(&domain.Certificate{})

	if f.InstitutionID != 0 {
		q = q.Where("certificates.issuing_institution_id = ?", f.InstitutionID)
	}
	if f.StudentID != 0 {
		q = q.Where("certificates.student_id = ?", f.StudentID)
	}
	if f.Type != "" {
		q = q.Where("certificates.certificate_type = ?", f.Type)
	}
	if f.From != nil {
		q = q.Where("certificates.created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("certificates.created_at <= ?", *f.To)
	}
	if search := strings.ToLower(strings.TrimSpace(f.Search)); search != "" {
		like := "%" + search + "%"
		q = q.Joins("JOIN students ON students.id = certificates.student_id").
			Where("LOWER(students.firstname) LIKE ? OR LOWER(students.lastname) LIKE ? OR LOWER(students.unique_identifier) LIKE ?",
				like, like, like)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var certs []domain.Certificate
	err := q.Order("certificates.created_at DESC").Limit(limit).Find(&certs).Error
	return certs, translate(err, "list certificates")
}

func (s *Store) CreateDraft(ctx context.Context, draft *domain.DraftCertificate) error {
	err := s.db.WithContext(ctx).Omit(clause.Associations).Create(draft).Error
	return translate(err, "create draft")
}

// DraftByID loads a draft of the given institution with its associations.
// institutionID 0 skips the ownership check.
func (s *Store) DraftByID(ctx context.Context, id uuid.UUID, institutionID uint) (*domain.DraftCertificate, error) {
	q := s.db.WithContext(ctx).
		Preload("Institution").
		Preload("Student").
		Preload("IssuingUser.Institution").
		Where("id = ?", id)
	if institutionID != 0 {
		q = q.Where("institution_id = ?", institutionID)
	}

	var draft domain.DraftCertificate
	if err := q.First(&draft).Error; err != nil {
		return nil, translate(err, "draft "+id.String())
	}
	return &draft, nil
}

func (s *Store) DraftsForInstitution(ctx context.Context, institutionID uint) ([]domain.DraftCertificate, error) {
	var drafts []domain.DraftCertificate
	err := s.db.WithContext(ctx).Preload("Student").
		Where("institution_id = ?", institutionID).
		Order("created_at DESC").
		Find(&drafts).Error
	return drafts, translate(err, "list drafts")
}

func (s *Store) DeleteDraft(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Delete(&domain.DraftCertificate{}, "id = ?", id)
	if res.Error != nil {
		return translate(res.Error, "delete draft")
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("draft %s: %w", id, ErrNotFound)
	}
	return nil
}
