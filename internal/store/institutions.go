package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/swissborg/academic-certs/internal/domain"
	"github.com/swissborg/academic-certs/internal/keys"
)

// maxHierarchyDepth guards against cycles in corrupted parent links.
const maxHierarchyDepth = 64

func (s *Store) CreateInstitution(ctx context.Context, inst *domain.Institution) error {
	err := s.db.WithContext(ctx).Omit(clause.Associations).Create(inst).Error
	return translate(err, "create institution")
}

func (s *Store) InstitutionByUID(ctx context.Context, uid string) (*domain.Institution, error) {
	var inst domain.Institution
	err := s.db.WithContext(ctx).Where("unique_identifier = ?", uid).First(&inst).Error
	if err != nil {
		return nil, translate(err, "institution "+uid)
	}
	return &inst, nil
}

func (s *Store) InstitutionByID(ctx context.Context, id uint) (*domain.Institution, error) {
	var inst domain.Institution
	if err := s.db.WithContext(ctx).First(&inst, id).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("institution #%d", id))
	}
	return &inst, nil
}

// InstitutionChain walks parent links from inst to the root and returns the
// chain root first, inst last.
func (s *Store) InstitutionChain(ctx context.Context, inst *domain.Institution) ([]domain.Institution, error) {
	chain := []domain.Institution{*inst}
	current := inst
	for current.ParentID != nil {
		if len(chain) >= maxHierarchyDepth {
			return nil, fmt.Errorf("institution %s: hierarchy deeper than %d", inst.UniqueIdentifier, maxHierarchyDepth)
		}
		parent, err := s.InstitutionByID(ctx, *current.ParentID)
		if err != nil {
			return nil, err
		}
		chain = append([]domain.Institution{*parent}, chain...)
		current = parent
	}
	return chain, nil
}

func (s *Store) Subsidiaries(ctx context.Context, inst *domain.Institution) ([]domain.Institution, error) {
	var subs []domain.Institution
	err := s.db.WithContext(ctx).Where("parent_id = ?", inst.ID).Order("name").Find(&subs).Error
	return subs, translate(err, "list subsidiaries")
}

func (s *Store) SetInstitutionSigningKeys(ctx context.Context, id uint, pair keys.SigningKeyPair) error {
	return s.updateKeys(ctx, &domain.Institution{}, id, pair)
}

func (s *Store) MarkInstitutionAuthorized(ctx context.Context, id uint, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&domain.Institution{}).
		Where("id = ?", id).
		Update("ledger_authorized_at", at).Error
	return translate(err, "mark institution authorized")
}

// DeleteInstitution removes an institution that never issued a certificate.
func (s *Store) DeleteInstitution(ctx context.Context, uid string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inst domain.Institution
		if err := tx.Where("unique_identifier = ?", uid).First(&inst).Error; err != nil {
			return translate(err, "institution "+uid)
		}
		if err := ensureUnreferenced(tx, "issuing_institution_id = ?", inst.ID); err != nil {
			return err
		}
		return translate(tx.Delete(&inst).Error, "delete institution")
	})
}

func (s *Store) CreateInstitutionUser(ctx context.Context, user *domain.InstitutionUser) error {
	err := s.db.WithContext(ctx).Omit(clause.Associations).Create(user).Error
	return translate(err, "create institution user")
}

// InstitutionUserByUID loads the user with its owning institution, which is
// what ledger delegation needs.
func (s *Store) InstitutionUserByUID(ctx context.Context, uid string) (*domain.InstitutionUser, error) {
	var user domain.InstitutionUser
	err := s.db.WithContext(ctx).Preload("Institution").Where("unique_identifier = ?", uid).First(&user).Error
	if err != nil {
		return nil, translate(err, "institution user "+uid)
	}
	return &user, nil
}

func (s *Store) InstitutionUsers(ctx context.Context, inst *domain.Institution) ([]domain.InstitutionUser, error) {
	var users []domain.InstitutionUser
	err := s.db.WithContext(ctx).Where("institution_id = ?", inst.ID).Order("username").Find(&users).Error
	return users, translate(err, "list institution users")
}

func (s *Store) SetInstitutionUserSigningKeys(ctx context.Context, id uint, pair keys.SigningKeyPair) error {
	return s.updateKeys(ctx, &domain.InstitutionUser{}, id, pair)
}

func (s *Store) DeleteInstitutionUser(ctx context.Context, uid string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user domain.InstitutionUser
		if err := tx.Where("unique_identifier = ?", uid).First(&user).Error; err != nil {
			return translate(err, "institution user "+uid)
		}
		if err := ensureUnreferenced(tx, "issuing_user_id = ?", user.ID); err != nil {
			return err
		}
		return translate(tx.Delete(&user).Error, "delete institution user")
	})
}

func (s *Store) updateKeys(ctx context.Context, model any, id uint, pair keys.SigningKeyPair) error {
	res := s.db.WithContext(ctx).Model(model).Where("id = ?", id).Updates(map[string]any{
		"public_key":  pair.Public,
		"private_key": pair.Private,
	})
	if res.Error != nil {
		return translate(res.Error, "update signing keys")
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update signing keys: %w", ErrNotFound)
	}
	return nil
}

func ensureUnreferenced(tx *gorm.DB, query string, id uint) error {
	var count int64
	if err := tx.Model(&domain.Certificate{}).Where(query, id).Count(&count).Error; err != nil {
		return translate(err, "count certificates")
	}
	if count > 0 {
		return fmt.Errorf("%d certificates: %w", count, ErrProtected)
	}
	return nil
}
