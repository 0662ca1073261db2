package store

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/swissborg/academic-certs/internal/domain"
	"github.com/swissborg/academic-certs/internal/keys"
)

// CreateStudent fails with ErrConflict when the derived identifier is taken,
// which is how identical personal data surfaces.
func (s *Store) CreateStudent(ctx context.Context, student *domain.Student) error {
	err := s.db.WithContext(ctx).Omit(clause.Associations).Create(student).Error
	return translate(err, "create student")
}

func (s *Store) StudentByUID(ctx context.Context, uid string) (*domain.Student, error) {
	var student domain.Student
	err := s.db.WithContext(ctx).Where("unique_identifier = ?", uid).First(&student).Error
	if err != nil {
		return nil, translate(err, "student "+uid)
	}
	return &student, nil
}

func (s *Store) SetStudentSigningKeys(ctx context.Context, id uint, pair keys.SigningKeyPair) error {
	return s.updateKeys(ctx, &domain.Student{}, id, pair)
}

func (s *Store) DeleteStudent(ctx context.Context, uid string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var student domain.Student
		if err := tx.Where("unique_identifier = ?", uid).First(&student).Error; err != nil {
			return translate(err, "student "+uid)
		}
		if err := ensureUnreferenced(tx, "student_id = ?", student.ID); err != nil {
			return err
		}
		return translate(tx.Delete(&student).Error, "delete student")
	})
}
