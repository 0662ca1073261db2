package store

import (
	"context"
	"fmt"

	"github.com/swissborg/academic-certs/internal/domain"
)

// Principal loads a key-holding actor by kind and unique identifier. The
// kind is decided by the caller, never guessed from which relation exists.
func (s *Store) Principal(ctx context.Context, kind domain.PrincipalKind, uid string) (domain.Principal, error) {
	p := domain.Principal{Kind: kind}
	var err error

	switch kind {
	case domain.PrincipalInstitution:
		p.Institution, err = s.InstitutionByUID(ctx, uid)
	case domain.PrincipalInstitutionUser:
		p.User, err = s.InstitutionUserByUID(ctx, uid)
	case domain.PrincipalStudent:
		p.Student, err = s.StudentByUID(ctx, uid)
	default:
		return domain.Principal{}, fmt.Errorf("unknown principal kind %q", kind)
	}
	if err != nil {
		return domain.Principal{}, err
	}
	return p, nil
}

// SaveSigningKeys persists the principal's current signing keys.
func (s *Store) SaveSigningKeys(ctx context.Context, p domain.Principal) error {
	pair := p.SigningKeys()
	switch p.Kind {
	case domain.PrincipalInstitution:
		return s.SetInstitutionSigningKeys(ctx, p.Institution.ID, pair)
	case domain.PrincipalInstitutionUser:
		return s.SetInstitutionUserSigningKeys(ctx, p.User.ID, pair)
	case domain.PrincipalStudent:
		return s.SetStudentSigningKeys(ctx, p.Student.ID, pair)
	}
	return fmt.Errorf("unknown principal kind %q", p.Kind)
}
