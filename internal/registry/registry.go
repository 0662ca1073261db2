// Package registry registers the key-holding principals (institutions, their
// users and students) and manages their signing keys.
package registry

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/swissborg/academic-certs/internal/domain"
	"github.com/swissborg/academic-certs/internal/keys"
	"github.com/swissborg/academic-certs/internal/store"
)

type Service struct {
	store *store.Store
}

func NewService(s *store.Store) *Service {
	return &Service{store: s}
}

// RegisterInstitution creates an institution, under the institution
// identified by parentUID when it is not empty.
func (s *Service) RegisterInstitution(ctx context.Context, in domain.InstitutionInput, parentUID string) (*domain.Institution, error) {
	var parent *domain.Institution
	if parentUID != "" {
		p, err := s.store.InstitutionByUID(ctx, parentUID)
		if err != nil {
			return nil, fmt.Errorf("load parent institution: %w", err)
		}
		parent = p
	}

	inst, err := domain.NewInstitution(in, parent)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateInstitution(ctx, inst); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"institution": inst.UniqueIdentifier,
		"address":     inst.LedgerAddress,
	}).Info("institution registered")
	return inst, nil
}

func (s *Service) RegisterInstitutionUser(ctx context.Context, institutionUID string, in domain.InstitutionUserInput) (*domain.InstitutionUser, error) {
	inst, err := s.store.InstitutionByUID(ctx, institutionUID)
	if err != nil {
		return nil, err
	}

	user, err := domain.NewInstitutionUser(in, inst)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateInstitutionUser(ctx, user); err != nil {
		return nil, err
	}

	log.WithField("user", user.UniqueIdentifier).Info("institution user registered")
	return user, nil
}

// RegisterStudent fails with store.ErrConflict when a student with identical
// personal data already exists.
func (s *Service) RegisterStudent(ctx context.Context, in domain.StudentInput) (*domain.Student, error) {
	student, err := domain.NewStudent(in)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateStudent(ctx, student); err != nil {
		return nil, err
	}

	log.WithField("student", student.UniqueIdentifier).Info("student registered")
	return student, nil
}

type InstitutionView struct {
	Institution  *domain.Institution
	Hierarchy    string
	RootFullName string
	Subsidiaries []domain.Institution
	Users        []domain.InstitutionUser
}

func (s *Service) Institution(ctx context.Context, uid string) (*InstitutionView, error) {
	inst, err := s.store.InstitutionByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	chain, err := s.store.InstitutionChain(ctx, inst)
	if err != nil {
		return nil, err
	}
	subs, err := s.store.Subsidiaries(ctx, inst)
	if err != nil {
		return nil, err
	}
	users, err := s.store.InstitutionUsers(ctx, inst)
	if err != nil {
		return nil, err
	}

	return &InstitutionView{
		Institution:  inst,
		Hierarchy:    domain.Hierarchy(chain),
		RootFullName: chain[0].FullName,
		Subsidiaries: subs,
		Users:        users,
	}, nil
}

func (s *Service) LoadPrincipal(ctx context.Context, kind domain.PrincipalKind, uid string) (domain.Principal, error) {
	if !kind.Valid() {
		return domain.Principal{}, domain.NewValidationError("kind", "unknown principal kind %q", kind)
	}
	return s.store.Principal(ctx, kind, uid)
}

// RegenerateSigningKeyPair replaces the principal's RSA keys. Certificates
// signed under the old key fail the signature tier afterwards.
func (s *Service) RegenerateSigningKeyPair(ctx context.Context, kind domain.PrincipalKind, uid string) (domain.Principal, error) {
	p, err := s.LoadPrincipal(ctx, kind, uid)
	if err != nil {
		return domain.Principal{}, err
	}

	pair, err := keys.GenerateSigningKeyPair()
	if err != nil {
		return domain.Principal{}, err
	}
	p.SetSigningKeys(pair)
	if err := s.store.SaveSigningKeys(ctx, p); err != nil {
		return domain.Principal{}, err
	}

	log.WithFields(log.Fields{
		"kind":      kind,
		"principal": uid,
	}).Warn("signing keys regenerated")
	return p, nil
}

// DeletePrincipal removes a principal that is not referenced by any issued
// certificate; otherwise it fails with store.ErrProtected. Drafts of the
// principal go with it.
func (s *Service) DeletePrincipal(ctx context.Context, kind domain.PrincipalKind, uid string) error {
	var err error
	switch kind {
	case domain.PrincipalInstitution:
		err = s.store.DeleteInstitution(ctx, uid)
	case domain.PrincipalInstitutionUser:
		err = s.store.DeleteInstitutionUser(ctx, uid)
	case domain.PrincipalStudent:
		err = s.store.DeleteStudent(ctx, uid)
	default:
		return domain.NewValidationError("kind", "unknown principal kind %q", kind)
	}
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"kind":      kind,
		"principal": uid,
	}).Warn("principal deleted")
	return nil
}
