package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/swissborg/academic-certs/internal/identity"
	"github.com/swissborg/academic-certs/internal/keys"
)

const fullNameSeparator = " - "

type InstitutionInput struct {
	Name        string          `json:"name" validate:"required,max=200"`
	FullName    string          `json:"full_name" validate:"max=300"`
	Type        InstitutionType `json:"institution_type" validate:"required,insttype"`
	OwnerUserID string          `json:"owner_user_id" validate:"max=64"`
}

// NewInstitution builds a savable institution: full name, identifier, RSA
// keys and ledger account are all set before it is returned. parent may be nil.
func NewInstitution(in InstitutionInput, parent *Institution) (*Institution, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}

	fullName := in.FullName
	if fullName == "" {
		fullName = in.Name
	}
	parentUID := ""
	var parentID *uint
	if parent != nil {
		fullName = prefixed(parent.FullName, fullName)
		parentUID = parent.UniqueIdentifier
		id := parent.ID
		parentID = &id
	}

	inst := &Institution{
		Name:             in.Name,
		FullName:         fullName,
		Type:             in.Type,
		ParentID:         parentID,
		Parent:           parent,
		UniqueIdentifier: identity.Institution(in.Name, parentUID),
	}
	if in.OwnerUserID != "" {
		owner := in.OwnerUserID
		inst.OwnerUserID = &owner
	}

	signing := inst.SigningKeys()
	if _, err := keys.EnsureSigningKeyPair(&signing); err != nil {
		return nil, fmt.Errorf("institution signing keys: %w", err)
	}
	inst.PublicKey, inst.PrivateKey = signing.Public, signing.Private

	ledger := inst.LedgerAccount()
	if _, err := keys.EnsureLedgerAccount(&ledger); err != nil {
		return nil, fmt.Errorf("institution ledger account: %w", err)
	}
	inst.LedgerAddress, inst.LedgerPrivateKey = ledger.Address, ledger.PrivateKey

	return inst, nil
}

type InstitutionUserInput struct {
	Username string `json:"username" validate:"required,max=150"`
	FullName string `json:"full_name" validate:"max=300"`
}

func NewInstitutionUser(in InstitutionUserInput, institution *Institution) (*InstitutionUser, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}
	if institution == nil {
		return nil, NewValidationError("institution", "is required")
	}

	fullName := institution.FullName
	if in.FullName != "" {
		fullName = prefixed(institution.FullName, in.FullName)
	}

	user := &InstitutionUser{
		InstitutionID:    institution.ID,
		Institution:      institution,
		Username:         in.Username,
		FullName:         fullName,
		UniqueIdentifier: identity.Composite(institution.UniqueIdentifier, identity.User(in.Username)),
	}

	pair, err := keys.GenerateSigningKeyPair()
	if err != nil {
		return nil, fmt.Errorf("institution user signing keys: %w", err)
	}
	user.PublicKey, user.PrivateKey = pair.Public, pair.Private

	return user, nil
}

type StudentInput struct {
	Firstname   string    `json:"firstname" validate:"required,max=100"`
	Lastname    string    `json:"lastname" validate:"required,max=100"`
	IDPrefix    string    `json:"id_prefix" validate:"required,idprefix"`
	DateOfBirth time.Time `json:"date_of_birth" validate:"required,notfuture"`
}

func NewStudent(in StudentInput) (*Student, error) {
	in.Firstname = strings.TrimSpace(in.Firstname)
	in.Lastname = strings.TrimSpace(in.Lastname)
	if err := Validate(in); err != nil {
		return nil, err
	}

	dob := time.Date(in.DateOfBirth.Year(), in.DateOfBirth.Month(), in.DateOfBirth.Day(), 0, 0, 0, 0, time.UTC)
	student := &Student{
		Firstname:        in.Firstname,
		Lastname:         in.Lastname,
		IDPrefix:         in.IDPrefix,
		DateOfBirth:      dob,
		UniqueIdentifier: identity.Student(in.Lastname, in.Firstname, in.IDPrefix, dob),
	}

	pair, err := keys.GenerateSigningKeyPair()
	if err != nil {
		return nil, fmt.Errorf("student signing keys: %w", err)
	}
	student.PublicKey, student.PrivateKey = pair.Public, pair.Private

	return student, nil
}

type DraftInput struct {
	CertificateType CertificateType `json:"certificate_type" validate:"required"`
	Metadata        json.RawMessage `json:"metadata" validate:"required,jsondoc"`
}

// NewDraft validates the draft against the institution type's policy.
// issuingUser may be nil.
func NewDraft(in DraftInput, institution *Institution, student *Student, issuingUser *InstitutionUser) (*DraftCertificate, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}
	if institution == nil || student == nil {
		return nil, NewValidationError("draft", "institution and student are required")
	}
	if err := CheckCertificatePolicy(institution.Type, in.CertificateType); err != nil {
		return nil, err
	}

	draft := &DraftCertificate{
		ID:              uuid.New(),
		CertificateType: in.CertificateType,
		InstitutionID:   institution.ID,
		Institution:     institution,
		StudentID:       student.ID,
		Student:         student,
		Metadata:        datatypes.JSON(in.Metadata),
	}
	if issuingUser != nil {
		id := issuingUser.ID
		draft.IssuingUserID = &id
		draft.IssuingUser = issuingUser
	}
	return draft, nil
}

func prefixed(parentFullName, name string) string {
	if parentFullName == "" || strings.HasPrefix(name, parentFullName) {
		return name
	}
	return parentFullName + fullNameSeparator + name
}

// Hierarchy renders a root-first chain of institutions as "A / B / C".
func Hierarchy(chain []Institution) string {
	names := make([]string, 0, len(chain))
	for _, inst := range chain {
		names = append(names, inst.FullName)
	}
	return strings.Join(names, " / ")
}
