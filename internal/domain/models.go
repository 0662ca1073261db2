package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/swissborg/academic-certs/internal/keys"
)

var ErrDelegationUnresolved = errors.New("owning institution not loaded")

// Institution is a node in the institution tree. UniqueIdentifier never
// changes after creation; certificates reference it in their hash preimage.
type Institution struct {
	ID                 uint            `gorm:"primaryKey" json:"-"`
	OwnerUserID        *string         `gorm:"uniqueIndex;size:64" json:"owner_user_id,omitempty"`
	Name               string          `gorm:"size:200;not null" json:"name"`
	FullName           string          `gorm:"size:300" json:"full_name"`
	Type               InstitutionType `gorm:"size:50;not null" json:"institution_type"`
	ParentID           *uint           `gorm:"index" json:"-"`
	Parent             *Institution    `gorm:"foreignKey:ParentID;constraint:OnDelete:SET NULL" json:"-"`
	UniqueIdentifier   string          `gorm:"uniqueIndex;size:255;not null" json:"unique_identifier"`
	PublicKey          string          `gorm:"type:text" json:"public_key"`
	PrivateKey         string          `gorm:"type:text" json:"-"`
	LedgerAddress      string          `gorm:"uniqueIndex;size:42;not null" json:"ledger_address"`
	LedgerPrivateKey   string          `gorm:"size:66" json:"-"`
	LedgerAuthorizedAt *time.Time      `json:"ledger_authorized_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

func (i *Institution) SigningKeys() keys.SigningKeyPair {
	return keys.SigningKeyPair{Public: i.PublicKey, Private: i.PrivateKey}
}

func (i *Institution) LedgerAccount() keys.LedgerAccount {
	return keys.LedgerAccount{Address: i.LedgerAddress, PrivateKey: i.LedgerPrivateKey}
}

// InstitutionUser is a departmental actor. It signs with its own RSA key but
// has no ledger identity; anchoring always uses the owning institution.
type InstitutionUser struct {
	ID               uint         `gorm:"primaryKey" json:"-"`
	InstitutionID    uint         `gorm:"not null;index" json:"-"`
	Institution      *Institution `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Username         string       `gorm:"uniqueIndex;size:150;not null" json:"username"`
	FullName         string       `gorm:"size:300" json:"full_name"`
	PublicKey        string       `gorm:"type:text" json:"public_key"`
	PrivateKey       string       `gorm:"type:text" json:"-"`
	UniqueIdentifier string       `gorm:"uniqueIndex;size:300;not null" json:"unique_identifier"`
	CreatedAt        time.Time    `json:"created_at"`
}

func (u *InstitutionUser) SigningKeys() keys.SigningKeyPair {
	return keys.SigningKeyPair{Public: u.PublicKey, Private: u.PrivateKey}
}

func (u *InstitutionUser) LedgerAccount() (keys.LedgerAccount, error) {
	if u.Institution == nil {
		return keys.LedgerAccount{}, ErrDelegationUnresolved
	}
	return u.Institution.LedgerAccount(), nil
}

type Student struct {
	ID               uint      `gorm:"primaryKey" json:"-"`
	Firstname        string    `gorm:"size:100;not null" json:"firstname"`
	Lastname         string    `gorm:"size:100;not null" json:"lastname"`
	IDPrefix         string    `gorm:"size:4;not null" json:"id_prefix"`
	DateOfBirth      time.Time `gorm:"not null" json:"date_of_birth"`
	UniqueIdentifier string    `gorm:"uniqueIndex;size:64;not null" json:"unique_identifier"`
	PublicKey        string    `gorm:"type:text" json:"public_key"`
	PrivateKey       string    `gorm:"type:text" json:"-"`
	CreatedAt        time.Time `json:"created_at"`
}

func (s *Student) SigningKeys() keys.SigningKeyPair {
	return keys.SigningKeyPair{Public: s.PublicKey, Private: s.PrivateKey}
}

func (s *Student) DisplayName() string {
	return strings.TrimSpace(s.Firstname + " " + s.Lastname)
}

// Certificate rows are written once by issuance and never updated.
type Certificate struct {
	ID                   uint             `gorm:"primaryKey" json:"-"`
	CertificateHash      string           `gorm:"uniqueIndex;size:66;not null" json:"certificate_hash"`
	CertificateType      CertificateType  `gorm:"size:20;not null" json:"certificate_type"`
	SignedHash           string           `gorm:"size:1024;not null" json:"signed_hash"`
	SignedHashKeccak     string           `gorm:"uniqueIndex;size:66;not null" json:"signed_hash_keccak"`
	IssuingInstitutionID uint             `gorm:"not null;index" json:"-"`
	IssuingInstitution   *Institution     `gorm:"constraint:OnDelete:RESTRICT" json:"issuing_institution,omitempty"`
	IssuingUserID        *uint            `gorm:"index" json:"-"`
	IssuingUser          *InstitutionUser `gorm:"constraint:OnDelete:RESTRICT" json:"issuing_user,omitempty"`
	StudentID            uint             `gorm:"not null;index" json:"-"`
	Student              *Student         `gorm:"constraint:OnDelete:RESTRICT" json:"student,omitempty"`
	Metadata             datatypes.JSON   `gorm:"not null" json:"metadata"`
	CreatedAt            time.Time        `json:"created_at"`
}

// SignerPublicKey is the PEM public key of whoever signed: the issuing user
// when present, otherwise the institution. Associations must be loaded.
func (c *Certificate) SignerPublicKey() (string, error) {
	if c.IssuingUserID != nil {
		if c.IssuingUser == nil {
			return "", ErrDelegationUnresolved
		}
		return c.IssuingUser.PublicKey, nil
	}
	if c.IssuingInstitution == nil {
		return "", ErrDelegationUnresolved
	}
	return c.IssuingInstitution.PublicKey, nil
}

// DraftCertificate is an unsigned staging record consumed by confirmation.
type DraftCertificate struct {
	ID              uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	CertificateType CertificateType  `gorm:"size:20;not null" json:"certificate_type"`
	InstitutionID   uint             `gorm:"not null;index" json:"-"`
	Institution     *Institution     `gorm:"constraint:OnDelete:CASCADE" json:"issuing_institution,omitempty"`
	StudentID       uint             `gorm:"not null;index" json:"-"`
	Student         *Student         `gorm:"constraint:OnDelete:CASCADE" json:"student,omitempty"`
	IssuingUserID   *uint            `gorm:"index" json:"-"`
	IssuingUser     *InstitutionUser `gorm:"constraint:OnDelete:SET NULL" json:"issuing_user,omitempty"`
	Metadata        datatypes.JSON   `gorm:"not null" json:"metadata"`
	CreatedAt       time.Time        `json:"created_at"`
}

// Principal is any key-holding actor, tagged with its kind when loaded.
type Principal struct {
	Kind        PrincipalKind
	Institution *Institution
	User        *InstitutionUser
	Student     *Student
}

func (p Principal) UniqueIdentifier() string {
	switch p.Kind {
	case PrincipalInstitution:
		return p.Institution.UniqueIdentifier
	case PrincipalInstitutionUser:
		return p.User.UniqueIdentifier
	case PrincipalStudent:
		return p.Student.UniqueIdentifier
	}
	return ""
}

func (p Principal) SigningKeys() keys.SigningKeyPair {
	switch p.Kind {
	case PrincipalInstitution:
		return p.Institution.SigningKeys()
	case PrincipalInstitutionUser:
		return p.User.SigningKeys()
	case PrincipalStudent:
		return p.Student.SigningKeys()
	}
	return keys.SigningKeyPair{}
}

// SetSigningKeys replaces the principal's signing keys in memory.
func (p Principal) SetSigningKeys(pair keys.SigningKeyPair) {
	switch p.Kind {
	case PrincipalInstitution:
		p.Institution.PublicKey, p.Institution.PrivateKey = pair.Public, pair.Private
	case PrincipalInstitutionUser:
		p.User.PublicKey, p.User.PrivateKey = pair.Public, pair.Private
	case PrincipalStudent:
		p.Student.PublicKey, p.Student.PrivateKey = pair.Public, pair.Private
	}
}
