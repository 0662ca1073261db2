package api

import (
	"encoding/json"
	"time"

	"github.com/swissborg/academic-certs/internal/domain"
	"github.com/swissborg/academic-certs/internal/journal"
	"github.com/swissborg/academic-certs/internal/verification"
)

// DateLayout is the wire format of dates in requests and list filters.
const DateLayout = time.DateOnly

type ErrorResp struct {
	Error  string              `json:"error"`
	Fields []domain.FieldError `json:"fields,omitempty"`
}

type VerifyRequest struct {
	CertificateHash string `json:"certificate_hash" query:"hash" validate:"required,len=66,hexadecimal"`
}

type ChainVerifyResponse struct {
	ChainVerified bool `json:"chain_verified"`
}

type DBVerifyResponse struct {
	DBVerified bool `json:"db_verified"`
}

type PublicVerifyResponse struct {
	Certificate CertificateSummary `json:"certificate"`
	verification.Result
}

type CertificateSummary struct {
	CertificateHash  string                 `json:"certificate_hash"`
	CertificateType  domain.CertificateType `json:"certificate_type"`
	SignedHash       string                 `json:"signed_hash"`
	SignedHashKeccak string                 `json:"signed_hash_keccak"`
	InstitutionUID   string                 `json:"institution_unique_identifier"`
	InstitutionName  string                 `json:"institution_name"`
	IssuingUserUID   string                 `json:"issuing_user_unique_identifier,omitempty"`
	IssuedBy         string                 `json:"issued_by,omitempty"`
	StudentUID       string                 `json:"student_unique_identifier"`
	StudentName      string                 `json:"student_name"`
	Metadata         json.RawMessage        `json:"metadata"`
	CreatedAt        time.Time              `json:"created_at"`
}

type CreateInstitutionRequest struct {
	domain.InstitutionInput
	ParentUID string `json:"parent_unique_identifier"`
}

type InstitutionResponse struct {
	*domain.Institution
	Hierarchy    string                   `json:"hierarchy"`
	RootFullName string                   `json:"root_full_name"`
	Subsidiaries []string                 `json:"subsidiaries"`
	Users        []domain.InstitutionUser `json:"users"`
}

type CreateStudentRequest struct {
	Firstname   string `json:"firstname"`
	Lastname    string `json:"lastname"`
	IDPrefix    string `json:"id_prefix"`
	DateOfBirth string `json:"date_of_birth" validate:"required,datetime=2006-01-02"`
}

type AuthorizeResponse struct {
	LedgerAddress      string     `json:"ledger_address"`
	TxHash             string     `json:"tx_hash,omitempty"`
	LedgerAuthorizedAt *time.Time `json:"ledger_authorized_at,omitempty"`
}

type RotateKeysResponse struct {
	Kind             domain.PrincipalKind `json:"kind"`
	UniqueIdentifier string               `json:"unique_identifier"`
	PublicKey        string               `json:"public_key"`
}

// IssueRequest is used both for direct issuance and for drafts.
type IssueRequest struct {
	InstitutionUID  string                 `json:"institution_unique_identifier" validate:"required"`
	StudentUID      string                 `json:"student_unique_identifier" validate:"required"`
	IssuingUserUID  string                 `json:"issuing_user_unique_identifier"`
	CertificateType domain.CertificateType `json:"certificate_type" validate:"required"`
	Metadata        json.RawMessage        `json:"metadata" validate:"required,jsondoc"`
}

type IssueResponse struct {
	Certificate CertificateSummary `json:"certificate"`
	Anchor      journal.Record     `json:"anchor"`
}

type ConfirmDraftRequest struct {
	InstitutionUID string `json:"institution_unique_identifier" validate:"required"`
}

type ListCertificatesQuery struct {
	Type   string `query:"type" validate:"omitempty,certtype"`
	From   string `query:"from" validate:"omitempty,datetime=2006-01-02"`
	To     string `query:"to" validate:"omitempty,datetime=2006-01-02"`
	Search string `query:"search" validate:"max=100"`
	Limit  int    `query:"limit" validate:"gte=0,lte=1000"`
}

type ListCertificatesResponse struct {
	Certificates []CertificateSummary `json:"certificates"`
}

type ListDraftsResponse struct {
	Drafts []domain.DraftCertificate `json:"drafts"`
}

type HealthResponse struct {
	Database string `json:"database"`
	Ledger   string `json:"ledger"`
}
