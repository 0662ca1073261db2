package domain

import (
	"fmt"
	"slices"
)

type CertificateType string

const (
	CertificateTypeCertificate     CertificateType = "certificate"
	CertificateTypeAcademicResults CertificateType = "academic_results"
	CertificateTypeAwards          CertificateType = "awards"
)

var CertificateTypes = []CertificateType{
	CertificateTypeCertificate,
	CertificateTypeAcademicResults,
	CertificateTypeAwards,
}

func (t CertificateType) Valid() bool {
	return slices.Contains(CertificateTypes, t)
}

type InstitutionType string

const (
	InstitutionTypeEducationBusiness InstitutionType = "education business"
	InstitutionTypePrimarySchool     InstitutionType = "primary school"
	InstitutionTypeSecondarySchool   InstitutionType = "secondary school"
	InstitutionTypeTertiaryLevel     InstitutionType = "tertiary level"
)

// allowedCertificateTypes is the authoritative issuing policy.
var allowedCertificateTypes = map[InstitutionType][]CertificateType{
	InstitutionTypePrimarySchool:     {CertificateTypeCertificate, CertificateTypeAcademicResults, CertificateTypeAwards},
	InstitutionTypeSecondarySchool:   {CertificateTypeCertificate, CertificateTypeAcademicResults, CertificateTypeAwards},
	InstitutionTypeTertiaryLevel:     {CertificateTypeCertificate, CertificateTypeAcademicResults, CertificateTypeAwards},
	InstitutionTypeEducationBusiness: {CertificateTypeCertificate, CertificateTypeAwards},
}

func (t InstitutionType) Valid() bool {
	_, ok := allowedCertificateTypes[t]
	return ok
}

// AllowedCertificateTypes returns a copy of the types t may issue.
func (t InstitutionType) AllowedCertificateTypes() []CertificateType {
	return slices.Clone(allowedCertificateTypes[t])
}

func (t InstitutionType) Allows(ct CertificateType) bool {
	return slices.Contains(allowedCertificateTypes[t], ct)
}

// CheckCertificatePolicy rejects certificate types the institution type may
// not issue, including types that do not exist at all. The error names both.
func CheckCertificatePolicy(it InstitutionType, ct CertificateType) error {
	if it.Allows(ct) {
		return nil
	}
	return &ValidationError{Fields: []FieldError{{
		Field:   "certificate_type",
		Message: fmt.Sprintf("institution type %q cannot issue %q certificates", it, ct),
	}}}
}

type PrincipalKind string

const (
	PrincipalInstitution     PrincipalKind = "institution"
	PrincipalInstitutionUser PrincipalKind = "institution_user"
	PrincipalStudent         PrincipalKind = "student"
)

func (k PrincipalKind) Valid() bool {
	switch k {
	case PrincipalInstitution, PrincipalInstitutionUser, PrincipalStudent:
		return true
	}
	return false
}
