package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swissborg/academic-certs/internal/identity"
	"github.com/swissborg/academic-certs/internal/keys"
)

func TestCertificatePolicy(t *testing.T) {
	tests := []struct {
		inst  InstitutionType
		cert  CertificateType
		allow bool
	}{
		{InstitutionTypePrimarySchool, CertificateTypeAcademicResults, true},
		{InstitutionTypeSecondarySchool, CertificateTypeAwards, true},
		{InstitutionTypeTertiaryLevel, CertificateTypeCertificate, true},
		{InstitutionTypeEducationBusiness, CertificateTypeCertificate, true},
		{InstitutionTypeEducationBusiness, CertificateTypeAwards, true},
		{InstitutionTypeEducationBusiness, CertificateTypeAcademicResults, false},
		{InstitutionTypeTertiaryLevel, "diploma", false},
		{"kindergarten", CertificateTypeCertificate, false},
	}

	for _, tt := range tests {
		err := CheckCertificatePolicy(tt.inst, tt.cert)
		if tt.allow {
			assert.NoError(t, err, "%s / %s", tt.inst, tt.cert)
			continue
		}
		require.Error(t, err, "%s / %s", tt.inst, tt.cert)
		assert.True(t, IsValidationError(err))
		assert.Contains(t, err.Error(), string(tt.inst))
		assert.Contains(t, err.Error(), string(tt.cert))
	}
}

func TestAllowedCertificateTypesIsACopy(t *testing.T) {
	types := InstitutionTypeEducationBusiness.AllowedCertificateTypes()
	require.Len(t, types, 2)
	types[0] = CertificateTypeAcademicResults
	assert.False(t, InstitutionTypeEducationBusiness.Allows(CertificateTypeAcademicResults))
}

func TestNewInstitution(t *testing.T) {
	root, err := NewInstitution(InstitutionInput{
		Name:     "HKU",
		FullName: "The University of Hong Kong",
		Type:     InstitutionTypeTertiaryLevel,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, identity.Institution("HKU", ""), root.UniqueIdentifier)
	assert.Nil(t, root.ParentID)
	assert.False(t, root.SigningKeys().Empty())
	assert.False(t, root.LedgerAccount().Empty())
	_, err = keys.ParseLedgerKey(root.LedgerPrivateKey)
	require.NoError(t, err)

	root.ID = 7
	faculty, err := NewInstitution(InstitutionInput{Name: "Engineering", Type: InstitutionTypeTertiaryLevel}, root)
	require.NoError(t, err)
	assert.Equal(t, "The University of Hong Kong - Engineering", faculty.FullName)
	assert.Equal(t, root.UniqueIdentifier+identity.Separator+identity.Derive("Engineering"), faculty.UniqueIdentifier)
	require.NotNil(t, faculty.ParentID)
	assert.Equal(t, uint(7), *faculty.ParentID)
	assert.NotEqual(t, root.LedgerAddress, faculty.LedgerAddress)

	already, err := NewInstitution(InstitutionInput{
		Name:     "Medicine",
		FullName: "The University of Hong Kong - Medicine",
		Type:     InstitutionTypeTertiaryLevel,
	}, root)
	require.NoError(t, err)
	assert.Equal(t, "The University of Hong Kong - Medicine", already.FullName)
}

func TestNewInstitutionValidation(t *testing.T) {
	_, err := NewInstitution(InstitutionInput{Type: "castle"}, nil)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)

	fields := map[string]bool{}
	for _, f := range ve.Fields {
		fields[f.Field] = true
	}
	assert.True(t, fields["name"])
	assert.True(t, fields["institution_type"])
}

func TestNewInstitutionUser(t *testing.T) {
	inst, err := NewInstitution(InstitutionInput{Name: "HKU", FullName: "The University of Hong Kong", Type: InstitutionTypeTertiaryLevel}, nil)
	require.NoError(t, err)
	inst.ID = 3

	user, err := NewInstitutionUser(InstitutionUserInput{Username: "registrar", FullName: "Registry"}, inst)
	require.NoError(t, err)
	assert.Equal(t, uint(3), user.InstitutionID)
	assert.Equal(t, "The University of Hong Kong - Registry", user.FullName)
	assert.Equal(t, []string{inst.UniqueIdentifier, identity.User("registrar")}, identity.Levels(user.UniqueIdentifier))
	assert.NotEqual(t, inst.PublicKey, user.PublicKey)

	account, err := user.LedgerAccount()
	require.NoError(t, err)
	assert.Equal(t, inst.LedgerAddress, account.Address)

	user.Institution = nil
	_, err = user.LedgerAccount()
	assert.ErrorIs(t, err, ErrDelegationUnresolved)

	bare, err := NewInstitutionUser(InstitutionUserInput{Username: "clerk"}, inst)
	require.NoError(t, err)
	assert.Equal(t, inst.FullName, bare.FullName)

	_, err = NewInstitutionUser(InstitutionUserInput{Username: "clerk"}, nil)
	assert.True(t, IsValidationError(err))
}

func TestNewStudent(t *testing.T) {
	dob := time.Date(2003, 5, 17, 15, 4, 5, 0, time.FixedZone("HKT", 8*3600))

	student, err := NewStudent(StudentInput{Firstname: "  Tai Man ", Lastname: "Chan", IDPrefix: "Y123", DateOfBirth: dob})
	require.NoError(t, err)
	assert.Equal(t, "Tai Man", student.Firstname)
	assert.Equal(t, "Tai Man Chan", student.DisplayName())
	assert.Equal(t, time.Date(2003, 5, 17, 0, 0, 0, 0, time.UTC), student.DateOfBirth)
	assert.Equal(t, identity.Student("Chan", "Tai Man", "Y123", dob), student.UniqueIdentifier)
	assert.False(t, student.SigningKeys().Empty())
}

func TestNewStudentValidation(t *testing.T) {
	valid := StudentInput{Firstname: "Tai Man", Lastname: "Chan", IDPrefix: "Y123", DateOfBirth: time.Date(2003, 5, 17, 0, 0, 0, 0, time.UTC)}

	tests := []struct {
		name  string
		edit  func(*StudentInput)
		field string
	}{
		{"blank firstname", func(in *StudentInput) { in.Firstname = "   " }, "firstname"},
		{"long lastname", func(in *StudentInput) { in.Lastname = strings.Repeat("x", 101) }, "lastname"},
		{"digit prefix", func(in *StudentInput) { in.IDPrefix = "1234" }, "id_prefix"},
		{"short prefix", func(in *StudentInput) { in.IDPrefix = "Y12" }, "id_prefix"},
		{"future birth", func(in *StudentInput) { in.DateOfBirth = time.Now().Add(48 * time.Hour) }, "date_of_birth"},
		{"missing birth", func(in *StudentInput) { in.DateOfBirth = time.Time{} }, "date_of_birth"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.edit(&in)

			_, err := NewStudent(in)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			require.NotEmpty(t, ve.Fields)
			assert.Equal(t, tt.field, ve.Fields[0].Field)
		})
	}
}

func TestNewDraft(t *testing.T) {
	inst, err := NewInstitution(InstitutionInput{Name: "Academy", Type: InstitutionTypeEducationBusiness}, nil)
	require.NoError(t, err)
	student, err := NewStudent(StudentInput{Firstname: "Ka Yan", Lastname: "Wong", IDPrefix: "A001", DateOfBirth: time.Date(2001, 1, 2, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)

	draft, err := NewDraft(DraftInput{CertificateType: CertificateTypeAwards, Metadata: json.RawMessage(`{"award":"best"}`)}, inst, student, nil)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, draft.ID)
	assert.Nil(t, draft.IssuingUserID)

	_, err = NewDraft(DraftInput{CertificateType: CertificateTypeAcademicResults, Metadata: json.RawMessage(`{}`)}, inst, student, nil)
	assert.True(t, IsValidationError(err))

	_, err = NewDraft(DraftInput{CertificateType: CertificateTypeAwards, Metadata: json.RawMessage(`{"award":`)}, inst, student, nil)
	assert.True(t, IsValidationError(err))

	_, err = NewDraft(DraftInput{CertificateType: CertificateTypeAwards, Metadata: json.RawMessage(`{}`)}, inst, nil, nil)
	assert.True(t, IsValidationError(err))
}

func TestHierarchy(t *testing.T) {
	chain := []Institution{{FullName: "A"}, {FullName: "A - B"}, {FullName: "A - B - C"}}
	assert.Equal(t, "A / A - B / A - B - C", Hierarchy(chain))
	assert.Equal(t, "", Hierarchy(nil))
}

func TestSignerPublicKey(t *testing.T) {
	inst := &Institution{PublicKey: "institution-key"}
	user := &InstitutionUser{PublicKey: "user-key"}

	cert := &Certificate{IssuingInstitution: inst}
	key, err := cert.SignerPublicKey()
	require.NoError(t, err)
	assert.Equal(t, "institution-key", key)

	userID := uint(4)
	cert.IssuingUserID = &userID
	_, err = cert.SignerPublicKey()
	assert.ErrorIs(t, err, ErrDelegationUnresolved)

	cert.IssuingUser = user
	key, err = cert.SignerPublicKey()
	require.NoError(t, err)
	assert.Equal(t, "user-key", key)
}

func TestPrincipal(t *testing.T) {
	student := &Student{UniqueIdentifier: "s1"}
	p := Principal{Kind: PrincipalStudent, Student: student}
	assert.Equal(t, "s1", p.UniqueIdentifier())

	p.SetSigningKeys(keys.SigningKeyPair{Public: "pub", Private: "priv"})
	assert.Equal(t, "pub", student.PublicKey)
	assert.Equal(t, keys.SigningKeyPair{Public: "pub", Private: "priv"}, p.SigningKeys())

	assert.False(t, PrincipalKind("admin").Valid())
	assert.Equal(t, "", Principal{Kind: "admin"}.UniqueIdentifier())
}
