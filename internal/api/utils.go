package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/swissborg/academic-certs/internal/domain"
	"github.com/swissborg/academic-certs/internal/journal"
	"github.com/swissborg/academic-certs/internal/ledger"
	"github.com/swissborg/academic-certs/internal/store"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case domain.IsValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, journal.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrProtected):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrLedgerDisabled), errors.Is(err, ledger.ErrOwnerKeyMissing):
		return http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrLedgerUnavailable), errors.Is(err, ledger.ErrAnchorInconclusive):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// fail logs err and writes it as an ErrorResp tagged with the api error.
func fail(c echo.Context, err error, apiErr error) error {
	status := statusFor(err)
	entry := log.WithError(err).WithField("path", c.Path())
	if status >= http.StatusInternalServerError {
		entry.Error(apiErr)
	} else {
		entry.Warn(apiErr)
	}

	resp := ErrorResp{Error: fmt.Sprintf("%v: %v", apiErr, err)}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		resp.Fields = ve.Fields
	}
	return c.JSON(status, resp)
}

func parseDate(field, s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, domain.NewValidationError(field, "must be a date formatted %s", DateLayout)
	}
	return d, nil
}

func summarize(cert *domain.Certificate) CertificateSummary {
	out := CertificateSummary{
		CertificateHash:  cert.CertificateHash,
		CertificateType:  cert.CertificateType,
		SignedHash:       cert.SignedHash,
		SignedHashKeccak: cert.SignedHashKeccak,
		Metadata:         json.RawMessage(cert.Metadata),
		CreatedAt:        cert.CreatedAt,
	}
	if inst := cert.IssuingInstitution; inst != nil {
		out.InstitutionUID = inst.UniqueIdentifier
		out.InstitutionName = inst.FullName
	}
	if user := cert.IssuingUser; user != nil {
		out.IssuingUserUID = user.UniqueIdentifier
		out.IssuedBy = user.FullName
	}
	if student := cert.Student; student != nil {
		out.StudentUID = student.UniqueIdentifier
		out.StudentName = student.DisplayName()
	}
	return out
}

func summarizeAll(certs []domain.Certificate) []CertificateSummary {
	out := make([]CertificateSummary, 0, len(certs))
	for i := range certs {
		out = append(out, summarize(&certs[i]))
	}
	return out
}

// listFilter converts query parameters; To covers the whole day.
func listFilter(q ListCertificatesQuery) (store.CertificateFilter, error) {
	f := store.CertificateFilter{
		Type:   domain.CertificateType(q.Type),
		Search: q.Search,
		Limit:  q.Limit,
	}
	if q.From != "" {
		from, err := parseDate("from", q.From)
		if err != nil {
			return f, err
		}
		f.From = &from
	}
	if q.To != "" {
		to, err := parseDate("to", q.To)
		if err != nil {
			return f, err
		}
		end := to.Add(24*time.Hour - time.Nanosecond)
		f.To = &end
	}
	return f, nil
}
