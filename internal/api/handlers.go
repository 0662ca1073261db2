package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/swissborg/academic-certs/internal/certhash"
	"github.com/swissborg/academic-certs/internal/domain"
	"github.com/swissborg/academic-certs/internal/issuance"
	"github.com/swissborg/academic-certs/internal/journal"
	"github.com/swissborg/academic-certs/internal/registry"
	"github.com/swissborg/academic-certs/internal/store"
	"github.com/swissborg/academic-certs/internal/verification"
)

// ConnectionChecker is satisfied by ledger.EthGateway.
type ConnectionChecker interface {
	CheckConnection(ctx context.Context) error
}

type Handlers struct {
	store    *store.Store
	journal  *journal.Journal
	registry *registry.Service
	issuer   *issuance.Service
	verifier *verification.Service
	chain    ConnectionChecker
}

func NewHandlers(deps Deps) *Handlers {
	return &Handlers{
		store:    deps.Store,
		journal:  deps.Journal,
		registry: deps.Registry,
		issuer:   deps.Issuer,
		verifier: deps.Verifier,
		chain:    deps.Chain,
	}
}

func (h *Handlers) bindVerify(c echo.Context) (VerifyRequest, error) {
	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return req, domain.NewValidationError("body", "%v", err)
	}
	req.CertificateHash = strings.ToLower(strings.TrimSpace(req.CertificateHash))
	if err := c.Validate(req); err != nil {
		return req, err
	}
	return req, nil
}

func (h *Handlers) VerifyFull(c echo.Context) error {
	req, err := h.bindVerify(c)
	if err != nil {
		return fail(c, err, ErrParsReq)
	}
	return c.JSON(http.StatusOK, h.verifier.Full(c.Request().Context(), req.CertificateHash))
}

func (h *Handlers) VerifyDBSignature(c echo.Context) error {
	req, err := h.bindVerify(c)
	if err != nil {
		return fail(c, err, ErrParsReq)
	}
	return c.JSON(http.StatusOK, h.verifier.DBSignature(c.Request().Context(), req.CertificateHash))
}

func (h *Handlers) VerifyChain(c echo.Context) error {
	req, err := h.bindVerify(c)
	if err != nil {
		return fail(c, err, ErrParsReq)
	}
	return c.JSON(http.StatusOK, ChainVerifyResponse{
		ChainVerified: h.verifier.OnChain(c.Request().Context(), req.CertificateHash),
	})
}

func (h *Handlers) VerifyDB(c echo.Context) error {
	req, err := h.bindVerify(c)
	if err != nil {
		return fail(c, err, ErrParsReq)
	}
	return c.JSON(http.StatusOK, DBVerifyResponse{
		DBVerified: h.verifier.DB(c.Request().Context(), req.CertificateHash),
	})
}

// PublicVerify is the lookup behind shared verification links.
func (h *Handlers) PublicVerify(c echo.Context) error {
	req, err := h.bindVerify(c)
	if err != nil {
		return fail(c, err, ErrParsReq)
	}

	ctx := c.Request().Context()
	cert := h.verifier.Lookup(ctx, req.CertificateHash)
	if cert == nil {
		return c.JSON(http.StatusNotFound, ErrorResp{Error: "certificate not found"})
	}

	log.WithField("certificate", certhash.Short(cert.CertificateHash)).Info("public verification")
	return c.JSON(http.StatusOK, PublicVerifyResponse{
		Certificate: summarize(cert),
		Result:      h.verifier.Evaluate(ctx, cert),
	})
}

func (h *Handlers) CreateInstitution(c echo.Context) error {
	var req CreateInstitutionRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, domain.NewValidationError("body", "%v", err), ErrParsReq)
	}

	inst, err := h.registry.RegisterInstitution(c.Request().Context(), req.InstitutionInput, req.ParentUID)
	if err != nil {
		return fail(c, err, ErrRegister)
	}
	return h.institutionResponse(c, http.StatusCreated, inst.UniqueIdentifier)
}

func (h *Handlers) GetInstitution(c echo.Context) error {
	return h.institutionResponse(c, http.StatusOK, c.Param("uid"))
}

func (h *Handlers) institutionResponse(c echo.Context, status int, uid string) error {
	view, err := h.registry.Institution(c.Request().Context(), uid)
	if err != nil {
		return fail(c, err, ErrLoadInstitution)
	}

	subs := make([]string, 0, len(view.Subsidiaries))
	for _, sub := range view.Subsidiaries {
		subs = append(subs, sub.UniqueIdentifier)
	}
	return c.JSON(status, InstitutionResponse{
		Institution:  view.Institution,
		Hierarchy:    view.Hierarchy,
		RootFullName: view.RootFullName,
		Subsidiaries: subs,
		Users:        view.Users,
	})
}

func (h *Handlers) CreateInstitutionUser(c echo.Context) error {
	var req domain.InstitutionUserInput
	if err := c.Bind(&req); err != nil {
		return fail(c, domain.NewValidationError("body", "%v", err), ErrParsReq)
	}

	user, err := h.registry.RegisterInstitutionUser(c.Request().Context(), c.Param("uid"), req)
	if err != nil {
		return fail(c, err, ErrRegister)
	}
	return c.JSON(http.StatusCreated, user)
}

func (h *Handlers) AuthorizeInstitution(c echo.Context) error {
	ctx := c.Request().Context()
	inst, err := h.store.InstitutionByUID(ctx, c.Param("uid"))
	if err != nil {
		return fail(c, err, ErrLoadInstitution)
	}

	receipt, err := h.issuer.AuthorizeInstitution(ctx, inst)
	if err != nil {
		return fail(c, err, ErrAuthorize)
	}
	resp := AuthorizeResponse{
		LedgerAddress:      inst.LedgerAddress,
		LedgerAuthorizedAt: inst.LedgerAuthorizedAt,
	}
	// no receipt when the institution was authorized before
	if receipt != nil {
		resp.TxHash = receipt.TxHash.Hex()
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handlers) rotate(kind domain.PrincipalKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := h.registry.RegenerateSigningKeyPair(c.Request().Context(), kind, c.Param("uid"))
		if err != nil {
			return fail(c, err, ErrRotateKeys)
		}
		return c.JSON(http.StatusOK, RotateKeysResponse{
			Kind:             kind,
			UniqueIdentifier: p.UniqueIdentifier(),
			PublicKey:        p.SigningKeys().Public,
		})
	}
}

// remove deletes a principal; 409 while certificates reference it.
func (h *Handlers) remove(kind domain.PrincipalKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := h.registry.DeletePrincipal(c.Request().Context(), kind, c.Param("uid")); err != nil {
			return fail(c, err, ErrDelete)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func (h *Handlers) CreateStudent(c echo.Context) error {
	var req CreateStudentRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, domain.NewValidationError("body", "%v", err), ErrParsReq)
	}
	if err := c.Validate(req); err != nil {
		return fail(c, err, ErrValidateReq)
	}
	dob, err := parseDate("date_of_birth", req.DateOfBirth)
	if err != nil {
		return fail(c, err, ErrValidateReq)
	}

	student, err := h.registry.RegisterStudent(c.Request().Context(), domain.StudentInput{
		Firstname:   req.Firstname,
		Lastname:    req.Lastname,
		IDPrefix:    req.IDPrefix,
		DateOfBirth: dob,
	})
	if err != nil {
		return fail(c, err, ErrRegister)
	}
	return c.JSON(http.StatusCreated, student)
}

func (h *Handlers) GetStudent(c echo.Context) error {
	student, err := h.store.StudentByUID(c.Request().Context(), c.Param("uid"))
	if err != nil {
		return fail(c, err, ErrLoadStudent)
	}
	return c.JSON(http.StatusOK, student)
}

// issueParties resolves the institution, student and optional issuing user
// named by req.
func (h *Handlers) issueParties(ctx context.Context, req IssueRequest) (*domain.Institution, *domain.Student, *domain.InstitutionUser, error) {
	inst, err := h.store.InstitutionByUID(ctx, req.InstitutionUID)
	if err != nil {
		return nil, nil, nil, err
	}
	student, err := h.store.StudentByUID(ctx, req.StudentUID)
	if err != nil {
		return nil, nil, nil, err
	}
	if req.IssuingUserUID == "" {
		return inst, student, nil, nil
	}
	user, err := h.store.InstitutionUserByUID(ctx, req.IssuingUserUID)
	if err != nil {
		return nil, nil, nil, err
	}
	return inst, student, user, nil
}

func (h *Handlers) bindIssue(c echo.Context) (IssueRequest, error) {
	var req IssueRequest
	if err := c.Bind(&req); err != nil {
		return req, domain.NewValidationError("body", "%v", err)
	}
	if err := c.Validate(req); err != nil {
		return req, err
	}
	return req, nil
}

func (h *Handlers) IssueCertificate(c echo.Context) error {
	req, err := h.bindIssue(c)
	if err != nil {
		return fail(c, err, ErrParsReq)
	}

	ctx := c.Request().Context()
	inst, student, user, err := h.issueParties(ctx, req)
	if err != nil {
		return fail(c, err, ErrCertIssuing)
	}

	res, err := h.issuer.Issue(ctx, issuance.IssueRequest{
		Institution:     inst,
		Student:         student,
		CertificateType: req.CertificateType,
		Metadata:        req.Metadata,
		IssuingUser:     user,
	})
	if err != nil {
		return fail(c, err, ErrCertIssuing)
	}
	return c.JSON(http.StatusCreated, IssueResponse{
		Certificate: summarize(res.Certificate),
		Anchor:      res.Anchor,
	})
}

func (h *Handlers) CreateDraft(c echo.Context) error {
	req, err := h.bindIssue(c)
	if err != nil {
		return fail(c, err, ErrParsReq)
	}

	ctx := c.Request().Context()
	inst, student, user, err := h.issueParties(ctx, req)
	if err != nil {
		return fail(c, err, ErrDraftCreating)
	}

	draft, err := h.issuer.CreateDraft(ctx, issuance.DraftRequest{
		Institution:     inst,
		Student:         student,
		IssuingUser:     user,
		CertificateType: req.CertificateType,
		Metadata:        req.Metadata,
	})
	if err != nil {
		return fail(c, err, ErrDraftCreating)
	}
	return c.JSON(http.StatusCreated, draft)
}

func parseDraftID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, domain.NewValidationError("id", "must be a uuid")
	}
	return id, nil
}

func (h *Handlers) GetDraft(c echo.Context) error {
	id, err := parseDraftID(c)
	if err != nil {
		return fail(c, err, ErrParsDraftID)
	}

	draft, err := h.store.DraftByID(c.Request().Context(), id, 0)
	if err != nil {
		return fail(c, err, ErrLoadDraft)
	}
	return c.JSON(http.StatusOK, draft)
}

func (h *Handlers) DeleteDraft(c echo.Context) error {
	id, err := parseDraftID(c)
	if err != nil {
		return fail(c, err, ErrParsDraftID)
	}

	if err := h.store.DeleteDraft(c.Request().Context(), id); err != nil {
		return fail(c, err, ErrDelete)
	}
	log.WithField("draft", id).Info("draft discarded")
	return c.NoContent(http.StatusNoContent)
}

func (h *Handlers) ListInstitutionDrafts(c echo.Context) error {
	ctx := c.Request().Context()
	inst, err := h.store.InstitutionByUID(ctx, c.Param("uid"))
	if err != nil {
		return fail(c, err, ErrLoadInstitution)
	}

	drafts, err := h.store.DraftsForInstitution(ctx, inst.ID)
	if err != nil {
		return fail(c, err, ErrLoadDraft)
	}
	return c.JSON(http.StatusOK, ListDraftsResponse{Drafts: drafts})
}

func (h *Handlers) ConfirmDraft(c echo.Context) error {
	id, err := parseDraftID(c)
	if err != nil {
		return fail(c, err, ErrParsDraftID)
	}

	var req ConfirmDraftRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, domain.NewValidationError("body", "%v", err), ErrParsReq)
	}
	if err := c.Validate(req); err != nil {
		return fail(c, err, ErrValidateReq)
	}

	ctx := c.Request().Context()
	inst, err := h.store.InstitutionByUID(ctx, req.InstitutionUID)
	if err != nil {
		return fail(c, err, ErrLoadInstitution)
	}

	res, err := h.issuer.ConfirmDraft(ctx, id, inst.ID)
	if err != nil {
		return fail(c, err, ErrDraftConfirming)
	}
	return c.JSON(http.StatusCreated, IssueResponse{
		Certificate: summarize(res.Certificate),
		Anchor:      res.Anchor,
	})
}

func (h *Handlers) GetCertificate(c echo.Context) error {
	cert, err := h.store.CertificateByHash(c.Request().Context(), c.Param("hash"))
	if err != nil {
		return fail(c, err, ErrLoadCert)
	}
	return c.JSON(http.StatusOK, summarize(cert))
}

func (h *Handlers) GetCertificateAnchor(c echo.Context) error {
	cert, err := h.store.CertificateByHash(c.Request().Context(), c.Param("hash"))
	if err != nil {
		return fail(c, err, ErrLoadCert)
	}
	rec, err := h.journal.Get(cert.SignedHashKeccak)
	if err != nil {
		return fail(c, err, ErrLoadAnchor)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handlers) bindList(c echo.Context) (store.CertificateFilter, error) {
	var q ListCertificatesQuery
	if err := c.Bind(&q); err != nil {
		return store.CertificateFilter{}, domain.NewValidationError("query", "%v", err)
	}
	if err := c.Validate(q); err != nil {
		return store.CertificateFilter{}, err
	}
	return listFilter(q)
}

func (h *Handlers) ListInstitutionCertificates(c echo.Context) error {
	filter, err := h.bindList(c)
	if err != nil {
		return fail(c, err, ErrParsReq)
	}

	ctx := c.Request().Context()
	inst, err := h.store.InstitutionByUID(ctx, c.Param("uid"))
	if err != nil {
		return fail(c, err, ErrLoadInstitution)
	}
	filter.InstitutionID = inst.ID

	certs, err := h.store.ListCertificates(ctx, filter)
	if err != nil {
		return fail(c, err, ErrListCerts)
	}
	return c.JSON(http.StatusOK, ListCertificatesResponse{Certificates: summarizeAll(certs)})
}

func (h *Handlers) ListStudentCertificates(c echo.Context) error {
	filter, err := h.bindList(c)
	if err != nil {
		return fail(c, err, ErrParsReq)
	}

	ctx := c.Request().Context()
	student, err := h.store.StudentByUID(ctx, c.Param("uid"))
	if err != nil {
		return fail(c, err, ErrLoadStudent)
	}
	filter.StudentID = student.ID

	certs, err := h.store.ListCertificates(ctx, filter)
	if err != nil {
		return fail(c, err, ErrListCerts)
	}
	return c.JSON(http.StatusOK, ListCertificatesResponse{Certificates: summarizeAll(certs)})
}

func (h *Handlers) Health(c echo.Context) error {
	resp := HealthResponse{Database: "ok", Ledger: "disabled"}
	status := http.StatusOK

	if sqlDB, err := h.store.DB().DB(); err != nil || sqlDB.PingContext(c.Request().Context()) != nil {
		resp.Database = "unavailable"
		status = http.StatusServiceUnavailable
	}
	if h.chain != nil {
		resp.Ledger = "ok"
		if err := h.chain.CheckConnection(c.Request().Context()); err != nil {
			log.WithError(err).Warn("ledger health check failed")
			resp.Ledger = err.Error()
		}
	}
	return c.JSON(status, resp)
}
