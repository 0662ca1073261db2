package api

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/swissborg/academic-certs/config"
	"github.com/swissborg/academic-certs/internal/domain"
	"github.com/swissborg/academic-certs/internal/issuance"
	"github.com/swissborg/academic-certs/internal/journal"
	"github.com/swissborg/academic-certs/internal/registry"
	"github.com/swissborg/academic-certs/internal/store"
	"github.com/swissborg/academic-certs/internal/verification"
)

type Deps struct {
	Store    *store.Store
	Journal  *journal.Journal
	Registry *registry.Service
	Issuer   *issuance.Service
	Verifier *verification.Service
	// Chain is nil when the ledger is disabled.
	Chain ConnectionChecker
}

type Server struct {
	echo *echo.Echo
	deps Deps
}

func NewServer(deps Deps) *Server {
	s := &Server{deps: deps}
	s.echo = s.makeEcho()
	return s
}

func (s *Server) Start(cfg config.APIConf) error {
	log.Infof("API server starting...")

	err := s.echo.Start(fmt.Sprintf("%s:%s", cfg.Host, cfg.Port))
	if err != nil {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	const shutdownTimeout = time.Second * 10

	ctx, cancelTimeout := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelTimeout()

	if err := s.echo.Shutdown(ctx); err != nil {
		return err
	}

	return nil
}

func (s *Server) makeEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	e.Validator = &CustomValidator{}

	handlers := NewHandlers(s.deps)

	e.GET("/health", handlers.Health)

	verifyGroup := e.Group("/verify")
	verifyGroup.GET("", handlers.PublicVerify)
	verifyGroup.POST("/full", handlers.VerifyFull)
	verifyGroup.POST("/db-signature", handlers.VerifyDBSignature)
	verifyGroup.POST("/chain", handlers.VerifyChain)
	verifyGroup.POST("/db", handlers.VerifyDB)

	instGroup := e.Group("/institutions")
	instGroup.POST("", handlers.CreateInstitution)
	instGroup.GET("/:uid", handlers.GetInstitution)
	instGroup.DELETE("/:uid", handlers.remove(domain.PrincipalInstitution))
	instGroup.POST("/:uid/users", handlers.CreateInstitutionUser)
	instGroup.POST("/:uid/authorize", handlers.AuthorizeInstitution)
	instGroup.POST("/:uid/rotate-keys", handlers.rotate(domain.PrincipalInstitution))
	instGroup.GET("/:uid/certificates", handlers.ListInstitutionCertificates)
	instGroup.GET("/:uid/drafts", handlers.ListInstitutionDrafts)

	e.POST("/institution-users/:uid/rotate-keys", handlers.rotate(domain.PrincipalInstitutionUser))
	e.DELETE("/institution-users/:uid", handlers.remove(domain.PrincipalInstitutionUser))

	studentGroup := e.Group("/students")
	studentGroup.POST("", handlers.CreateStudent)
	studentGroup.GET("/:uid", handlers.GetStudent)
	studentGroup.DELETE("/:uid", handlers.remove(domain.PrincipalStudent))
	studentGroup.POST("/:uid/rotate-keys", handlers.rotate(domain.PrincipalStudent))
	studentGroup.GET("/:uid/certificates", handlers.ListStudentCertificates)

	draftGroup := e.Group("/drafts")
	draftGroup.POST("", handlers.CreateDraft)
	draftGroup.GET("/:id", handlers.GetDraft)
	draftGroup.DELETE("/:id", handlers.DeleteDraft)
	draftGroup.POST("/:id/confirm", handlers.ConfirmDraft)

	certGroup := e.Group("/certificates")
	certGroup.POST("", handlers.IssueCertificate)
	certGroup.GET("/:hash", handlers.GetCertificate)
	certGroup.GET("/:hash/anchor", handlers.GetCertificateAnchor)

	return e
}

// CustomValidator reports failures as *domain.ValidationError so handlers can
// return per-field messages.
type CustomValidator struct{}

func (cv *CustomValidator) Validate(i interface{}) error {
	return domain.Validate(i)
}
