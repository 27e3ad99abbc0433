package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/ferryman/internal/models"
	"github.com/Wikid82/ferryman/internal/services"
)

// CertificateLifecycle is what the certificate endpoints drive.
type CertificateLifecycle interface {
	Issue(ctx context.Context, cert *models.Certificate, email string) error
	RenewOne(ctx context.Context, cert *models.Certificate) error
	Revoke(ctx context.Context, cert *models.Certificate) error
	SweepExpiring(ctx context.Context) (services.SweepResult, error)
	Status(cert *models.Certificate, now time.Time) string
	LastFailure(certID uint) (string, bool)
}

type CertificateHandler struct {
	certs        *services.CertificateService
	lifecycle    CertificateLifecycle
	sync         Syncer
	defaultEmail string
}

func NewCertificateHandler(certs *services.CertificateService, lifecycle CertificateLifecycle, sync Syncer, defaultEmail string) *CertificateHandler {
	return &CertificateHandler{certs: certs, lifecycle: lifecycle, sync: sync, defaultEmail: defaultEmail}
}

func (h *CertificateHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/certificates", h.List)
	router.POST("/certificates", h.Create)
	router.POST("/certificates/sweep", h.Sweep)
	router.GET("/certificates/:id", h.Get)
	router.POST("/certificates/:id/renew", h.Renew)
	router.DELETE("/certificates/:id", h.Delete)
}

type certificateView struct {
	models.Certificate
	Status    string `json:"status"`
	LastError string `json:"last_error,omitempty"`
}

func (h *CertificateHandler) view(cert *models.Certificate, now time.Time) certificateView {
	v := certificateView{Certificate: *cert, Status: h.lifecycle.Status(cert, now)}
	if msg, ok := h.lifecycle.LastFailure(cert.ID); ok {
		v.LastError = msg
	}
	return v
}

func (h *CertificateHandler) List(c *gin.Context) {
	certs, err := h.certs.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	now := time.Now()
	out := make([]certificateView, 0, len(certs))
	for i := range certs {
		out = append(out, h.view(&certs[i], now))
	}
	c.JSON(http.StatusOK, out)
}

func (h *CertificateHandler) Get(c *gin.Context) {
	cert, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.view(cert, time.Now()))
}

type createCertificateRequest struct {
	Provider    string   `json:"provider"`
	NiceName    string   `json:"nice_name"`
	DomainNames []string `json:"domain_names" binding:"required"`
	Email       string   `json:"email"`
	// ExpiresOn is only honoured for custom certificates.
	ExpiresOn *time.Time `json:"expires_on"`
}

// Create issues a Let's Encrypt certificate, or records a custom one whose
// material was placed on disk out of band.
func (h *CertificateHandler) Create(c *gin.Context) {
	var req createCertificateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch req.Provider {
	case "", models.ProviderLetsEncrypt:
		h.issue(c, req)
	case models.ProviderCustom:
		h.createCustom(c, req)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider"})
	}
}

func (h *CertificateHandler) issue(c *gin.Context, req createCertificateRequest) {
	email := strings.TrimSpace(req.Email)
	if email == "" {
		email = h.defaultEmail
	}
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}

	cert := models.NewLetsEncryptCertificate(req.DomainNames, time.Now())
	if req.NiceName != "" {
		cert.NiceName = req.NiceName
	}
	if err := cert.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// issuance runs to completion or rollback even if the client goes away
	if err := h.lifecycle.Issue(context.WithoutCancel(c.Request.Context()), cert, email); err != nil {
		applyError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.view(cert, time.Now()))
}

func (h *CertificateHandler) createCustom(c *gin.Context, req createCertificateRequest) {
	now := models.NormalizeTime(time.Now())
	cert := &models.Certificate{
		Provider:    models.ProviderCustom,
		NiceName:    req.NiceName,
		DomainNames: req.DomainNames,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.ExpiresOn != nil {
		cert.ExpiresOn = *req.ExpiresOn
	}
	if cert.NiceName == "" {
		cert.NiceName = strings.Join(cert.Domains(), ", ")
	}
	if err := h.certs.Create(cert); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, h.view(cert, time.Now()))
}

func (h *CertificateHandler) Renew(c *gin.Context) {
	cert, ok := h.load(c)
	if !ok {
		return
	}
	if !cert.IsManaged() || cert.IsPending() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "certificate is not renewable"})
		return
	}
	if err := h.lifecycle.RenewOne(c.Request.Context(), cert); err != nil {
		applyError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(cert, time.Now()))
}

// Delete detaches the certificate from its hosts, revokes it and removes the record.
func (h *CertificateHandler) Delete(c *gin.Context) {
	cert, ok := h.load(c)
	if !ok {
		return
	}
	if err := h.lifecycle.Revoke(c.Request.Context(), cert); err != nil {
		applyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "certificate deleted"})
}

// Sweep runs a renewal sweep now.
func (h *CertificateHandler) Sweep(c *gin.Context) {
	res, err := h.lifecycle.SweepExpiring(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *CertificateHandler) load(c *gin.Context) (*models.Certificate, bool) {
	id, ok := parseID(c)
	if !ok {
		return nil, false
	}
	cert, err := h.certs.GetByID(id)
	if err != nil {
		if errors.Is(err, services.ErrCertificateNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return nil, false
	}
	return cert, true
}
