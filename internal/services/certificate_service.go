package services

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Wikid82/ferryman/internal/models"
)

var (
	ErrCertificateNotFound = errors.New("certificate not found")
)

// CertificateService is the gorm-backed store for certificate records.
type CertificateService struct {
	db *gorm.DB
}

// NewCertificateService creates a new certificate service.
func NewCertificateService(db *gorm.DB) *CertificateService {
	return &CertificateService{db: db}
}

// Create inserts a certificate record.
func (s *CertificateService) Create(cert *models.Certificate) error {
	if err := cert.Validate(); err != nil {
		return err
	}
	if cert.Meta == nil {
		cert.Meta = datatypes.JSONMap{}
	}
	return s.db.Create(cert).Error
}

// GetByID returns a non-deleted certificate.
func (s *CertificateService) GetByID(id uint) (*models.Certificate, error) {
	var cert models.Certificate
	if err := s.db.Where("is_deleted = ?", false).First(&cert, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCertificateNotFound
		}
		return nil, err
	}
	return &cert, nil
}

// List returns every non-deleted certificate ordered by ID.
func (s *CertificateService) List() ([]models.Certificate, error) {
	var certs []models.Certificate
	err := s.db.Where("is_deleted = ?", false).Order("id").Find(&certs).Error
	return certs, err
}

// UpdateExpiry persists the expiry read from issued material.
func (s *CertificateService) UpdateExpiry(id uint, expiresOn time.Time) error {
	return s.db.Model(&models.Certificate{}).Where("id = ?", id).
		Update("expires_on", models.NormalizeTime(expiresOn)).Error
}

// SetMeta replaces the certificate's metadata.
func (s *CertificateService) SetMeta(id uint, meta datatypes.JSONMap) error {
	return s.db.Model(&models.Certificate{}).Where("id = ?", id).Update("meta", meta).Error
}

// SoftDelete hides a certificate from every listing.
func (s *CertificateService) SoftDelete(id uint) error {
	result := s.db.Model(&models.Certificate{}).Where("id = ? AND is_deleted = ?", id, false).Update("is_deleted", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCertificateNotFound
	}
	return nil
}

// Purge removes a record that never got material. Used by issuance rollback.
func (s *CertificateService) Purge(id uint) error {
	return s.db.Unscoped().Delete(&models.Certificate{}, id).Error
}

// ListRenewalCandidates returns non-deleted letsencrypt certificates expiring before cutoff.
func (s *CertificateService) ListRenewalCandidates(cutoff time.Time) ([]models.Certificate, error) {
	var certs []models.Certificate
	err := s.db.Where("is_deleted = ? AND provider = ? AND expires_on < ?",
		false, models.ProviderLetsEncrypt, models.NormalizeTime(cutoff)).
		Order("expires_on, id").Find(&certs).Error
	return certs, err
}

// ListInterrupted returns non-deleted certificates an issuance may have left
// half done: those still carrying their creation placeholder and those whose
// metadata still lists hosts the issuance disabled.
func (s *CertificateService) ListInterrupted() ([]models.Certificate, error) {
	var all []models.Certificate
	if err := s.db.Where("is_deleted = ?", false).Order("id").Find(&all).Error; err != nil {
		return nil, err
	}
	var out []models.Certificate
	for _, c := range all {
		if c.IsPending() || len(metaIDs(c.Meta[metaDisabledHosts])) > 0 {
			out = append(out, c)
		}
	}
	return out, nil
}
