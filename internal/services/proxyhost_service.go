package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Wikid82/ferryman/internal/models"
)

var (
	ErrProxyHostNotFound = errors.New("proxy host not found")
)

// ProxyHostService is the gorm-backed store for proxy hosts.
type ProxyHostService struct {
	db *gorm.DB
}

// NewProxyHostService creates a new proxy host service.
func NewProxyHostService(db *gorm.DB) *ProxyHostService {
	return &ProxyHostService{db: db}
}

// Create validates and inserts a host together with its custom locations.
func (s *ProxyHostService) Create(host *models.ProxyHost) error {
	if err := host.Validate(); err != nil {
		return err
	}
	host.ID = 0
	host.UUID = uuid.New().String()
	host.IsDeleted = false
	return s.db.Create(host).Error
}

// GetByID returns a non-deleted host with its certificate and locations.
func (s *ProxyHostService) GetByID(id uint) (*models.ProxyHost, error) {
	var host models.ProxyHost
	err := s.db.Preload("Certificate").Preload("Locations", orderByID).
		Where("is_deleted = ?", false).First(&host, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProxyHostNotFound
		}
		return nil, err
	}
	return &host, nil
}

// List returns every non-deleted host ordered by ID, certificates and locations resolved.
func (s *ProxyHostService) List() ([]models.ProxyHost, error) {
	var hosts []models.ProxyHost
	err := s.db.Preload("Certificate").Preload("Locations", orderByID).
		Where("is_deleted = ?", false).Order("id").Find(&hosts).Error
	return hosts, err
}

// ListByIDs returns the non-deleted hosts among ids, resolved like List.
func (s *ProxyHostService) ListByIDs(ids []uint) ([]models.ProxyHost, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var hosts []models.ProxyHost
	err := s.db.Preload("Certificate").Preload("Locations", orderByID).
		Where("is_deleted = ? AND id IN ?", false, ids).Order("id").Find(&hosts).Error
	return hosts, err
}

// Update replaces the editable fields of a host and its custom locations.
func (s *ProxyHostService) Update(id uint, updates *models.ProxyHost) (*models.ProxyHost, error) {
	host, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}

	host.DomainNames = updates.DomainNames
	host.ForwardScheme = updates.ForwardScheme
	host.ForwardHost = updates.ForwardHost
	host.ForwardPort = updates.ForwardPort
	host.CertificateID = updates.CertificateID
	host.Certificate = nil
	host.SSLForced = updates.SSLForced
	host.HSTSEnabled = updates.HSTSEnabled
	host.HSTSSubdomains = updates.HSTSSubdomains
	host.HTTP2Support = updates.HTTP2Support
	host.HTTP3Support = updates.HTTP3Support
	host.BlockExploits = updates.BlockExploits
	host.CachingEnabled = updates.CachingEnabled
	host.AllowWebsocketUpgrade = updates.AllowWebsocketUpgrade
	host.AdvancedConfig = updates.AdvancedConfig
	host.Enabled = updates.Enabled
	host.Meta = updates.Meta
	host.Locations = updates.Locations

	if err := host.Validate(); err != nil {
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("proxy_host_id = ?", host.ID).Delete(&models.CustomLocation{}).Error; err != nil {
			return err
		}
		for i := range host.Locations {
			host.Locations[i].ID = 0
			host.Locations[i].ProxyHostID = host.ID
		}
		return tx.Session(&gorm.Session{FullSaveAssociations: true}).Save(host).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(id)
}

// Delete soft-deletes a host. Its config file is removed by the next sync.
func (s *ProxyHostService) Delete(id uint) error {
	result := s.db.Model(&models.ProxyHost{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Update("is_deleted", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrProxyHostNotFound
	}
	return nil
}

// FindEnabledOverlapping returns enabled, non-deleted hosts sharing at least one
// domain name with domains. Matching is exact and case-insensitive.
func (s *ProxyHostService) FindEnabledOverlapping(domains []string) ([]models.ProxyHost, error) {
	want := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			want[d] = struct{}{}
		}
	}
	if len(want) == 0 {
		return nil, nil
	}

	var hosts []models.ProxyHost
	if err := s.db.Where("is_deleted = ? AND enabled = ?", false, true).Order("id").Find(&hosts).Error; err != nil {
		return nil, err
	}
	var out []models.ProxyHost
	for _, h := range hosts {
		for _, d := range h.Domains() {
			if _, ok := want[d]; ok {
				out = append(out, h)
				break
			}
		}
	}
	return out, nil
}

// SetEnabled flips the enabled flag for ids.
func (s *ProxyHostService) SetEnabled(ids []uint, enabled bool) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.Model(&models.ProxyHost{}).Where("id IN ?", ids).Update("enabled", enabled).Error
}

// SetCertificate points a host at certID, or clears the reference when certID is nil.
func (s *ProxyHostService) SetCertificate(id uint, certID *uint) error {
	return s.db.Model(&models.ProxyHost{}).Where("id = ?", id).Update("certificate_id", certID).Error
}

// DetachCertificate clears certificate_id and ssl_forced on every host using
// certID and returns the affected host IDs.
func (s *ProxyHostService) DetachCertificate(certID uint) ([]uint, error) {
	var ids []uint
	if err := s.db.Model(&models.ProxyHost{}).Where("certificate_id = ?", certID).Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	err := s.db.Model(&models.ProxyHost{}).Where("id IN ?", ids).
		Updates(map[string]interface{}{"certificate_id": nil, "ssl_forced": false}).Error
	if err != nil {
		return nil, fmt.Errorf("detach certificate %d: %w", certID, err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func orderByID(db *gorm.DB) *gorm.DB {
	return db.Order("id")
}
