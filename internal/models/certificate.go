package models

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Certificate providers. Only ProviderLetsEncrypt is driven by lifecycle automation.
const (
	ProviderLetsEncrypt = "letsencrypt"
	ProviderCustom      = "custom"
)

// Certificate is a TLS certificate definition. Material lives on disk; the record
// tracks its domains and expiry.
type Certificate struct {
	ID          uint                        `json:"id" gorm:"primaryKey"`
	Provider    string                      `json:"provider" gorm:"index;not null"`
	NiceName    string                      `json:"nice_name"`
	DomainNames datatypes.JSONSlice[string] `json:"domain_names" gorm:"not null"`
	ExpiresOn   time.Time                   `json:"expires_on" gorm:"index"`
	Meta        datatypes.JSONMap           `json:"meta"`
	IsDeleted   bool                        `json:"-" gorm:"index"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

// NewLetsEncryptCertificate builds an unsaved, pending certificate whose expiry
// placeholder equals its creation time.
func NewLetsEncryptCertificate(domains []string, now time.Time) *Certificate {
	now = NormalizeTime(now)
	names := normalizeDomains(domains)
	nice := ""
	for i, d := range names {
		if i > 0 {
			nice += ", "
		}
		nice += d
	}
	return &Certificate{
		Provider:    ProviderLetsEncrypt,
		NiceName:    nice,
		DomainNames: datatypes.NewJSONSlice(names),
		ExpiresOn:   now,
		Meta:        datatypes.JSONMap{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Domains returns the certificate's domain names trimmed and lower-cased.
func (c *Certificate) Domains() []string {
	return normalizeDomains(c.DomainNames)
}

// Validate checks the requested domain names.
func (c *Certificate) Validate() error {
	domains := c.Domains()
	if len(domains) == 0 {
		return errors.New("at least one domain name is required")
	}
	for _, d := range domains {
		if !ValidDomain(d) {
			return fmt.Errorf("invalid domain name %q", d)
		}
	}
	return nil
}

// IsPending reports whether the certificate still carries its creation-time
// expiry placeholder, i.e. no material has been issued yet.
func (c *Certificate) IsPending() bool {
	return !NormalizeTime(c.ExpiresOn).After(NormalizeTime(c.CreatedAt))
}

// IsManaged reports whether renewal automation applies to the certificate.
func (c *Certificate) IsManaged() bool {
	return c.Provider == ProviderLetsEncrypt && !c.IsDeleted
}

// BeforeSave keeps expiry timestamps in UTC at second precision.
func (c *Certificate) BeforeSave(tx *gorm.DB) error {
	c.ExpiresOn = NormalizeTime(c.ExpiresOn)
	return nil
}

// NormalizeTime converts t to UTC and drops sub-second precision.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
