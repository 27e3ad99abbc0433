package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gorm.io/datatypes"
)

var (
	domainPattern  = regexp.MustCompile(`^(\*\.)?([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)*[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
	upstreamUnsafe = regexp.MustCompile(`[\s;{}'"$\\]`)
)

// ProxyHost is the foundational entity representing a proxied upstream service.
// Hosts are never hard-deleted; IsDeleted hides them from synthesis.
type ProxyHost struct {
	ID                    uint                             `json:"id" gorm:"primaryKey"`
	UUID                  string                           `json:"uuid" gorm:"uniqueIndex"`
	DomainNames           datatypes.JSONSlice[string]      `json:"domain_names" gorm:"not null"`
	ForwardScheme         string                           `json:"forward_scheme"`
	ForwardHost           string                           `json:"forward_host"`
	ForwardPort           int                              `json:"forward_port"`
	CertificateID         *uint                            `json:"certificate_id" gorm:"index"`
	Certificate           *Certificate                     `json:"certificate,omitempty" gorm:"foreignKey:CertificateID"`
	SSLForced             bool                             `json:"ssl_forced"`
	HSTSEnabled           bool                             `json:"hsts_enabled"`
	HSTSSubdomains        bool                             `json:"hsts_subdomains"`
	HTTP2Support          bool                             `json:"http2_support"`
	HTTP3Support          bool                             `json:"http3_support"`
	BlockExploits         bool                             `json:"block_exploits"`
	CachingEnabled        bool                             `json:"caching_enabled"`
	AllowWebsocketUpgrade bool                             `json:"allow_websocket_upgrade"`
	AdvancedConfig        string                           `json:"advanced_config" gorm:"type:text"`
	Enabled               bool                             `json:"enabled" gorm:"index"`
	IsDeleted             bool                             `json:"-" gorm:"index"`
	Meta                  datatypes.JSONType[HostSettings] `json:"meta"`
	Locations             []CustomLocation                 `json:"locations" gorm:"foreignKey:ProxyHostID;constraint:OnDelete:CASCADE"`
	CreatedAt             time.Time                        `json:"created_at"`
	UpdatedAt             time.Time                        `json:"updated_at"`
}

// Domains returns the host's domain names trimmed and lower-cased, preserving order.
func (h *ProxyHost) Domains() []string {
	return normalizeDomains(h.DomainNames)
}

// Settings returns the typed metadata with defaults applied.
func (h *ProxyHost) Settings() HostSettings {
	return h.Meta.Data().Normalize()
}

// HasCertificate reports whether the host references a certificate.
func (h *ProxyHost) HasCertificate() bool {
	return h.CertificateID != nil && *h.CertificateID != 0
}

// Validate checks the fields that end up inside generated webserver config.
func (h *ProxyHost) Validate() error {
	domains := h.Domains()
	if len(domains) == 0 {
		return errors.New("at least one domain name is required")
	}
	for _, d := range domains {
		if !ValidDomain(d) {
			return fmt.Errorf("invalid domain name %q", d)
		}
	}
	if err := validateUpstream(h.ForwardScheme, h.ForwardHost, h.ForwardPort); err != nil {
		return err
	}
	for i := range h.Locations {
		if err := h.Locations[i].Validate(); err != nil {
			return fmt.Errorf("location %d: %w", i, err)
		}
	}
	return h.Meta.Data().Validate()
}

// ValidDomain reports whether d is a hostname (optionally a leading wildcard)
// that can be placed in a server_name directive.
func ValidDomain(d string) bool {
	return domainPattern.MatchString(strings.ToLower(strings.TrimSpace(d)))
}

func validateUpstream(scheme, host string, port int) error {
	switch scheme {
	case "", "http", "https":
	default:
		return fmt.Errorf("invalid forward scheme %q", scheme)
	}
	if host == "" {
		return errors.New("forward host is required")
	}
	if upstreamUnsafe.MatchString(host) {
		return fmt.Errorf("invalid forward host %q", host)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid forward port %d", port)
	}
	return nil
}

func normalizeDomains(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			out = append(out, d)
		}
	}
	return out
}
