package models

import (
	"fmt"
	"regexp"
	"strings"
)

// WAF engine modes.
const (
	WAFModeDetectionOnly = "DetectionOnly"
	WAFModeOn            = "On"
)

var countryCode = regexp.MustCompile(`^[A-Z]{2}$`)

// HostSettings is the typed form of a proxy host's security metadata.
// It is stored as a JSON column and copied into the render context as-is.
type HostSettings struct {
	WAFEnabled             bool     `json:"waf_enabled"`
	WAFMode                string   `json:"waf_mode,omitempty"`
	WAFParanoiaLevel       int      `json:"waf_paranoia_level,omitempty"`
	GeoIPAllowCountries    []string `json:"geoip_allow_countries,omitempty"`
	GeoIPDenyCountries     []string `json:"geoip_deny_countries,omitempty"`
	BotBlockEnabled        bool     `json:"bot_block_enabled"`
	BotChallengeEnabled    bool     `json:"bot_challenge_enabled"`
	BrotliEnabled          bool     `json:"brotli_enabled"`
	SecurityHeadersEnabled bool     `json:"security_headers_enabled"`
}

// Normalize fills defaults and canonicalizes country lists.
func (s HostSettings) Normalize() HostSettings {
	if s.WAFMode == "" {
		s.WAFMode = WAFModeDetectionOnly
	}
	if s.WAFParanoiaLevel == 0 {
		s.WAFParanoiaLevel = 1
	}
	s.GeoIPAllowCountries = normalizeCountries(s.GeoIPAllowCountries)
	s.GeoIPDenyCountries = normalizeCountries(s.GeoIPDenyCountries)
	return s
}

// Validate is applied once at the API boundary.
func (s HostSettings) Validate() error {
	n := s.Normalize()
	if n.WAFMode != WAFModeDetectionOnly && n.WAFMode != WAFModeOn {
		return fmt.Errorf("invalid waf_mode %q", s.WAFMode)
	}
	if n.WAFParanoiaLevel < 1 || n.WAFParanoiaLevel > 4 {
		return fmt.Errorf("waf_paranoia_level must be between 1 and 4, got %d", s.WAFParanoiaLevel)
	}
	for _, c := range append(append([]string{}, n.GeoIPAllowCountries...), n.GeoIPDenyCountries...) {
		if !countryCode.MatchString(c) {
			return fmt.Errorf("invalid country code %q", c)
		}
	}
	return nil
}

func normalizeCountries(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
