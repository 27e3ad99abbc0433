package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// CustomLocation proxies a path of a ProxyHost to its own upstream.
type CustomLocation struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	ProxyHostID    uint      `json:"proxy_host_id" gorm:"index;not null"`
	Path           string    `json:"path" gorm:"not null"`
	ForwardScheme  string    `json:"forward_scheme"`
	ForwardHost    string    `json:"forward_host"`
	ForwardPort    int       `json:"forward_port"`
	AdvancedConfig string    `json:"advanced_config" gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Validate rejects paths that would break out of a location block.
func (l *CustomLocation) Validate() error {
	path := strings.TrimSpace(l.Path)
	if path == "" {
		return errors.New("path is required")
	}
	if strings.ContainsAny(path, "{};'\"\n\r") {
		return fmt.Errorf("invalid location path %q", l.Path)
	}
	if !strings.HasPrefix(path, "/") && !strings.HasPrefix(path, "~") &&
		!strings.HasPrefix(path, "= ") && !strings.HasPrefix(path, "^~ ") {
		return fmt.Errorf("location path %q must start with / or a modifier", l.Path)
	}
	return validateUpstream(l.ForwardScheme, l.ForwardHost, l.ForwardPort)
}
