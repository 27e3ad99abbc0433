package models

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Default server port types.
const (
	PortHTTP  = "http"
	PortHTTPS = "https"
)

// Default page actions.
const (
	ActionHTML     = "html"
	ActionRedirect = "redirect"
	ActionNotFound = "not_found"
)

// DefaultPage configures what the catch-all server answers on a port.
type DefaultPage struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	PortType    string    `json:"port_type" gorm:"uniqueIndex;not null"`
	ActionType  string    `json:"action_type" gorm:"not null"`
	HTMLContent string    `json:"html_content" gorm:"type:text"`
	RedirectURL string    `json:"redirect_url"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DefaultPageFor returns the page served when nothing is configured for portType.
func DefaultPageFor(portType string) DefaultPage {
	return DefaultPage{PortType: portType, ActionType: ActionNotFound}
}

// Validate checks the page against its action type.
func (p *DefaultPage) Validate() error {
	if p.PortType != PortHTTP && p.PortType != PortHTTPS {
		return fmt.Errorf("invalid port type %q", p.PortType)
	}
	switch p.ActionType {
	case ActionHTML:
		if p.HTMLContent == "" {
			return errors.New("html_content is required when action type is html")
		}
	case ActionRedirect:
		if p.RedirectURL == "" {
			return errors.New("redirect_url is required when action type is redirect")
		}
		if _, err := CheckRedirectURL(p.RedirectURL); err != nil {
			return err
		}
	case ActionNotFound:
	default:
		return fmt.Errorf("invalid action type %q", p.ActionType)
	}
	return nil
}

// CheckRedirectURL accepts absolute http(s) URLs that can sit inside a quoted
// nginx string and returns the trimmed value.
func CheckRedirectURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid redirect url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("redirect url %q must be an absolute http(s) url", raw)
	}
	if strings.ContainsAny(raw, " \t\r\n'\"{};$\\") {
		return "", fmt.Errorf("redirect url %q contains characters not allowed in nginx config", raw)
	}
	return raw, nil
}
