package nginx

import (
	"bytes"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/Wikid82/ferryman/internal/models"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const defaultBotPattern = "(ahrefsbot|semrushbot|mj12bot|dotbot|petalbot|bytespider|masscan|zgrab|nikto|sqlmap)"

// RendererOptions carries the fixed paths generated config refers to.
type RendererOptions struct {
	ChallengeDir     string
	LogDir           string
	DefaultCertPath  string
	DefaultKeyPath   string
	CacheDir         string
	ModSecurityRules string
}

// TLSFiles points at certificate material that exists on disk and is ready to serve.
type TLSFiles struct {
	CertPath string
	KeyPath  string
}

// Renderer turns resolved records into nginx config text. It performs no I/O.
type Renderer struct {
	opts      RendererOptions
	templates *template.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer(opts RendererOptions) (*Renderer, error) {
	if opts.ModSecurityRules == "" {
		opts.ModSecurityRules = "/etc/nginx/modsec/main.conf"
	}
	tmpl, err := template.New("nginx").Funcs(template.FuncMap{
		"join": strings.Join,
	}).ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse nginx templates: %w", err)
	}
	return &Renderer{opts: opts, templates: tmpl}, nil
}

// MustNewRenderer is NewRenderer for process start-up, where a broken template is fatal.
func MustNewRenderer(opts RendererOptions) *Renderer {
	r, err := NewRenderer(opts)
	if err != nil {
		panic(err)
	}
	return r
}

type locationView struct {
	Path           string
	Upstream       string
	AdvancedConfig string
}

type hostView struct {
	ID             uint
	Enabled        bool
	DomainNames    []string
	TLS            *TLSFiles
	SSLForced      bool
	HSTS           bool
	HSTSSubdomains bool
	HTTP2          bool
	HTTP3          bool
	BlockExploits  bool
	Caching        bool
	Websocket      bool
	AdvancedConfig string
	Settings       models.HostSettings
	Locations      []locationView

	ChallengeDir     string
	LogDir           string
	CacheZone        string
	BotPattern       string
	ModSecurityRules string
}

// Render produces the config for a proxy host. tls must be nil unless the
// host's certificate material exists on disk; without it every directive that
// needs a certificate, including the forced HTTPS redirect, is left out.
func (r *Renderer) Render(host *models.ProxyHost, tls *TLSFiles) (string, error) {
	if err := host.Validate(); err != nil {
		return "", &ConfigError{Op: "render", ID: host.ID, Err: err}
	}

	view := hostView{
		ID:               host.ID,
		Enabled:          host.Enabled,
		DomainNames:      host.Domains(),
		TLS:              tls,
		SSLForced:        tls != nil && host.SSLForced,
		HSTS:             tls != nil && host.HSTSEnabled,
		HSTSSubdomains:   host.HSTSSubdomains,
		HTTP2:            tls != nil && host.HTTP2Support,
		HTTP3:            tls != nil && host.HTTP3Support,
		BlockExploits:    host.BlockExploits,
		Caching:          host.CachingEnabled && r.opts.CacheDir != "",
		Websocket:        host.AllowWebsocketUpgrade,
		AdvancedConfig:   strings.TrimSpace(host.AdvancedConfig),
		Settings:         host.Settings(),
		ChallengeDir:     r.opts.ChallengeDir,
		LogDir:           r.opts.LogDir,
		CacheZone:        cacheZone,
		BotPattern:       defaultBotPattern,
		ModSecurityRules: r.opts.ModSecurityRules,
	}

	hasRoot := false
	for _, loc := range host.Locations {
		path := strings.TrimSpace(loc.Path)
		if path == "/" {
			hasRoot = true
		}
		view.Locations = append(view.Locations, locationView{
			Path:           path,
			Upstream:       upstream(loc.ForwardScheme, loc.ForwardHost, loc.ForwardPort),
			AdvancedConfig: strings.TrimSpace(loc.AdvancedConfig),
		})
	}
	if !hasRoot {
		view.Locations = append(view.Locations, locationView{
			Path:     "/",
			Upstream: upstream(host.ForwardScheme, host.ForwardHost, host.ForwardPort),
		})
	}

	return r.execute("proxy_host.conf.tmpl", "render", host.ID, view)
}

// RenderChallenge produces the temporary port-80 server that answers HTTP-01
// challenges for a certificate being issued.
func (r *Renderer) RenderChallenge(cert *models.Certificate) (string, error) {
	if err := cert.Validate(); err != nil {
		return "", &ConfigError{Op: "challenge", ID: cert.ID, Err: err}
	}
	domains := cert.Domains()

	return r.execute("letsencrypt_request.conf.tmpl", "challenge", cert.ID, struct {
		ID           uint
		DomainNames  []string
		ChallengeDir string
		LogDir       string
	}{cert.ID, domains, r.opts.ChallengeDir, r.opts.LogDir})
}

// RenderDefaultPage produces the catch-all server for portType.
func (r *Renderer) RenderDefaultPage(portType string, page models.DefaultPage) (string, error) {
	page.PortType = portType
	if err := page.Validate(); err != nil {
		return "", &ConfigError{Op: "default", Err: err}
	}

	var body string
	switch page.ActionType {
	case models.ActionHTML:
		body = quoteHTML(page.HTMLContent)
	case models.ActionRedirect:
		u, err := models.CheckRedirectURL(page.RedirectURL)
		if err != nil {
			return "", &ConfigError{Op: "default", Err: err}
		}
		body = u
	}

	return r.execute("default_page.conf.tmpl", "default", 0, struct {
		PortType     string
		ActionType   string
		Body         string
		ChallengeDir string
		CertPath     string
		KeyPath      string
		CacheDir     string
		CacheZone    string
	}{portType, page.ActionType, body, r.opts.ChallengeDir, r.opts.DefaultCertPath, r.opts.DefaultKeyPath, r.opts.CacheDir, cacheZone})
}

func (r *Renderer) execute(name, op string, id uint, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", &ConfigError{Op: op, ID: id, Err: err}
	}
	return buf.String(), nil
}

const cacheZone = "ferryman_cache"

func upstream(scheme, host string, port int) string {
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + host + ":" + strconv.Itoa(port)
}

// quoteHTML makes s safe inside a single-quoted nginx string. Dollar signs are
// emitted as an HTML entity since nginx would expand them as variables.
func quoteHTML(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	s = strings.ReplaceAll(s, `$`, `&#36;`)
	return s
}
