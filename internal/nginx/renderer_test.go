package nginx

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/Wikid82/ferryman/internal/models"
)

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer(RendererOptions{
		ChallengeDir:    "/tmp/acme-challenge",
		LogDir:          "/data/logs",
		DefaultCertPath: "/data/nginx/default_cert.pem",
		DefaultKeyPath:  "/data/nginx/default_cert.key",
	})
	require.NoError(t, err)
	return r
}

func testHost() *models.ProxyHost {
	return &models.ProxyHost{
		ID:            7,
		DomainNames:   []string{"App.Example.com", "www.example.com"},
		ForwardScheme: "http",
		ForwardHost:   "10.0.0.5",
		ForwardPort:   8080,
		Enabled:       true,
	}
}

var certDirectives = []string{"listen 443", "ssl_certificate", "Strict-Transport-Security", "http2 on", "quic", "return 301 https://"}

func TestRender_PlainHost(t *testing.T) {
	r := newTestRenderer(t)

	out, err := r.Render(testHost(), nil)
	require.NoError(t, err)

	assert.Contains(t, out, "server_name app.example.com www.example.com;")
	assert.Contains(t, out, "proxy_pass http://10.0.0.5:8080;")
	assert.Contains(t, out, "root /tmp/acme-challenge;")
	assert.Contains(t, out, "access_log /data/logs/proxy-host-7_access.log;")
	for _, d := range certDirectives {
		assert.NotContains(t, out, d)
	}
}

func TestRender_TLSOptionsWithoutCertificateAreDropped(t *testing.T) {
	r := newTestRenderer(t)
	host := testHost()
	certID := uint(3)
	host.CertificateID = &certID
	host.SSLForced = true
	host.HSTSEnabled = true
	host.HSTSSubdomains = true
	host.HTTP2Support = true
	host.HTTP3Support = true

	out, err := r.Render(host, nil)
	require.NoError(t, err)
	for _, d := range certDirectives {
		assert.NotContains(t, out, d, "directive %q needs certificate material", d)
	}
}

func TestRender_WithCertificate(t *testing.T) {
	r := newTestRenderer(t)
	host := testHost()
	host.SSLForced = true
	host.HSTSEnabled = true
	host.HSTSSubdomains = true
	host.HTTP2Support = true
	host.HTTP3Support = true

	out, err := r.Render(host, &TLSFiles{
		CertPath: "/data/letsencrypt/live/npm-3/fullchain.pem",
		KeyPath:  "/data/letsencrypt/live/npm-3/privkey.pem",
	})
	require.NoError(t, err)

	assert.Contains(t, out, "listen 443 ssl;")
	assert.Contains(t, out, "listen 443 quic;")
	assert.Contains(t, out, "http2 on;")
	assert.Contains(t, out, "ssl_certificate /data/letsencrypt/live/npm-3/fullchain.pem;")
	assert.Contains(t, out, "ssl_certificate_key /data/letsencrypt/live/npm-3/privkey.pem;")
	assert.Contains(t, out, "includeSubDomains")
	assert.Contains(t, out, "return 301 https://$host$request_uri;")
}

func TestRender_Deterministic(t *testing.T) {
	r := newTestRenderer(t)
	host := testHost()
	host.Meta = datatypes.NewJSONType(models.HostSettings{
		WAFEnabled:             true,
		GeoIPDenyCountries:     []string{"ru", "CN"},
		BotBlockEnabled:        true,
		SecurityHeadersEnabled: true,
	})

	first, err := r.Render(host, nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := r.Render(host, nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRender_DisabledHost(t *testing.T) {
	r := newTestRenderer(t)
	host := testHost()
	host.Enabled = false

	out, err := r.Render(host, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "# proxy host #7 is disabled")
	assert.NotContains(t, out, "server {")
	assert.NotContains(t, out, "proxy_pass")
}

func TestRender_HostSettings(t *testing.T) {
	r := newTestRenderer(t)
	host := testHost()
	host.BlockExploits = true
	host.AllowWebsocketUpgrade = true
	host.Meta = datatypes.NewJSONType(models.HostSettings{
		WAFEnabled:          true,
		WAFMode:             models.WAFModeOn,
		WAFParanoiaLevel:    2,
		GeoIPAllowCountries: []string{"de", "fr", "DE"},
		BotChallengeEnabled: true,
		BrotliEnabled:       true,
	})

	out, err := r.Render(host, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "modsecurity on;")
	assert.Contains(t, out, "SecRuleEngine On")
	assert.Contains(t, out, "tx.blocking_paranoia_level=2")
	assert.Contains(t, out, `!~ "^(DE|FR)$"`)
	assert.Contains(t, out, "return 444;")
	assert.Contains(t, out, "brotli on;")
	assert.Contains(t, out, "proxy_set_header Upgrade $http_upgrade;")
	assert.Contains(t, out, "deny all;")
}

func TestRender_CustomLocations(t *testing.T) {
	r := newTestRenderer(t)
	host := testHost()
	host.Locations = []models.CustomLocation{
		{Path: "/api", ForwardScheme: "https", ForwardHost: "api.internal", ForwardPort: 9443, AdvancedConfig: "    client_max_body_size 10m;"},
	}

	out, err := r.Render(host, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "location /api {")
	assert.Contains(t, out, "proxy_pass https://api.internal:9443;")
	assert.Contains(t, out, "client_max_body_size 10m;")
	assert.Contains(t, out, "location / {")

	host.Locations = append(host.Locations, models.CustomLocation{Path: "/", ForwardHost: "other", ForwardPort: 80})
	out, err = r.Render(host, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "location / {"))
	assert.Contains(t, out, "proxy_pass http://other:80;")
	assert.NotContains(t, out, "proxy_pass http://10.0.0.5:8080;")
}

func TestRender_CachingNeedsCacheDir(t *testing.T) {
	host := testHost()
	host.CachingEnabled = true

	out, err := newTestRenderer(t).Render(host, nil)
	require.NoError(t, err)
	assert.NotContains(t, out, "proxy_cache ")

	r, err := NewRenderer(RendererOptions{CacheDir: "/data/nginx/cache"})
	require.NoError(t, err)
	out, err = r.Render(host, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "proxy_cache ferryman_cache;")
}

func TestMustNewRenderer(t *testing.T) {
	var r *Renderer
	require.NotPanics(t, func() { r = MustNewRenderer(RendererOptions{ChallengeDir: "/tmp/acme"}) })
	assert.Equal(t, "/etc/nginx/modsec/main.conf", r.opts.ModSecurityRules)

	out, err := r.RenderChallenge(&models.Certificate{ID: 2, DomainNames: []string{"a.example.com"}})
	require.NoError(t, err)
	assert.Contains(t, out, "/tmp/acme")
}

func TestRender_Invalid(t *testing.T) {
	r := newTestRenderer(t)
	tests := []struct {
		name   string
		mutate func(h *models.ProxyHost)
	}{
		{"no domains", func(h *models.ProxyHost) { h.DomainNames = nil }},
		{"injected domain", func(h *models.ProxyHost) { h.DomainNames = []string{"a.com; include /etc/passwd"} }},
		{"bad port", func(h *models.ProxyHost) { h.ForwardPort = 0 }},
		{"bad scheme", func(h *models.ProxyHost) { h.ForwardScheme = "gopher" }},
		{"injected upstream", func(h *models.ProxyHost) { h.ForwardHost = "x;}" }},
		{"bad location", func(h *models.ProxyHost) {
			h.Locations = []models.CustomLocation{{Path: "/a { }", ForwardHost: "x", ForwardPort: 1}}
		}},
		{"bad settings", func(h *models.ProxyHost) {
			h.Meta = datatypes.NewJSONType(models.HostSettings{WAFParanoiaLevel: 9})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := testHost()
			tt.mutate(host)
			_, err := r.Render(host, nil)
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, "render", cfgErr.Op)
			assert.Equal(t, uint(7), cfgErr.ID)
		})
	}
}

func TestRenderChallenge(t *testing.T) {
	r := newTestRenderer(t)
	cert := &models.Certificate{ID: 12, DomainNames: []string{"a.example.com", "B.example.com"}}

	out, err := r.RenderChallenge(cert)
	require.NoError(t, err)
	assert.Contains(t, out, "certificate #12")
	assert.Contains(t, out, "server_name a.example.com b.example.com;")
	assert.Contains(t, out, "root /tmp/acme-challenge;")
	assert.Contains(t, out, "return 404;")
	assert.NotContains(t, out, "443")

	_, err = r.RenderChallenge(&models.Certificate{ID: 13})
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "challenge", cfgErr.Op)
}

func TestRenderDefaultPage(t *testing.T) {
	r := newTestRenderer(t)

	out, err := r.RenderDefaultPage(models.PortHTTP, models.DefaultPageFor(models.PortHTTP))
	require.NoError(t, err)
	assert.Contains(t, out, "listen 80 default_server;")
	assert.Contains(t, out, "return 404;")
	assert.Contains(t, out, "acme-challenge")

	out, err = r.RenderDefaultPage(models.PortHTTPS, models.DefaultPage{ActionType: models.ActionHTML, HTMLContent: `<p>it's $5 \o/</p>`})
	require.NoError(t, err)
	assert.Contains(t, out, "listen 443 ssl default_server;")
	assert.Contains(t, out, "ssl_certificate /data/nginx/default_cert.pem;")
	assert.Contains(t, out, `return 200 '<p>it\'s &#36;5 \\o/</p>';`)

	out, err = r.RenderDefaultPage(models.PortHTTP, models.DefaultPage{ActionType: models.ActionRedirect, RedirectURL: "https://example.com/landing"})
	require.NoError(t, err)
	assert.Contains(t, out, "return 301 'https://example.com/landing';")

	_, err = r.RenderDefaultPage(models.PortHTTP, models.DefaultPage{ActionType: models.ActionRedirect, RedirectURL: "https://example.com/';evil"})
	assert.Error(t, err)
	_, err = r.RenderDefaultPage(models.PortHTTP, models.DefaultPage{ActionType: models.ActionRedirect, RedirectURL: "/relative"})
	assert.Error(t, err)
	_, err = r.RenderDefaultPage("ftp", models.DefaultPage{ActionType: models.ActionNotFound})
	assert.Error(t, err)
}
