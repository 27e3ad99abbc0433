package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment  string
	HTTPPort     string
	DatabasePath string
	LogDir       string
	Debug        bool

	Nginx   NginxConfig
	ACME    ACMEConfig
	Renewal RenewalConfig

	// NotifyURLs are shoutrrr service URLs that receive certificate failure notices.
	NotifyURLs []string
}

// NginxConfig locates the webserver binary and the generated config tree.
type NginxConfig struct {
	Binary     string
	ConfigDir  string
	ConfigFile string
	LogDir     string
	CacheDir   string
	// ModSecurityRules is included by hosts with the WAF enabled.
	ModSecurityRules string
	// CustomCertDir holds uploaded material as <prefix>-<id>/fullchain.pem.
	CustomCertDir string
	Timeout       time.Duration
}

// ACMEConfig drives the external certbot process.
type ACMEConfig struct {
	Binary       string
	ConfigDir    string
	WorkDir      string
	LogsDir      string
	ChallengeDir string
	CertPrefix   string
	Email        string
	Staging      bool
	Timeout      time.Duration
}

// RenewalConfig controls the background renewal sweep.
type RenewalConfig struct {
	Interval time.Duration
	Window   time.Duration
}

// Load reads env vars and falls back to defaults so the server can boot with zero configuration.
// A .env file in the working directory is honoured when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:  getEnv("FERRYMAN_ENV", "development"),
		HTTPPort:     getEnv("FERRYMAN_HTTP_PORT", "8080"),
		DatabasePath: getEnv("FERRYMAN_DB_PATH", filepath.Join("data", "ferryman.db")),
		LogDir:       getEnv("FERRYMAN_LOG_DIR", filepath.Join("data", "logs")),
		Debug:        getBool("FERRYMAN_DEBUG", false),
		Nginx: NginxConfig{
			Binary:     getEnv("NGINX_BINARY", "nginx"),
			ConfigDir:  getEnv("NGINX_CONFIG_DIR", "/data/nginx"),
			ConfigFile: getEnv("NGINX_CONFIG_FILE", ""),
			LogDir:     getEnv("NGINX_LOG_DIR", "/data/logs"),
			CacheDir:   getEnv("NGINX_CACHE_DIR", ""),

			ModSecurityRules: getEnv("NGINX_MODSEC_RULES", ""),
		},
		ACME: ACMEConfig{
			Binary:       getEnv("CERTBOT_BINARY", "certbot"),
			ConfigDir:    getEnv("LETSENCRYPT_DIR", "/data/letsencrypt"),
			WorkDir:      getEnv("LETSENCRYPT_WORK_DIR", "/tmp/letsencrypt-work"),
			LogsDir:      getEnv("LETSENCRYPT_LOG_DIR", "/data/logs/letsencrypt"),
			ChallengeDir: getEnv("ACME_CHALLENGE_DIR", "/tmp/acme-challenge"),
			CertPrefix:   getEnv("CERT_NAME_PREFIX", "npm"),
			Email:        getEnv("LETSENCRYPT_EMAIL", ""),
			Staging:      getBool("LETSENCRYPT_STAGING", false),
		},
		NotifyURLs: splitList(getEnv("NOTIFY_URLS", "")),
	}

	cfg.Nginx.CustomCertDir = getEnv("CUSTOM_CERT_DIR", filepath.Join(cfg.Nginx.ConfigDir, "custom_ssl"))

	var err error
	if cfg.Nginx.Timeout, err = getDuration("COMMAND_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ACME.Timeout, err = getDuration("ACME_TIMEOUT", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.Renewal.Interval, err = getDuration("RENEWAL_INTERVAL", time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.Renewal.Window, err = getDuration("RENEWAL_WINDOW", 30*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.Renewal.Interval <= 0 {
		return Config{}, fmt.Errorf("RENEWAL_INTERVAL must be positive")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func getBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
