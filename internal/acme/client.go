// Package acme wraps the certbot command line for webroot issuance, renewal and
// revocation, and reads validity dates back from the issued files.
package acme

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/sirupsen/logrus"

	"github.com/Wikid82/ferryman/internal/executor"
	"github.com/Wikid82/ferryman/internal/logger"
)

const lockFile = ".certbot.lock"

// Options locates certbot and its state directories.
type Options struct {
	Binary       string
	ConfigDir    string
	WorkDir      string
	LogsDir      string
	ChallengeDir string
	CertPrefix   string
	Staging      bool
	Timeout      time.Duration
}

// Validity is the notBefore/notAfter pair of an issued certificate, in UTC at
// second precision.
type Validity struct {
	NotBefore time.Time
	NotAfter  time.Time
}

// Client runs certbot through an executor.Runner, one invocation at a time.
type Client struct {
	runner executor.Runner
	opts   Options

	// mu is held for the whole of every certbot run.
	mu sync.Mutex
}

// NewClient returns a Client with defaults filled in for empty options.
func NewClient(runner executor.Runner, opts Options) *Client {
	if opts.Binary == "" {
		opts.Binary = "certbot"
	}
	if opts.CertPrefix == "" {
		opts.CertPrefix = "npm"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	return &Client{runner: runner, opts: opts}
}

// CertName is the certbot lineage name for a certificate record.
func (c *Client) CertName(certID uint) string {
	return c.opts.CertPrefix + "-" + strconv.FormatUint(uint64(certID), 10)
}

// LiveDir is the directory certbot keeps the current material for certID in.
func (c *Client) LiveDir(certID uint) string {
	return filepath.Join(c.opts.ConfigDir, "live", c.CertName(certID))
}

// CertPath returns the full chain file served to clients.
func (c *Client) CertPath(certID uint) string {
	return filepath.Join(c.LiveDir(certID), "fullchain.pem")
}

// KeyPath returns the private key file.
func (c *Client) KeyPath(certID uint) string {
	return filepath.Join(c.LiveDir(certID), "privkey.pem")
}

// RequestCertificate obtains a certificate for domains using the webroot
// challenge directory. The challenge server block must already be live.
func (c *Client) RequestCertificate(ctx context.Context, certID uint, domains []string, email string) error {
	if len(domains) == 0 {
		return &AcmeError{CertID: certID, Command: "certonly", Err: errors.New("no domains requested")}
	}
	args := []string{
		"certonly",
		"--webroot",
		"--webroot-path", c.opts.ChallengeDir,
		"--cert-name", c.CertName(certID),
		"--agree-tos",
		"--non-interactive",
		"--email", email,
		"--config-dir", c.opts.ConfigDir,
		"--work-dir", c.opts.WorkDir,
		"--logs-dir", c.opts.LogsDir,
		"--preferred-challenges", "http",
	}
	for _, d := range domains {
		args = append(args, "-d", d)
	}
	if c.opts.Staging {
		args = append(args, "--staging")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeStaleLocks()
	return c.exec(ctx, certID, args)
}

// Renew asks certbot to renew a lineage by name. A certificate that is not yet
// due is a successful no-op on certbot's side.
func (c *Client) Renew(ctx context.Context, certID uint) error {
	args := []string{
		"renew",
		"--cert-name", c.CertName(certID),
		"--non-interactive",
		"--config-dir", c.opts.ConfigDir,
		"--work-dir", c.opts.WorkDir,
		"--logs-dir", c.opts.LogsDir,
		"--preferred-challenges", "http",
		"--disable-hook-validation",
	}
	if c.opts.Staging {
		args = append(args, "--staging")
	}
	return c.run(ctx, certID, args)
}

// Revoke revokes and deletes the lineage for certID. Failures are logged and
// never returned; a failed revocation must not block removing the record.
func (c *Client) Revoke(ctx context.Context, certID uint) {
	args := []string{
		"revoke",
		"--cert-path", c.CertPath(certID),
		"--config-dir", c.opts.ConfigDir,
		"--work-dir", c.opts.WorkDir,
		"--logs-dir", c.opts.LogsDir,
		"--delete-after-revoke",
		"--non-interactive",
	}
	if c.opts.Staging {
		args = append(args, "--staging")
	}
	if err := c.run(ctx, certID, args); err != nil {
		logger.Component("acme").WithFields(logrus.Fields{
			"cert_id": certID,
			"error":   err.Error(),
		}).Warn("certificate revocation failed, continuing")
	}
}

// ReadExpiry parses the validity window of the issued certificate on disk.
func (c *Client) ReadExpiry(certID uint) (Validity, error) {
	path := c.CertPath(certID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Validity{}, &NotFoundError{Path: path, Err: err}
		}
		return Validity{}, fmt.Errorf("read %s: %w", path, err)
	}
	cert, err := certcrypto.ParsePEMCertificate(data)
	if err != nil {
		return Validity{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return Validity{
		NotBefore: cert.NotBefore.UTC().Truncate(time.Second),
		NotAfter:  cert.NotAfter.UTC().Truncate(time.Second),
	}, nil
}

// removeStaleLocks clears lock files a crashed certbot run may have left behind.
// Callers hold mu, so no certbot started by this process is running and any
// lock present is stale.
func (c *Client) removeStaleLocks() {
	for _, dir := range []string{c.opts.WorkDir, c.opts.ConfigDir} {
		if dir == "" {
			continue
		}
		path := filepath.Join(dir, lockFile)
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				logger.Component("acme").WithField("path", path).WithError(err).Warn("could not remove certbot lock file")
			}
			continue
		}
		logger.Component("acme").WithField("path", path).Info("removed stale certbot lock file")
	}
}

func (c *Client) run(ctx context.Context, certID uint, args []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exec(ctx, certID, args)
}

// exec runs certbot. Callers hold mu.
func (c *Client) exec(ctx context.Context, certID uint, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	command := executor.CommandLine(c.opts.Binary, args[0])
	log := logger.Component("acme").WithFields(logrus.Fields{"cert_id": certID, "command": command})
	log.Debug("running certbot")

	start := time.Now()
	out, err := c.runner.Run(ctx, c.opts.Binary, args...)
	if err != nil {
		return &AcmeError{CertID: certID, Command: command, Output: strings.TrimSpace(string(out)), Err: err}
	}
	log.WithField("duration", time.Since(start).Round(time.Millisecond).String()).Info("certbot finished")
	return nil
}
