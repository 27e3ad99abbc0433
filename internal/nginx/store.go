package nginx

import (
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/moby/sys/atomicwriter"

	"github.com/Wikid82/ferryman/internal/logger"
)

const (
	proxyHostDir = "proxy_host"
	tempDir      = "temp"
	challengePfx = "letsencrypt-"
	confExt      = ".conf"
)

// Store owns the generated config tree:
//
//	<root>/proxy_host/<hostID>.conf
//	<root>/temp/letsencrypt-<certID>.conf
//	<root>/default_http.conf, <root>/default_https.conf
//	<root>/default_cert.pem, <root>/default_cert.key
type Store struct {
	root string
}

// NewStore creates the directory layout under root.
func NewStore(root string) (*Store, error) {
	for _, dir := range []string{root, filepath.Join(root, proxyHostDir), filepath.Join(root, tempDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Store{root: root}, nil
}

// Root returns the config directory.
func (s *Store) Root() string { return s.root }

// HostPath returns the config file for a proxy host.
func (s *Store) HostPath(hostID uint) string {
	return filepath.Join(s.root, proxyHostDir, strconv.FormatUint(uint64(hostID), 10)+confExt)
}

// ChallengePath returns the temporary challenge config for a certificate.
func (s *Store) ChallengePath(certID uint) string {
	return filepath.Join(s.root, tempDir, challengePfx+strconv.FormatUint(uint64(certID), 10)+confExt)
}

// DefaultPath returns the catch-all server file for portType.
func (s *Store) DefaultPath(portType string) string {
	return filepath.Join(s.root, "default_"+portType+confExt)
}

// FallbackCertificate returns the self-signed key pair used by the default HTTPS server.
func (s *Store) FallbackCertificate() TLSFiles {
	return TLSFiles{
		CertPath: filepath.Join(s.root, "default_cert.pem"),
		KeyPath:  filepath.Join(s.root, "default_cert.key"),
	}
}

// Write replaces the host's config file atomically.
func (s *Store) Write(hostID uint, text string) error {
	if err := atomicwriter.WriteFile(s.HostPath(hostID), []byte(text), 0o644); err != nil {
		return &ConfigError{Op: "write", ID: hostID, Err: err}
	}
	return nil
}

// Delete removes the host's config file. A missing file is not an error.
func (s *Store) Delete(hostID uint) error {
	return removeIfExists(s.HostPath(hostID))
}

// WriteChallenge replaces the certificate's challenge config atomically.
func (s *Store) WriteChallenge(certID uint, text string) error {
	if err := atomicwriter.WriteFile(s.ChallengePath(certID), []byte(text), 0o644); err != nil {
		return &ConfigError{Op: "write", ID: certID, Err: err}
	}
	return nil
}

// DeleteChallenge removes the certificate's challenge config. A missing file is not an error.
func (s *Store) DeleteChallenge(certID uint) error {
	return removeIfExists(s.ChallengePath(certID))
}

// WriteDefault replaces the catch-all server file for portType.
func (s *Store) WriteDefault(portType, text string) error {
	if err := atomicwriter.WriteFile(s.DefaultPath(portType), []byte(text), 0o644); err != nil {
		return &ConfigError{Op: "write", Err: err}
	}
	return nil
}

// Prune deletes host config files whose ID is not in keep and returns the removed IDs.
// Files that do not follow the <id>.conf naming are left alone.
func (s *Store) Prune(keep map[uint]struct{}) ([]uint, error) {
	ids, err := s.listIDs(filepath.Join(s.root, proxyHostDir), "")
	if err != nil {
		return nil, err
	}
	var removed []uint
	for _, id := range ids {
		if _, ok := keep[id]; ok {
			continue
		}
		if err := s.Delete(id); err != nil {
			return removed, err
		}
		removed = append(removed, id)
	}
	return removed, nil
}

// ClearChallenges removes every challenge config. Used at start-up, when no
// issuance can be in flight.
func (s *Store) ClearChallenges() ([]uint, error) {
	ids, err := s.listIDs(filepath.Join(s.root, tempDir), challengePfx)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := s.DeleteChallenge(id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// Checksum hashes every generated file, in name order, for the reload audit trail.
func (s *Store) Checksum() (string, error) {
	var files []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), confExt) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk config dir: %w", err)
	}
	sort.Strings(files)

	h := sha256.New()
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", f, err)
		}
		rel, _ := filepath.Rel(s.root, f)
		fmt.Fprintf(h, "%s\x00%d\x00", rel, len(data))
		h.Write(data)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// EnsureFallbackCertificate creates the self-signed key pair for the default
// HTTPS server when either half is missing. It reports whether files were created.
func (s *Store) EnsureFallbackCertificate() (bool, error) {
	files := s.FallbackCertificate()
	if fileExists(files.CertPath) && fileExists(files.KeyPath) {
		return false, nil
	}

	key, err := certcrypto.GeneratePrivateKey(certcrypto.RSA2048)
	if err != nil {
		return false, fmt.Errorf("generate fallback key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return false, errors.New("generate fallback key: unexpected key type")
	}
	certPEM, err := certcrypto.GeneratePemCert(rsaKey, "default.local", nil)
	if err != nil {
		return false, fmt.Errorf("generate fallback certificate: %w", err)
	}

	if err := atomicwriter.WriteFile(files.KeyPath, certcrypto.PEMEncode(key), 0o600); err != nil {
		return false, fmt.Errorf("write fallback key: %w", err)
	}
	if err := atomicwriter.WriteFile(files.CertPath, certPEM, 0o644); err != nil {
		return false, fmt.Errorf("write fallback certificate: %w", err)
	}
	logger.Component("nginx").WithField("path", files.CertPath).Info("generated self-signed fallback certificate")
	return true, nil
}

func (s *Store) listIDs(dir, prefix string) ([]uint, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var ids []uint
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, confExt) {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, prefix), confExt), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, uint(n))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
