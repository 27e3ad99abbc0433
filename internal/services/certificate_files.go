package services

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/Wikid82/ferryman/internal/models"
	"github.com/Wikid82/ferryman/internal/nginx"
)

// MaterialLocator maps a certificate record to the files certbot maintains for it.
type MaterialLocator interface {
	CertPath(certID uint) string
	KeyPath(certID uint) string
}

// CertificateFiles decides whether a host's certificate can be served.
type CertificateFiles struct {
	letsEncrypt MaterialLocator
	customDir   string
	prefix      string
}

// NewCertificateFiles resolves letsencrypt material through locator and custom
// material under customDir/<prefix>-<id>/.
func NewCertificateFiles(locator MaterialLocator, customDir, prefix string) *CertificateFiles {
	return &CertificateFiles{letsEncrypt: locator, customDir: customDir, prefix: prefix}
}

// Resolve returns the TLS files for cert, or nil when the certificate is
// missing, deleted, still pending, or its files are not on disk.
func (f *CertificateFiles) Resolve(cert *models.Certificate) *nginx.TLSFiles {
	if cert == nil || cert.ID == 0 || cert.IsDeleted {
		return nil
	}

	var files nginx.TLSFiles
	switch cert.Provider {
	case models.ProviderLetsEncrypt:
		if cert.IsPending() {
			return nil
		}
		files = nginx.TLSFiles{CertPath: f.letsEncrypt.CertPath(cert.ID), KeyPath: f.letsEncrypt.KeyPath(cert.ID)}
	case models.ProviderCustom:
		dir := filepath.Join(f.customDir, f.prefix+"-"+strconv.FormatUint(uint64(cert.ID), 10))
		files = nginx.TLSFiles{CertPath: filepath.Join(dir, "fullchain.pem"), KeyPath: filepath.Join(dir, "privkey.pem")}
	default:
		return nil
	}

	if !regularFile(files.CertPath) || !regularFile(files.KeyPath) {
		return nil
	}
	return &files
}

func regularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
