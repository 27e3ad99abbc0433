package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Wikid82/ferryman/internal/logger"
	"github.com/Wikid82/ferryman/internal/models"
	"github.com/Wikid82/ferryman/internal/nginx"
)

// HostStore is the slice of proxy host persistence the pipeline needs.
type HostStore interface {
	List() ([]models.ProxyHost, error)
	ListByIDs(ids []uint) ([]models.ProxyHost, error)
	FindEnabledOverlapping(domains []string) ([]models.ProxyHost, error)
	SetEnabled(ids []uint, enabled bool) error
	SetCertificate(id uint, certID *uint) error
	DetachCertificate(certID uint) ([]uint, error)
}

// DefaultPageStore returns the page configured for a port type.
type DefaultPageStore interface {
	Get(portType string) (models.DefaultPage, error)
}

// SyncService regenerates the whole config directory from stored records and
// applies it with a single reload.
type SyncService struct {
	hosts    HostStore
	pages    DefaultPageStore
	renderer *nginx.Renderer
	store    *nginx.Store
	files    *CertificateFiles
	reloader *Reloader
}

// NewSyncService wires the pipeline together.
func NewSyncService(hosts HostStore, pages DefaultPageStore, renderer *nginx.Renderer, store *nginx.Store, files *CertificateFiles, reloader *Reloader) *SyncService {
	return &SyncService{
		hosts:    hosts,
		pages:    pages,
		renderer: renderer,
		store:    store,
		files:    files,
		reloader: reloader,
	}
}

// Sync renders every non-deleted host, removes files for hosts that no longer
// exist, rewrites the default servers and reloads once. Nothing is written when
// any host fails to render.
func (s *SyncService) Sync(ctx context.Context) error {
	return s.sync(ctx, TriggerSync)
}

// Bootstrap prepares the config directory at process start: the self-signed
// fallback pair is created if absent, leftover challenge configs from an
// interrupted issuance are removed, then a full Sync runs.
func (s *SyncService) Bootstrap(ctx context.Context) error {
	if _, err := s.store.EnsureFallbackCertificate(); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	cleared, err := s.store.ClearChallenges()
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if len(cleared) > 0 {
		logger.Component("sync").WithField("cert_ids", cleared).Warn("removed leftover challenge configs")
	}
	return s.sync(ctx, TriggerBootstrap)
}

func (s *SyncService) sync(ctx context.Context, trigger string) error {
	start := time.Now()
	var written, pruned int

	err := s.reloader.Apply(ctx, trigger, func() error {
		hosts, err := s.hosts.List()
		if err != nil {
			return fmt.Errorf("load proxy hosts: %w", err)
		}
		rendered, err := s.render(hosts)
		if err != nil {
			return err
		}
		defaults, err := s.renderDefaults()
		if err != nil {
			return err
		}

		keep := make(map[uint]struct{}, len(hosts))
		for i, h := range hosts {
			if err := s.store.Write(h.ID, rendered[i]); err != nil {
				return err
			}
			keep[h.ID] = struct{}{}
		}
		removed, err := s.store.Prune(keep)
		if err != nil {
			return err
		}
		for i, portType := range defaultPortTypes {
			if err := s.store.WriteDefault(portType, defaults[i]); err != nil {
				return err
			}
		}
		written, pruned = len(hosts), len(removed)
		return nil
	})

	log := logger.Component("sync").WithFields(logrus.Fields{
		"trigger":  trigger,
		"hosts":    written,
		"pruned":   pruned,
		"duration": time.Since(start).Round(time.Millisecond).String(),
	})
	if err != nil {
		log.WithError(err).Error("config sync failed")
		return err
	}
	log.Info("config sync applied")
	return nil
}

// writeHosts re-renders only ids. Callers must hold the reload lock, i.e. call
// it from inside Reloader.Apply.
func (s *SyncService) writeHosts(ids []uint) error {
	hosts, err := s.hosts.ListByIDs(ids)
	if err != nil {
		return fmt.Errorf("load proxy hosts: %w", err)
	}
	rendered, err := s.render(hosts)
	if err != nil {
		return err
	}
	for i, h := range hosts {
		if err := s.store.Write(h.ID, rendered[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *SyncService) render(hosts []models.ProxyHost) ([]string, error) {
	out := make([]string, len(hosts))
	for i := range hosts {
		text, err := s.renderer.Render(&hosts[i], s.files.Resolve(hosts[i].Certificate))
		if err != nil {
			return nil, err
		}
		out[i] = text
	}
	return out, nil
}

var defaultPortTypes = []string{models.PortHTTP, models.PortHTTPS}

func (s *SyncService) renderDefaults() ([]string, error) {
	out := make([]string, len(defaultPortTypes))
	for i, portType := range defaultPortTypes {
		page, err := s.pages.Get(portType)
		if err != nil {
			return nil, fmt.Errorf("load default page %s: %w", portType, err)
		}
		if out[i], err = s.renderer.RenderDefaultPage(portType, page); err != nil {
			return nil, err
		}
	}
	return out, nil
}
