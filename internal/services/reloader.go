package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Wikid82/ferryman/internal/logger"
	"github.com/Wikid82/ferryman/internal/metrics"
	"github.com/Wikid82/ferryman/internal/models"
)

// Reload triggers recorded in the audit trail.
const (
	TriggerSync      = "sync"
	TriggerBootstrap = "bootstrap"
	TriggerIssue     = "issue"
	TriggerRenew     = "renew"
	TriggerRevoke    = "revoke"
)

// Webserver validates and applies the on-disk configuration.
type Webserver interface {
	Test(ctx context.Context) error
	Reload(ctx context.Context) error
}

// ConfigChecksum fingerprints the config directory for the audit trail.
type ConfigChecksum interface {
	Checksum() (string, error)
}

// Reloader serializes every write-then-reload sequence. Sync, issuance,
// renewal and revocation all go through the same Reloader so no two of them
// interleave their writes or reloads.
type Reloader struct {
	mu        sync.Mutex
	webserver Webserver
	checksum  ConfigChecksum
	db        *gorm.DB
}

// NewReloader builds a Reloader. db may be nil to skip the audit trail.
func NewReloader(webserver Webserver, checksum ConfigChecksum, db *gorm.DB) *Reloader {
	return &Reloader{webserver: webserver, checksum: checksum, db: db}
}

// Apply runs write under the reload lock and, if it succeeds, reloads the
// webserver. Reload refuses to act unless the config test passes. A nil write
// only reloads.
func (r *Reloader) Apply(ctx context.Context, trigger string, write func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if write != nil {
		if err := write(); err != nil {
			return err
		}
	}

	err := r.webserver.Reload(ctx)
	metrics.ObserveReload(trigger, err)
	r.audit(trigger, err)

	log := logger.Component("reloader").WithField("trigger", trigger)
	if err != nil {
		log.WithError(err).Error("webserver reload failed, previous configuration stays active")
		return err
	}
	log.Debug("webserver reloaded")
	return nil
}

func (r *Reloader) audit(trigger string, reloadErr error) {
	if r.db == nil {
		return
	}
	entry := models.ReloadAudit{
		Trigger:   trigger,
		AppliedAt: time.Now().UTC(),
		Success:   reloadErr == nil,
	}
	if reloadErr != nil {
		entry.ErrorMsg = reloadErr.Error()
	}
	if r.checksum != nil {
		if sum, err := r.checksum.Checksum(); err == nil {
			entry.ConfigHash = sum
		}
	}
	if err := r.db.Create(&entry).Error; err != nil {
		logger.Component("reloader").WithFields(logrus.Fields{
			"trigger": trigger,
			"error":   err.Error(),
		}).Warn("failed to record reload audit")
	}
}

// History returns up to limit audit entries, newest first.
func (r *Reloader) History(limit int) ([]models.ReloadAudit, error) {
	if r.db == nil {
		return nil, nil
	}
	var audits []models.ReloadAudit
	err := r.db.Order("applied_at DESC, id DESC").Limit(limit).Find(&audits).Error
	return audits, err
}
