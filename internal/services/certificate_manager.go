package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/Wikid82/ferryman/internal/acme"
	"github.com/Wikid82/ferryman/internal/logger"
	"github.com/Wikid82/ferryman/internal/metrics"
	"github.com/Wikid82/ferryman/internal/models"
	"github.com/Wikid82/ferryman/internal/nginx"
	"github.com/Wikid82/ferryman/internal/util"
)

// Certificate lifecycle states reported by Status.
const (
	StatusPending  = "pending"
	StatusActive   = "active"
	StatusExpiring = "expiring"
	StatusRenewing = "renewing"
	StatusFailed   = "failed"
	StatusRevoked  = "revoked"
)

// metaDisabledHosts records which hosts an in-flight issuance disabled, so a
// crash mid-issuance can be undone at the next start.
const metaDisabledHosts = "disabled_host_ids"

// rollbackTimeout bounds the reload that undoes a failed issuance. Rollback
// does not inherit the caller's cancellation.
const rollbackTimeout = 2 * time.Minute

// CertificateStore is the slice of certificate persistence the manager needs.
type CertificateStore interface {
	Create(cert *models.Certificate) error
	GetByID(id uint) (*models.Certificate, error)
	UpdateExpiry(id uint, expiresOn time.Time) error
	SetMeta(id uint, meta datatypes.JSONMap) error
	SoftDelete(id uint) error
	Purge(id uint) error
	ListRenewalCandidates(cutoff time.Time) ([]models.Certificate, error)
	ListInterrupted() ([]models.Certificate, error)
}

// AcmeClient issues, renews and revokes certificate material.
type AcmeClient interface {
	RequestCertificate(ctx context.Context, certID uint, domains []string, email string) error
	Renew(ctx context.Context, certID uint) error
	Revoke(ctx context.Context, certID uint)
	ReadExpiry(certID uint) (acme.Validity, error)
}

// Notifier receives failure notices.
type Notifier interface {
	Notify(title, message string)
}

// CertificateManagerOptions tunes renewal.
type CertificateManagerOptions struct {
	// Window is how long before expiry a certificate becomes due.
	Window time.Duration
	// Interval between scheduled sweeps.
	Interval time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Skipped    bool `json:"skipped"`
	Candidates int  `json:"candidates"`
	Renewed    int  `json:"renewed"`
	Failed     int  `json:"failed"`
}

// CertificateManager drives issuance, renewal and revocation while keeping the
// fleet serving. It shares the Reloader with SyncService.
type CertificateManager struct {
	certs    CertificateStore
	hosts    HostStore
	acme     AcmeClient
	sync     *SyncService
	renderer *nginx.Renderer
	store    *nginx.Store
	reloader *Reloader
	notifier Notifier

	window   time.Duration
	interval time.Duration
	now      func() time.Time

	sweeping atomic.Bool

	stateMu  sync.Mutex
	renewing map[uint]struct{}
	issuing  map[uint]struct{}
	failures map[uint]string

	scheduler *cron.Cron
	initial   sync.WaitGroup
}

// NewCertificateManager wires the manager. notifier may be nil.
func NewCertificateManager(certs CertificateStore, hosts HostStore, client AcmeClient, syncSvc *SyncService, notifier Notifier, opts CertificateManagerOptions) *CertificateManager {
	if opts.Window <= 0 {
		opts.Window = 30 * 24 * time.Hour
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &CertificateManager{
		certs:    certs,
		hosts:    hosts,
		acme:     client,
		sync:     syncSvc,
		renderer: syncSvc.renderer,
		store:    syncSvc.store,
		reloader: syncSvc.reloader,
		notifier: notifier,
		window:   opts.Window,
		interval: opts.Interval,
		now:      opts.Now,
		renewing: make(map[uint]struct{}),
		issuing:  make(map[uint]struct{}),
		failures: make(map[uint]string),
	}
}

// issuance tracks how far Issue got so rollback undoes exactly that much.
type issuance struct {
	cert      *models.Certificate
	hostIDs   []uint
	prevCerts map[uint]*uint
	disabled  bool
	issued    bool
	attached  bool
	reenabled bool
}

// Issue obtains material for cert. Enabled hosts sharing a domain with cert are
// disabled while the HTTP-01 challenge is served, then re-enabled with cert
// attached. On any failure the fleet is put back as it was and the certificate
// record is removed. An unsaved cert is persisted first.
func (m *CertificateManager) Issue(ctx context.Context, cert *models.Certificate, email string) (err error) {
	if cert.Provider != models.ProviderLetsEncrypt {
		return fmt.Errorf("certificate provider %q is not managed", cert.Provider)
	}
	if err := cert.Validate(); err != nil {
		return err
	}
	if cert.ID == 0 {
		if err := m.certs.Create(cert); err != nil {
			return fmt.Errorf("create certificate: %w", err)
		}
	}

	log := logger.Component("certificates").WithFields(logrus.Fields{
		"cert_id": cert.ID,
		"domains": util.SanitizeForLog(cert.NiceName),
	})
	log.Info("issuing certificate")

	st := &issuance{cert: cert, prevCerts: map[uint]*uint{}}
	certID := cert.ID
	m.setIssuing(certID, true)
	defer func() {
		m.setIssuing(certID, false)
		metrics.ObserveIssuance(err)
		if err == nil {
			return
		}
		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		defer cancel()
		if rbErr := m.rollbackIssue(rbCtx, st); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		log.WithError(err).Error("certificate issuance failed")
		if m.notifier != nil {
			m.notifier.Notify("Certificate issuance failed", fmt.Sprintf("Certificate #%d (%s): %v", certID, cert.NiceName, err))
		}
	}()

	if err = m.reloader.Apply(ctx, TriggerIssue, func() error { return m.prepareChallenge(st) }); err != nil {
		return err
	}

	if err = m.acme.RequestCertificate(ctx, cert.ID, cert.Domains(), email); err != nil {
		return err
	}
	st.issued = true

	validity, err := m.acme.ReadExpiry(cert.ID)
	if err != nil {
		return err
	}
	if err = m.certs.UpdateExpiry(cert.ID, validity.NotAfter); err != nil {
		return fmt.Errorf("persist expiry: %w", err)
	}
	cert.ExpiresOn = validity.NotAfter

	if err = m.reloader.Apply(ctx, TriggerIssue, func() error { return m.activate(st) }); err != nil {
		return err
	}

	if err := m.certs.SetMeta(cert.ID, datatypes.JSONMap{}); err != nil {
		log.WithError(err).Warn("failed to clear issuance metadata")
	}
	log.WithFields(logrus.Fields{
		"expires_on": cert.ExpiresOn.Format(time.RFC3339),
		"hosts":      st.hostIDs,
	}).Info("certificate issued")
	return nil
}

// prepareChallenge runs under the reload lock.
func (m *CertificateManager) prepareChallenge(st *issuance) error {
	overlapping, err := m.hosts.FindEnabledOverlapping(st.cert.Domains())
	if err != nil {
		return fmt.Errorf("find overlapping hosts: %w", err)
	}
	for _, h := range overlapping {
		st.hostIDs = append(st.hostIDs, h.ID)
		st.prevCerts[h.ID] = h.CertificateID
	}

	if len(st.hostIDs) > 0 {
		meta := datatypes.JSONMap{metaDisabledHosts: st.hostIDs}
		if err := m.certs.SetMeta(st.cert.ID, meta); err != nil {
			return fmt.Errorf("record disabled hosts: %w", err)
		}
		if err := m.hosts.SetEnabled(st.hostIDs, false); err != nil {
			return fmt.Errorf("disable hosts: %w", err)
		}
		st.disabled = true
		if err := m.sync.writeHosts(st.hostIDs); err != nil {
			return err
		}
	}

	text, err := m.renderer.RenderChallenge(st.cert)
	if err != nil {
		return err
	}
	return m.store.WriteChallenge(st.cert.ID, text)
}

// activate runs under the reload lock.
func (m *CertificateManager) activate(st *issuance) error {
	if err := m.store.DeleteChallenge(st.cert.ID); err != nil {
		return err
	}
	if len(st.hostIDs) == 0 {
		return nil
	}
	if err := m.hosts.SetEnabled(st.hostIDs, true); err != nil {
		return fmt.Errorf("re-enable hosts: %w", err)
	}
	st.reenabled = true
	certID := st.cert.ID
	for _, id := range st.hostIDs {
		if err := m.hosts.SetCertificate(id, &certID); err != nil {
			return fmt.Errorf("attach certificate to host %d: %w", id, err)
		}
		st.attached = true
	}
	return m.sync.writeHosts(st.hostIDs)
}

func (m *CertificateManager) rollbackIssue(ctx context.Context, st *issuance) error {
	log := logger.Component("certificates").WithField("cert_id", st.cert.ID)

	applyErr := m.reloader.Apply(ctx, TriggerIssue, func() error {
		var errs []error
		if err := m.store.DeleteChallenge(st.cert.ID); err != nil {
			errs = append(errs, err)
		}
		if st.attached {
			for _, id := range st.hostIDs {
				if err := m.hosts.SetCertificate(id, st.prevCerts[id]); err != nil {
					errs = append(errs, fmt.Errorf("restore certificate on host %d: %w", id, err))
				}
			}
		}
		if st.disabled && !st.reenabled {
			if err := m.hosts.SetEnabled(st.hostIDs, true); err != nil {
				errs = append(errs, fmt.Errorf("re-enable hosts: %w", err))
			} else {
				st.reenabled = true
			}
		}
		if len(st.hostIDs) > 0 {
			if err := m.sync.writeHosts(st.hostIDs); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
	if applyErr != nil {
		log.WithError(applyErr).Error("issuance rollback did not fully apply; the next sync will reconcile")
	}

	if st.issued {
		m.acme.Revoke(ctx, st.cert.ID)
	}
	if err := m.certs.Purge(st.cert.ID); err != nil {
		return errors.Join(applyErr, fmt.Errorf("remove certificate record: %w", err))
	}
	st.cert.ID = 0
	return applyErr
}

// RenewOne renews a single certificate. On success the new expiry is stored and
// the webserver reloaded once; on failure the stored expiry is left alone so the
// next sweep retries.
func (m *CertificateManager) RenewOne(ctx context.Context, cert *models.Certificate) (err error) {
	log := logger.Component("certificates").WithFields(logrus.Fields{
		"cert_id":    cert.ID,
		"expires_on": cert.ExpiresOn.UTC().Format(time.RFC3339),
	})

	m.setRenewing(cert.ID, true)
	defer func() {
		m.setRenewing(cert.ID, false)
		m.recordOutcome(cert.ID, err)
		metrics.ObserveRenewal(err)
		if err != nil {
			log.WithError(err).Error("certificate renewal failed, will retry on next sweep")
			if m.notifier != nil {
				m.notifier.Notify("Certificate renewal failed", fmt.Sprintf("Certificate #%d (%s): %v", cert.ID, cert.NiceName, err))
			}
		}
	}()

	if err = m.acme.Renew(ctx, cert.ID); err != nil {
		return err
	}
	validity, err := m.acme.ReadExpiry(cert.ID)
	if err != nil {
		return err
	}
	if err = m.certs.UpdateExpiry(cert.ID, validity.NotAfter); err != nil {
		return fmt.Errorf("persist expiry: %w", err)
	}
	cert.ExpiresOn = validity.NotAfter

	if err = m.reloader.Apply(ctx, TriggerRenew, nil); err != nil {
		return err
	}
	log.WithField("new_expires_on", validity.NotAfter.Format(time.RFC3339)).Info("certificate renewed")
	return nil
}

// SweepExpiring renews, one at a time, every managed certificate expiring
// within the renewal window. A sweep already in progress makes this a no-op.
// Individual renewal failures are counted, not returned.
func (m *CertificateManager) SweepExpiring(ctx context.Context) (SweepResult, error) {
	if !m.sweeping.CompareAndSwap(false, true) {
		logger.Component("renewal").Debug("sweep already in progress, skipping")
		return SweepResult{Skipped: true}, nil
	}
	defer m.sweeping.Store(false)

	start := time.Now()
	candidates, err := m.renewalCandidates()
	if err != nil {
		return SweepResult{}, err
	}

	res := SweepResult{Candidates: len(candidates)}
	for i := range candidates {
		if ctx.Err() != nil {
			break
		}
		if err := m.RenewOne(ctx, &candidates[i]); err != nil {
			res.Failed++
			continue
		}
		res.Renewed++
	}

	metrics.ObserveSweep(res.Candidates, time.Since(start))
	logger.Component("renewal").WithFields(logrus.Fields{
		"candidates": res.Candidates,
		"renewed":    res.Renewed,
		"failed":     res.Failed,
	}).Info("renewal sweep finished")
	return res, ctx.Err()
}

func (m *CertificateManager) renewalCandidates() ([]models.Certificate, error) {
	cutoff := models.NormalizeTime(m.now().Add(m.window))
	listed, err := m.certs.ListRenewalCandidates(cutoff)
	if err != nil {
		return nil, fmt.Errorf("list renewal candidates: %w", err)
	}
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	out := listed[:0]
	for _, c := range listed {
		if _, inFlight := m.issuing[c.ID]; inFlight {
			continue
		}
		if c.IsManaged() && c.ExpiresOn.Before(cutoff) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Revoke detaches cert from every host, applies that, then revokes the material
// (best effort) and soft-deletes the record.
func (m *CertificateManager) Revoke(ctx context.Context, cert *models.Certificate) error {
	log := logger.Component("certificates").WithField("cert_id", cert.ID)

	var detached []uint
	err := m.reloader.Apply(ctx, TriggerRevoke, func() error {
		ids, err := m.hosts.DetachCertificate(cert.ID)
		if err != nil {
			return err
		}
		detached = ids
		return m.sync.writeHosts(ids)
	})
	if err != nil {
		log.WithError(err).Error("failed to detach certificate from hosts")
		return err
	}

	if cert.Provider == models.ProviderLetsEncrypt {
		m.acme.Revoke(ctx, cert.ID)
	}
	if err := m.certs.SoftDelete(cert.ID); err != nil {
		return fmt.Errorf("delete certificate %d: %w", cert.ID, err)
	}
	cert.IsDeleted = true

	m.stateMu.Lock()
	delete(m.failures, cert.ID)
	m.stateMu.Unlock()

	log.WithField("hosts", detached).Info("certificate revoked")
	return nil
}

// RecoverInterrupted undoes issuances a crash left half done. Hosts they
// disabled are re-enabled. Records that never got material are removed; issued
// ones are kept with their issuance metadata cleared. Call before the first Sync.
func (m *CertificateManager) RecoverInterrupted() error {
	interrupted, err := m.certs.ListInterrupted()
	if err != nil {
		return fmt.Errorf("list interrupted certificates: %w", err)
	}
	for _, c := range interrupted {
		if c.Provider != models.ProviderLetsEncrypt {
			continue
		}
		ids := metaIDs(c.Meta[metaDisabledHosts])
		if err := m.hosts.SetEnabled(ids, true); err != nil {
			return fmt.Errorf("re-enable hosts for certificate %d: %w", c.ID, err)
		}
		if c.IsPending() {
			if err := m.certs.Purge(c.ID); err != nil {
				return fmt.Errorf("remove certificate %d: %w", c.ID, err)
			}
		} else if err := m.certs.SetMeta(c.ID, datatypes.JSONMap{}); err != nil {
			return fmt.Errorf("clear issuance metadata on certificate %d: %w", c.ID, err)
		}
		logger.Component("certificates").WithFields(logrus.Fields{
			"cert_id": c.ID,
			"hosts":   ids,
			"issued":  !c.IsPending(),
		}).Warn("recovered interrupted issuance")
	}
	return nil
}

// Status reports where cert is in its lifecycle at now.
func (m *CertificateManager) Status(cert *models.Certificate, now time.Time) string {
	if cert.IsDeleted {
		return StatusRevoked
	}
	if cert.Provider == models.ProviderLetsEncrypt && cert.IsPending() {
		return StatusPending
	}

	m.stateMu.Lock()
	_, renewing := m.renewing[cert.ID]
	_, failed := m.failures[cert.ID]
	m.stateMu.Unlock()

	switch {
	case renewing:
		return StatusRenewing
	case failed:
		return StatusFailed
	case cert.ExpiresOn.Before(now.Add(m.window)):
		return StatusExpiring
	default:
		return StatusActive
	}
}

// LastFailure returns the most recent renewal error for certID, if any.
func (m *CertificateManager) LastFailure(certID uint) (string, bool) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	msg, ok := m.failures[certID]
	return msg, ok
}

// Start schedules sweeps every interval and runs one immediately. ctx bounds
// the certbot and nginx calls sweeps make.
func (m *CertificateManager) Start(ctx context.Context) {
	m.scheduler = cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(logger.Component("renewal"))),
	))
	m.scheduler.Schedule(cron.Every(m.interval), cron.FuncJob(func() { m.sweepTick(ctx) }))
	m.scheduler.Start()

	m.initial.Add(1)
	go func() {
		defer m.initial.Done()
		m.sweepTick(ctx)
	}()
	logger.Component("renewal").WithField("interval", m.interval.String()).Info("renewal scheduler started")
}

// Stop halts the scheduler and waits for a running sweep to return.
func (m *CertificateManager) Stop() {
	if m.scheduler != nil {
		<-m.scheduler.Stop().Done()
	}
	m.initial.Wait()
}

func (m *CertificateManager) sweepTick(ctx context.Context) {
	if _, err := m.SweepExpiring(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Component("renewal").WithError(err).Error("renewal sweep failed")
	}
}

func (m *CertificateManager) setIssuing(id uint, on bool) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if on {
		m.issuing[id] = struct{}{}
	} else {
		delete(m.issuing, id)
	}
}

func (m *CertificateManager) setRenewing(id uint, on bool) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if on {
		m.renewing[id] = struct{}{}
	} else {
		delete(m.renewing, id)
	}
}

func (m *CertificateManager) recordOutcome(id uint, err error) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if err != nil {
		m.failures[id] = err.Error()
	} else {
		delete(m.failures, id)
	}
}

// metaIDs reads an ID list back out of a JSON metadata value.
func metaIDs(v interface{}) []uint {
	var ids []uint
	switch list := v.(type) {
	case []interface{}:
		for _, item := range list {
			if f, ok := item.(float64); ok && f > 0 {
				ids = append(ids, uint(f))
			}
		}
	case []uint:
		ids = append(ids, list...)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
