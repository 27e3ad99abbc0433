package main

import (
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"

	"github.com/Wikid82/ferryman/internal/acme"
	"github.com/Wikid82/ferryman/internal/api/routes"
	"github.com/Wikid82/ferryman/internal/config"
	"github.com/Wikid82/ferryman/internal/database"
	"github.com/Wikid82/ferryman/internal/executor"
	"github.com/Wikid82/ferryman/internal/metrics"
	"github.com/Wikid82/ferryman/internal/nginx"
	"github.com/Wikid82/ferryman/internal/services"
)

// app holds the long-lived services. Build it once per process: the reload
// lock and the sweep guard live on these structs.
type app struct {
	cfg      config.Config
	db       *gorm.DB
	hosts    *services.ProxyHostService
	certs    *services.CertificateService
	pages    *services.DefaultPageService
	reloader *services.Reloader
	sync     *services.SyncService
	manager  *services.CertificateManager
	notifier *services.NotificationService
	registry *prometheus.Registry
}

func newApp(cfg config.Config, runner executor.Runner) (*app, error) {
	db, err := database.Connect(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	store, err := nginx.NewStore(cfg.Nginx.ConfigDir)
	if err != nil {
		return nil, err
	}
	fallback := store.FallbackCertificate()
	renderer := nginx.MustNewRenderer(nginx.RendererOptions{
		ChallengeDir:     cfg.ACME.ChallengeDir,
		LogDir:           cfg.Nginx.LogDir,
		DefaultCertPath:  fallback.CertPath,
		DefaultKeyPath:   fallback.KeyPath,
		CacheDir:         cfg.Nginx.CacheDir,
		ModSecurityRules: cfg.Nginx.ModSecurityRules,
	})

	opts := []nginx.ControllerOption{nginx.WithBinary(cfg.Nginx.Binary), nginx.WithTimeout(cfg.Nginx.Timeout)}
	if cfg.Nginx.ConfigFile != "" {
		opts = append(opts, nginx.WithConfigFile(cfg.Nginx.ConfigFile))
	}
	controller := nginx.NewController(runner, opts...)

	client := acme.NewClient(runner, acme.Options{
		Binary:       cfg.ACME.Binary,
		ConfigDir:    cfg.ACME.ConfigDir,
		WorkDir:      cfg.ACME.WorkDir,
		LogsDir:      cfg.ACME.LogsDir,
		ChallengeDir: cfg.ACME.ChallengeDir,
		CertPrefix:   cfg.ACME.CertPrefix,
		Staging:      cfg.ACME.Staging,
		Timeout:      cfg.ACME.Timeout,
	})

	a := &app{
		cfg:      cfg,
		db:       db,
		hosts:    services.NewProxyHostService(db),
		certs:    services.NewCertificateService(db),
		pages:    services.NewDefaultPageService(db),
		notifier: services.NewNotificationService(cfg.NotifyURLs),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(a.registry)

	a.reloader = services.NewReloader(controller, store, db)
	files := services.NewCertificateFiles(client, filepath.Clean(cfg.Nginx.CustomCertDir), cfg.ACME.CertPrefix)
	a.sync = services.NewSyncService(a.hosts, a.pages, renderer, store, files, a.reloader)
	a.manager = services.NewCertificateManager(a.certs, a.hosts, client, a.sync, a.notifier, services.CertificateManagerOptions{
		Window:   cfg.Renewal.Window,
		Interval: cfg.Renewal.Interval,
	})
	return a, nil
}

func (a *app) dependencies() routes.Dependencies {
	return routes.Dependencies{
		Hosts:        a.hosts,
		Certs:        a.certs,
		Pages:        a.pages,
		Sync:         a.sync,
		Lifecycle:    a.manager,
		Reloader:     a.reloader,
		Gatherer:     a.registry,
		DefaultEmail: a.cfg.ACME.Email,
	}
}

func (a *app) close() {
	a.notifier.Wait()
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
