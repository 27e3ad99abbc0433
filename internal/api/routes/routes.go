package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Wikid82/ferryman/internal/api/handlers"
	"github.com/Wikid82/ferryman/internal/services"
)

// Dependencies are the long-lived services the API drives. They are built once
// by the caller and shared with the background renewal loop.
type Dependencies struct {
	Hosts     *services.ProxyHostService
	Certs     *services.CertificateService
	Pages     *services.DefaultPageService
	Sync      *services.SyncService
	Lifecycle handlers.CertificateLifecycle
	Reloader  *services.Reloader
	// Gatherer backs /metrics; nil skips the endpoint.
	Gatherer     prometheus.Gatherer
	DefaultEmail string
}

// Register wires up API routes.
func Register(router *gin.Engine, deps Dependencies) {
	router.GET("/api/v1/health", handlers.HealthHandler)
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api/v1")

	handlers.NewProxyHostHandler(deps.Hosts, deps.Sync).RegisterRoutes(api)
	handlers.NewCertificateHandler(deps.Certs, deps.Lifecycle, deps.Sync, deps.DefaultEmail).RegisterRoutes(api)
	handlers.NewDefaultPageHandler(deps.Pages, deps.Sync).RegisterRoutes(api)
	handlers.NewSyncHandler(deps.Sync, deps.Reloader).RegisterRoutes(api)
}
