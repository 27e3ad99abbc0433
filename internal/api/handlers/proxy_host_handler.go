package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Wikid82/ferryman/internal/api/middleware"
	"github.com/Wikid82/ferryman/internal/models"
	"github.com/Wikid82/ferryman/internal/services"
)

// ProxyHostHandler handles CRUD operations for proxy hosts. Every change is
// followed by a sync.
type ProxyHostHandler struct {
	service *services.ProxyHostService
	sync    Syncer
}

// NewProxyHostHandler creates a new proxy host handler.
func NewProxyHostHandler(service *services.ProxyHostService, sync Syncer) *ProxyHostHandler {
	return &ProxyHostHandler{service: service, sync: sync}
}

// RegisterRoutes registers proxy host routes.
func (h *ProxyHostHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/proxy-hosts", h.List)
	router.POST("/proxy-hosts", h.Create)
	router.GET("/proxy-hosts/:id", h.Get)
	router.PUT("/proxy-hosts/:id", h.Update)
	router.DELETE("/proxy-hosts/:id", h.Delete)
}

// List retrieves all proxy hosts.
func (h *ProxyHostHandler) List(c *gin.Context) {
	hosts, err := h.service.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, hosts)
}

// Get retrieves a proxy host by ID.
func (h *ProxyHostHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	host, err := h.service.GetByID(id)
	if err != nil {
		h.lookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, host)
}

// Create stores a new proxy host and applies it. When the configuration
// cannot be applied the host is removed again.
func (h *ProxyHostHandler) Create(c *gin.Context) {
	var host models.ProxyHost
	if err := c.ShouldBindJSON(&host); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.Create(&host); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.sync.Sync(c.Request.Context()); err != nil {
		if delErr := h.service.Delete(host.ID); delErr != nil {
			middleware.GetRequestLogger(c).WithFields(logrus.Fields{
				"host_id": host.ID,
				"error":   delErr.Error(),
			}).Error("failed to roll back proxy host")
		}
		applyError(c, err)
		return
	}

	created, err := h.service.GetByID(host.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, created)
}

// Update replaces a proxy host and applies it.
func (h *ProxyHostHandler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var payload models.ProxyHost
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	host, err := h.service.Update(id, &payload)
	if err != nil {
		if errors.Is(err, services.ErrProxyHostNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.sync.Sync(c.Request.Context()); err != nil {
		applyError(c, err)
		return
	}
	c.JSON(http.StatusOK, host)
}

// Delete removes a proxy host and applies the change.
func (h *ProxyHostHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.service.Delete(id); err != nil {
		h.lookupError(c, err)
		return
	}
	if err := h.sync.Sync(c.Request.Context()); err != nil {
		applyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "proxy host deleted"})
}

func (h *ProxyHostHandler) lookupError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrProxyHostNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
