package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/ferryman/internal/models"
	"github.com/Wikid82/ferryman/internal/services"
)

// DefaultPageHandler configures the catch-all servers.
type DefaultPageHandler struct {
	pages *services.DefaultPageService
	sync  Syncer
}

func NewDefaultPageHandler(pages *services.DefaultPageService, sync Syncer) *DefaultPageHandler {
	return &DefaultPageHandler{pages: pages, sync: sync}
}

func (h *DefaultPageHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/default-pages/:port", h.Get)
	router.PUT("/default-pages/:port", h.Put)
}

func (h *DefaultPageHandler) Get(c *gin.Context) {
	port, ok := portType(c)
	if !ok {
		return
	}
	page, err := h.pages.Get(port)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *DefaultPageHandler) Put(c *gin.Context) {
	port, ok := portType(c)
	if !ok {
		return
	}
	var page models.DefaultPage
	if err := c.ShouldBindJSON(&page); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	page.PortType = port
	if err := h.pages.Upsert(&page); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.sync.Sync(c.Request.Context()); err != nil {
		applyError(c, err)
		return
	}
	stored, err := h.pages.Get(port)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stored)
}

func portType(c *gin.Context) (string, bool) {
	port := c.Param("port")
	if port != models.PortHTTP && port != models.PortHTTPS {
		c.JSON(http.StatusBadRequest, gin.H{"error": "port must be http or https"})
		return "", false
	}
	return port, true
}
