package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/ferryman/internal/acme"
	"github.com/Wikid82/ferryman/internal/api/middleware"
	"github.com/Wikid82/ferryman/internal/nginx"
)

// Syncer re-derives the webserver configuration from the database.
type Syncer interface {
	Sync(ctx context.Context) error
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

// applyError answers a request whose change was stored but could not be
// applied to the webserver.
func applyError(c *gin.Context, err error) {
	middleware.GetRequestLogger(c).WithError(err).Error("failed to apply configuration")
	body := gin.H{"error": err.Error()}
	var reloadErr *nginx.ReloadError
	var acmeErr *acme.AcmeError
	switch {
	case errors.As(err, &reloadErr):
		body["output"] = reloadErr.Output
	case errors.As(err, &acmeErr):
		body["output"] = acmeErr.Output
	}
	c.JSON(http.StatusBadGateway, body)
}
