package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/ferryman/internal/models"
	"github.com/Wikid82/ferryman/internal/nginx"
	"github.com/Wikid82/ferryman/internal/services"
)

type okWebserver struct{}

func (okWebserver) Test(ctx context.Context) error   { return nil }
func (okWebserver) Reload(ctx context.Context) error { return nil }

func TestSyncHandler(t *testing.T) {
	db := OpenTestDB(t)
	reloader := services.NewReloader(okWebserver{}, nil, db)
	require.NoError(t, reloader.Apply(context.Background(), services.TriggerSync, nil))
	syncer := &fakeSyncer{}

	r, api := newRouter()
	NewSyncHandler(syncer, reloader).RegisterRoutes(api)

	w := doJSON(t, r, http.MethodPost, "/api/v1/sync", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, syncer.count())

	syncer.err = &nginx.ReloadError{Command: "nginx -t", Output: "unknown directive", Err: errors.New("exit status 1")}
	w = doJSON(t, r, http.MethodPost, "/api/v1/sync", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "unknown directive", body["output"])

	w = doJSON(t, r, http.MethodGet, "/api/v1/reloads?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var audits []models.ReloadAudit
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &audits))
	require.Len(t, audits, 1)
	assert.True(t, audits[0].Success)

	w = doJSON(t, r, http.MethodGet, "/api/v1/reloads?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
