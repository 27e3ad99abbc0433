package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/ferryman/internal/models"
	"github.com/Wikid82/ferryman/internal/services"
)

type fakeSyncer struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeSyncer) Sync(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeSyncer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeLifecycle persists issued certificates through the real store so the
// handlers can read them back.
type fakeLifecycle struct {
	certs    *services.CertificateService
	issueErr error
	renewErr error
	revoked  []uint
	renewed  []uint
	emails   []string
	ctxErrs  []error
	failures map[uint]string
}

func (f *fakeLifecycle) Issue(ctx context.Context, cert *models.Certificate, email string) error {
	f.emails = append(f.emails, email)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if f.issueErr != nil {
		return f.issueErr
	}
	cert.ExpiresOn = cert.CreatedAt.Add(90 * 24 * time.Hour)
	return f.certs.Create(cert)
}

func (f *fakeLifecycle) RenewOne(ctx context.Context, cert *models.Certificate) error {
	f.renewed = append(f.renewed, cert.ID)
	return f.renewErr
}

func (f *fakeLifecycle) Revoke(ctx context.Context, cert *models.Certificate) error {
	f.revoked = append(f.revoked, cert.ID)
	return f.certs.SoftDelete(cert.ID)
}

func (f *fakeLifecycle) SweepExpiring(ctx context.Context) (services.SweepResult, error) {
	return services.SweepResult{Candidates: 2, Renewed: 1, Failed: 1}, nil
}

func (f *fakeLifecycle) Status(cert *models.Certificate, now time.Time) string {
	if cert.IsPending() {
		return services.StatusPending
	}
	return services.StatusActive
}

func (f *fakeLifecycle) LastFailure(certID uint) (string, bool) {
	msg, ok := f.failures[certID]
	return msg, ok
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func newRouter() (*gin.Engine, *gin.RouterGroup) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	return r, r.Group("/api/v1")
}
