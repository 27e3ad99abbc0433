package services

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Wikid82/ferryman/internal/acme"
	"github.com/Wikid82/ferryman/internal/database"
	"github.com/Wikid82/ferryman/internal/executor"
	"github.com/Wikid82/ferryman/internal/models"
	"github.com/Wikid82/ferryman/internal/nginx"
)

// openTestDB creates a SQLite in-memory DB unique per test. A single connection
// keeps concurrent tests from tripping over SQLite table locks.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsnName := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := database.Connect(fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", dsnName))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

var (
	testPEMOnce sync.Once
	testPEM     []byte
	testKeyPEM  []byte
	testPEMErr  error
)

// testMaterial returns one self-signed pair shared by the whole package; it is
// valid for a year from first use.
func testMaterial(t *testing.T) ([]byte, []byte) {
	t.Helper()
	testPEMOnce.Do(func() {
		key, err := certcrypto.GeneratePrivateKey(certcrypto.RSA2048)
		if err != nil {
			testPEMErr = err
			return
		}
		testPEM, testPEMErr = certcrypto.GeneratePemCert(key.(*rsa.PrivateKey), "a.example.com", nil)
		testKeyPEM = certcrypto.PEMEncode(key)
	})
	require.NoError(t, testPEMErr)
	return testPEM, testKeyPEM
}

// recordingHosts counts enable/disable transitions per host.
type recordingHosts struct {
	*ProxyHostService

	mu      sync.Mutex
	toggles map[uint][]bool
}

func (r *recordingHosts) SetEnabled(ids []uint, enabled bool) error {
	r.mu.Lock()
	for _, id := range ids {
		r.toggles[id] = append(r.toggles[id], enabled)
	}
	r.mu.Unlock()
	return r.ProxyHostService.SetEnabled(ids, enabled)
}

func (r *recordingHosts) togglesFor(id uint) []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.toggles[id]...)
}

// nginxCall is one recorded webserver invocation and whether it succeeded.
type nginxCall struct {
	args string
	ok   bool
}

type testEnv struct {
	t        *testing.T
	db       *gorm.DB
	runner   *executor.MockRunner
	store    *nginx.Store
	acme     *acme.Client
	hosts    *recordingHosts
	certs    *CertificateService
	pages    *DefaultPageService
	reloader *Reloader
	sync     *SyncService
	manager  *CertificateManager
	notes    *recordingNotifier

	mu sync.Mutex
	// nginxTest decides the outcome of the n-th (1-based) "nginx -t" call.
	nginxTest func(n int) error
	// certbot overrides the default certbot behavior, which succeeds and
	// writes material for the named certificate.
	certbot    func(args []string) ([]byte, error)
	nginxCalls []nginxCall
	tests      int
}

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *recordingNotifier) Notify(title, message string) {
	n.mu.Lock()
	n.titles = append(n.titles, title)
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.titles)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	env := &testEnv{t: t, db: openTestDB(t)}

	env.runner = &executor.MockRunner{RunFunc: env.run}

	var err error
	env.store, err = nginx.NewStore(filepath.Join(root, "nginx"))
	require.NoError(t, err)
	fallback := env.store.FallbackCertificate()
	renderer, err := nginx.NewRenderer(nginx.RendererOptions{
		ChallengeDir:    filepath.Join(root, "acme-challenge"),
		LogDir:          filepath.Join(root, "logs"),
		DefaultCertPath: fallback.CertPath,
		DefaultKeyPath:  fallback.KeyPath,
	})
	require.NoError(t, err)

	env.acme = acme.NewClient(env.runner, acme.Options{
		ConfigDir:    filepath.Join(root, "letsencrypt"),
		WorkDir:      filepath.Join(root, "letsencrypt-work"),
		LogsDir:      filepath.Join(root, "logs", "letsencrypt"),
		ChallengeDir: filepath.Join(root, "acme-challenge"),
		CertPrefix:   "npm",
		Timeout:      5 * time.Second,
	})

	env.hosts = &recordingHosts{ProxyHostService: NewProxyHostService(env.db), toggles: map[uint][]bool{}}
	env.certs = NewCertificateService(env.db)
	env.pages = NewDefaultPageService(env.db)
	env.notes = &recordingNotifier{}

	controller := nginx.NewController(env.runner, nginx.WithTimeout(5*time.Second))
	env.reloader = NewReloader(controller, env.store, env.db)
	files := NewCertificateFiles(env.acme, filepath.Join(root, "nginx", "custom_ssl"), "npm")
	env.sync = NewSyncService(env.hosts, env.pages, renderer, env.store, files, env.reloader)
	env.manager = NewCertificateManager(env.certs, env.hosts, env.acme, env.sync, env.notes, CertificateManagerOptions{
		Window:   30 * 24 * time.Hour,
		Interval: time.Hour,
	})
	return env
}

func (e *testEnv) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	switch name {
	case "nginx":
		e.mu.Lock()
		defer e.mu.Unlock()
		// a cancelled context kills the process before it runs
		err := ctx.Err()
		if err == nil && len(args) > 0 && args[len(args)-1] == "-t" {
			e.tests++
			if e.nginxTest != nil {
				err = e.nginxTest(e.tests)
			}
		}
		e.nginxCalls = append(e.nginxCalls, nginxCall{args: strings.Join(args, " "), ok: err == nil})
		if err != nil {
			return []byte("nginx: [emerg] test failed"), err
		}
		return nil, nil
	case "certbot":
		e.mu.Lock()
		hook := e.certbot
		e.mu.Unlock()
		if hook != nil {
			return hook(args)
		}
		if args[0] == "certonly" || args[0] == "renew" {
			e.writeMaterial(certIDFromArgs(args))
		}
		return []byte("ok"), nil
	}
	return nil, fmt.Errorf("unexpected command %s", name)
}

// certIDFromArgs extracts N from "--cert-name npm-N".
func certIDFromArgs(args []string) uint {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "--cert-name" {
			var id uint
			_, _ = fmt.Sscanf(args[i+1], "npm-%d", &id)
			return id
		}
	}
	return 0
}

func (e *testEnv) writeMaterial(certID uint) {
	certPEM, keyPEM := testMaterial(e.t)
	dir := e.acme.LiveDir(certID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		panic(err)
	}
	if err := os.WriteFile(e.acme.CertPath(certID), certPEM, 0o644); err != nil {
		panic(err)
	}
	if err := os.WriteFile(e.acme.KeyPath(certID), keyPEM, 0o600); err != nil {
		panic(err)
	}
}

func (e *testEnv) calls() []nginxCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]nginxCall(nil), e.nginxCalls...)
}

func (e *testEnv) reloads() int {
	n := 0
	for _, c := range e.calls() {
		if strings.HasSuffix(c.args, "-s reload") {
			n++
		}
	}
	return n
}

func (e *testEnv) certbotCalls(verb string) []executor.Call {
	var out []executor.Call
	for _, c := range e.runner.Calls() {
		if c.Name == "certbot" && len(c.Args) > 0 && c.Args[0] == verb {
			out = append(out, c)
		}
	}
	return out
}

func (e *testEnv) createHost(domains ...string) *models.ProxyHost {
	e.t.Helper()
	host := &models.ProxyHost{
		DomainNames:   domains,
		ForwardScheme: "http",
		ForwardHost:   "10.0.0.2",
		ForwardPort:   8080,
		SSLForced:     true,
		Enabled:       true,
	}
	require.NoError(e.t, e.hosts.Create(host))
	return host
}

// createCertificate stores an already-issued certificate expiring at expires.
func (e *testEnv) createCertificate(provider string, expires time.Time, domains ...string) *models.Certificate {
	e.t.Helper()
	created := models.NormalizeTime(time.Now().Add(-200 * 24 * time.Hour))
	cert := &models.Certificate{
		Provider:    provider,
		NiceName:    strings.Join(domains, ", "),
		DomainNames: domains,
		ExpiresOn:   expires,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	require.NoError(e.t, e.certs.Create(cert))
	return cert
}

func (e *testEnv) hostFile(id uint) string {
	e.t.Helper()
	data, err := os.ReadFile(e.store.HostPath(id))
	require.NoError(e.t, err)
	return string(data)
}

// snapshot maps every file under the config root to its content.
func (e *testEnv) snapshot() map[string]string {
	e.t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(e.store.Root(), func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(e.store.Root(), path)
		out[rel] = string(data)
		return nil
	})
	require.NoError(e.t, err)
	return out
}

var errInjected = errors.New("injected failure")
