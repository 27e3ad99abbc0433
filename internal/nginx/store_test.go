package nginx

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "nginx"))
	require.NoError(t, err)
	return s
}

func TestStore_Layout(t *testing.T) {
	s := newTestStore(t)
	assert.DirExists(t, filepath.Join(s.Root(), "proxy_host"))
	assert.DirExists(t, filepath.Join(s.Root(), "temp"))
	assert.Equal(t, filepath.Join(s.Root(), "proxy_host", "42.conf"), s.HostPath(42))
	assert.Equal(t, filepath.Join(s.Root(), "temp", "letsencrypt-9.conf"), s.ChallengePath(9))
	assert.Equal(t, filepath.Join(s.Root(), "default_https.conf"), s.DefaultPath("https"))
}

func TestStore_WriteReplacesAndDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Write(1, "first"))
	require.NoError(t, s.Write(1, "second"))
	data, err := os.ReadFile(s.HostPath(1))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	require.NoError(t, s.Delete(1))
	assert.NoFileExists(t, s.HostPath(1))
	assert.NoError(t, s.Delete(1))
}

func TestStore_WriteLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(3, "server {}"))

	entries, err := os.ReadDir(filepath.Join(s.Root(), "proxy_host"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "3.conf", entries[0].Name())
}

func TestStore_WriteFailureIsConfigError(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.RemoveAll(filepath.Join(s.Root(), "proxy_host")))

	err := s.Write(5, "x")
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "write", cfgErr.Op)
	assert.Equal(t, uint(5), cfgErr.ID)
}

func TestStore_Challenge(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.WriteChallenge(4, "challenge"))
	assert.FileExists(t, s.ChallengePath(4))

	require.NoError(t, s.DeleteChallenge(4))
	assert.NoFileExists(t, s.ChallengePath(4))
	assert.NoError(t, s.DeleteChallenge(4))
}

func TestStore_ClearChallenges(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.WriteChallenge(2, "a"))
	require.NoError(t, s.WriteChallenge(11, "b"))
	keep := filepath.Join(s.Root(), "temp", "notes.txt")
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0o644))

	ids, err := s.ClearChallenges()
	require.NoError(t, err)
	assert.Equal(t, []uint{2, 11}, ids)
	assert.NoFileExists(t, s.ChallengePath(2))
	assert.NoFileExists(t, s.ChallengePath(11))
	assert.FileExists(t, keep)
}

func TestStore_Prune(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []uint{1, 2, 3} {
		require.NoError(t, s.Write(id, "x"))
	}
	custom := filepath.Join(s.Root(), "proxy_host", "custom.conf")
	require.NoError(t, os.WriteFile(custom, []byte("x"), 0o644))

	removed, err := s.Prune(map[uint]struct{}{2: {}})
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 3}, removed)
	assert.FileExists(t, s.HostPath(2))
	assert.NoFileExists(t, s.HostPath(1))
	assert.NoFileExists(t, s.HostPath(3))
	assert.FileExists(t, custom)
}

func TestStore_Checksum(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(1, "a"))
	require.NoError(t, s.WriteDefault("http", "d"))

	first, err := s.Checksum()
	require.NoError(t, err)
	again, err := s.Checksum()
	require.NoError(t, err)
	assert.Equal(t, first, again)

	require.NoError(t, s.Write(1, "b"))
	changed, err := s.Checksum()
	require.NoError(t, err)
	assert.NotEqual(t, first, changed)
}

func TestStore_EnsureFallbackCertificate(t *testing.T) {
	s := newTestStore(t)

	created, err := s.EnsureFallbackCertificate()
	require.NoError(t, err)
	assert.True(t, created)

	files := s.FallbackCertificate()
	data, err := os.ReadFile(files.CertPath)
	require.NoError(t, err)
	block, _ := pem.Decode(data)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.Contains(t, cert.DNSNames, "default.local")

	info, err := os.Stat(files.KeyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	created, err = s.EnsureFallbackCertificate()
	require.NoError(t, err)
	assert.False(t, created)
}
