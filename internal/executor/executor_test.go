package executor

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemRunner_Run(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	r := NewSystemRunner()

	out, err := r.Run(context.Background(), "sh", "-c", "echo hello; echo oops >&2")
	require.NoError(t, err)
	assert.Contains(t, string(out), "hello")
	assert.Contains(t, string(out), "oops")
}

func TestSystemRunner_NonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	r := NewSystemRunner()

	out, err := r.Run(context.Background(), "sh", "-c", "echo failing; exit 3")
	require.Error(t, err)
	var exitErr *exec.ExitError
	assert.True(t, errors.As(err, &exitErr))
	assert.Contains(t, string(out), "failing")
}

func TestSystemRunner_Timeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	r := NewSystemRunner()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := r.Run(ctx, "sleep", "5")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestCommandLine(t *testing.T) {
	assert.Equal(t, "nginx", CommandLine("nginx"))
	assert.Equal(t, "nginx -s reload", CommandLine("nginx", "-s", "reload"))
}

func TestMockRunner(t *testing.T) {
	m := &MockRunner{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			if name == "fail" {
				return []byte("boom"), errors.New("exit status 1")
			}
			return []byte("ok"), nil
		},
	}

	out, err := m.Run(context.Background(), "nginx", "-t")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(out))

	out, err = m.Run(context.Background(), "fail")
	assert.Error(t, err)
	assert.Equal(t, "boom", string(out))

	calls := m.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "nginx -t", calls[0].String())

	m.Reset()
	assert.Empty(t, m.Calls())
}

func TestMockRunner_Concurrent(t *testing.T) {
	m := &MockRunner{}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Run(context.Background(), "nginx", "-t")
		}()
	}
	wg.Wait()
	assert.Len(t, m.Calls(), 20)
}
