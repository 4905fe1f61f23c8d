package pidfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAt(t *testing.T, pid int, alive bool) *PIDFile {
	t.Helper()
	p := New(filepath.Join(t.TempDir(), "run", "locationd.pid"))
	p.pid = pid
	p.alive = func(int) bool { return alive }
	return p
}

func TestCreateAndRemove(t *testing.T) {
	p := newAt(t, 4242, false)
	require.NoError(t, p.Create(false))

	data, err := os.ReadFile(p.Path())
	require.NoError(t, err)
	assert.Equal(t, "4242\n", string(data))

	require.NoError(t, p.Remove())
	_, err = os.Stat(p.Path())
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, p.Remove())
}

func TestCreateRefusesLiveOwner(t *testing.T) {
	p := newAt(t, 100, true)
	require.NoError(t, os.MkdirAll(filepath.Dir(p.Path()), 0o755))
	require.NoError(t, os.WriteFile(p.Path(), []byte("99\n"), 0o644))

	err := p.Create(false)
	assert.ErrorIs(t, err, ErrRunning)

	running, pid, err := p.CheckRunning()
	require.NoError(t, err)
	assert.True(t, running)
	assert.Equal(t, 99, pid)

	assert.Error(t, p.Remove())
	require.NoError(t, p.Create(true))
	require.NoError(t, p.Remove())
}

func TestCreateReplacesStaleAndGarbage(t *testing.T) {
	p := newAt(t, 100, false)
	require.NoError(t, os.MkdirAll(filepath.Dir(p.Path()), 0o755))
	require.NoError(t, os.WriteFile(p.Path(), []byte("99\n"), 0o644))
	require.NoError(t, p.Create(false))

	require.NoError(t, os.WriteFile(p.Path(), []byte("garbage"), 0o644))
	assert.Error(t, p.Create(false))
	assert.NoError(t, p.Create(true))
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, processAlive(os.Getpid()))
}
