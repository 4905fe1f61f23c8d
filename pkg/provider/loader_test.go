package provider_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/provider"
	"github.com/markus-lassfolk/locationd/pkg/provider/providertest"
)

func TestLoadResolvesRegisteredModule(t *testing.T) {
	mod := &providertest.Module{Ops: &providertest.Session{}}
	loader := provider.NewLoader(nil, providertest.Registry(map[provider.Kind]*providertest.Module{
		provider.KindGPS: mod,
	}))

	h, err := loader.Load(provider.KindGPS)
	require.NoError(t, err)
	assert.True(t, h.Loaded())
	assert.Equal(t, provider.KindGPS, h.Kind())

	ops, ok := h.GPS()
	assert.True(t, ok)
	assert.NotNil(t, ops)
	assert.Equal(t, 1, mod.Inits)

	h.Unload()
	h.Unload()
	assert.False(t, h.Loaded())
	assert.Equal(t, 1, mod.Shutdowns)
	_, ok = h.GPS()
	assert.False(t, ok)
}

func TestLoadMissingModuleIsNotAvailable(t *testing.T) {
	loader := provider.NewLoader(nil, provider.NewRegistry(), provider.PluginDir{Dir: t.TempDir()})

	_, err := loader.Load(provider.KindWPS)
	assert.ErrorIs(t, err, pkg.ErrNotAvailable)
	assert.False(t, loader.IsSupported(provider.KindWPS))
}

func TestLoadRejectsWrongOpsTable(t *testing.T) {
	// a one-shot backend has no session operations
	mod := &providertest.Module{Ops: &providertest.Oneshot{}}
	loader := provider.NewLoader(nil, providertest.Registry(map[provider.Kind]*providertest.Module{
		provider.KindGPS: mod,
	}))

	_, err := loader.Load(provider.KindGPS)
	assert.ErrorIs(t, err, pkg.ErrNotAvailable)
	assert.Equal(t, 1, mod.Shutdowns)
}

func TestLoadInitFailureIsNotAvailable(t *testing.T) {
	mod := &providertest.Module{Ops: &providertest.Session{}, InitErr: errors.New("no device")}
	loader := provider.NewLoader(nil, providertest.Registry(map[provider.Kind]*providertest.Module{
		provider.KindSPS: mod,
	}))

	_, err := loader.Load(provider.KindSPS)
	assert.ErrorIs(t, err, pkg.ErrNotAvailable)
}

func TestIsSupportedDoesNotRetainHandle(t *testing.T) {
	mod := &providertest.Module{Ops: &providertest.Oneshot{}}
	loader := provider.NewLoader(nil, providertest.Registry(map[provider.Kind]*providertest.Module{
		provider.KindCPS: mod,
	}))

	assert.True(t, loader.IsSupported(provider.KindCPS))
	assert.Equal(t, 1, mod.Inits)
	assert.Equal(t, 1, mod.Shutdowns)
}

func TestFinderOrder(t *testing.T) {
	first := &providertest.Module{Ops: &providertest.Oneshot{}}
	second := &providertest.Module{Ops: &providertest.Oneshot{}}
	loader := provider.NewLoader(nil,
		providertest.Registry(map[provider.Kind]*providertest.Module{provider.KindIPS: first}),
		providertest.Registry(map[provider.Kind]*providertest.Module{provider.KindIPS: second}),
	)

	_, err := loader.Load(provider.KindIPS)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inits)
	assert.Equal(t, 0, second.Inits)
}

func TestKindNames(t *testing.T) {
	for _, kind := range []provider.Kind{provider.KindGPS, provider.KindWPS, provider.KindCPS, provider.KindIPS, provider.KindSPS, provider.KindGeocode, provider.KindPOI} {
		parsed, ok := provider.ParseKind(kind.ModuleName())
		assert.True(t, ok)
		assert.Equal(t, kind, parsed)
	}
	_, ok := provider.ParseKind("bogus")
	assert.False(t, ok)
}

func TestPluginPath(t *testing.T) {
	d := provider.PluginDir{Dir: "/usr/lib/locationd"}
	assert.Equal(t, "/usr/lib/locationd/liblocation-gps.so", d.PluginPath("gps"))
}
