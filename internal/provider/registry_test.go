package provider_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahulnair/veriscope/internal/provider"
	"github.com/rahulnair/veriscope/internal/provider/mock"
)

func TestRegistryRegisterDuplicate(t *testing.T) {
	reg := provider.NewRegistry(time.Minute)
	require.NoError(t, reg.Register(mock.NewProvider("alpha")))
	err := reg.Register(mock.NewProvider("alpha"))
	assert.Error(t, err)
}

func TestRegistryChainPreservesOrder(t *testing.T) {
	reg := provider.NewRegistry(time.Minute)
	require.NoError(t, reg.Register(mock.NewProvider("alpha")))
	require.NoError(t, reg.Register(mock.NewProvider("beta")))

	chain, err := reg.Chain([]string{"beta", "alpha"})
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "beta", chain[0].Name())
	assert.Equal(t, "alpha", chain[1].Name())
}

func TestRegistryChainUnknownProvider(t *testing.T) {
	reg := provider.NewRegistry(time.Minute)
	require.NoError(t, reg.Register(mock.NewProvider("alpha")))

	_, err := reg.Chain([]string{"alpha", "ghost"})
	assert.ErrorContains(t, err, "ghost")
}

func TestRegistryAvailableCachesProbe(t *testing.T) {
	var probes atomic.Int32
	p := mock.NewProvider("alpha")
	p.ProbeFunc = func(context.Context) error {
		probes.Add(1)
		return nil
	}

	reg := provider.NewRegistry(time.Minute)
	require.NoError(t, reg.Register(p))

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, reg.Available(ctx, "alpha"))
	}
	assert.Equal(t, int32(1), probes.Load())
}

func TestRegistryAvailableReprobesAfterTTL(t *testing.T) {
	var probes atomic.Int32
	p := mock.NewProvider("alpha")
	p.ProbeFunc = func(context.Context) error {
		probes.Add(1)
		return nil
	}

	reg := provider.NewRegistry(5 * time.Millisecond)
	require.NoError(t, reg.Register(p))

	ctx := context.Background()
	require.NoError(t, reg.Available(ctx, "alpha"))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, reg.Available(ctx, "alpha"))
	assert.Equal(t, int32(2), probes.Load())
}

func TestRegistryInvalidateProbe(t *testing.T) {
	var probes atomic.Int32
	p := mock.NewProvider("alpha")
	p.ProbeFunc = func(context.Context) error {
		probes.Add(1)
		return nil
	}

	reg := provider.NewRegistry(time.Minute)
	require.NoError(t, reg.Register(p))

	ctx := context.Background()
	require.NoError(t, reg.Available(ctx, "alpha"))
	reg.InvalidateProbe("alpha")
	require.NoError(t, reg.Available(ctx, "alpha"))
	assert.Equal(t, int32(2), probes.Load())
}

func TestRegistryAvailableUnregistered(t *testing.T) {
	reg := provider.NewRegistry(time.Minute)
	err := reg.Available(context.Background(), "ghost")
	assert.ErrorIs(t, err, provider.ErrUnavailable)
}

func TestRegistryAvailableUnavailableProvider(t *testing.T) {
	reg := provider.NewRegistry(time.Minute)
	require.NoError(t, reg.Register(mock.NewUnavailableProvider("down")))

	err := reg.Available(context.Background(), "down")
	assert.ErrorIs(t, err, provider.ErrUnavailable)
}
