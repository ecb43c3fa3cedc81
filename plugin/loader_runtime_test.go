package plugin

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntimeLoaderInstanceStrategy(t *testing.T) {
	loader := NewRuntimeLoader()
	p := newTestPlugin("alpha")
	require.NoError(t, loader.RegisterInstance(p))
	ctx := context.Background()

	assert.True(t, loader.CanLoad("alpha", Config{}))
	assert.False(t, loader.CanLoad("beta", Config{}))

	got, err := loader.Load(ctx, "alpha", Config{ID: "alpha"})
	require.NoError(t, err)
	assert.Same(t, Plugin(p), got, "instance strategy returns the registered instance")
}

func TestRuntimeLoaderFactoryStrategy(t *testing.T) {
	loader := NewRuntimeLoader()
	var built int
	require.NoError(t, loader.RegisterFactory("alpha", func(cfg Config) (Plugin, error) {
		built++
		return newTestPlugin("alpha"), nil
	}))
	ctx := context.Background()

	first, err := loader.Load(ctx, "alpha", Config{ID: "alpha"})
	require.NoError(t, err)
	second, err := loader.Load(ctx, "alpha", Config{ID: "alpha"})
	require.NoError(t, err)

	assert.Equal(t, 2, built, "no cache: each load builds a fresh plugin")
	assert.NotSame(t, first, second)
}

func TestRuntimeLoaderFactoryWithInstanceCache(t *testing.T) {
	loader := NewRuntimeLoader(WithInstanceCache(8))
	var built int
	require.NoError(t, loader.RegisterFactory("alpha", func(Config) (Plugin, error) {
		built++
		return newTestPlugin("alpha"), nil
	}))
	ctx := context.Background()

	first, err := loader.Load(ctx, "alpha", Config{ID: "alpha"})
	require.NoError(t, err)
	second, err := loader.Load(ctx, "alpha", Config{ID: "alpha"})
	require.NoError(t, err)

	assert.Equal(t, 1, built)
	assert.Same(t, first, second)

	loader.ClearCache()
	_, err = loader.Load(ctx, "alpha", Config{ID: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, 2, built)
}

func TestRuntimeLoaderCacheEvictsFIFO(t *testing.T) {
	loader := NewRuntimeLoader(WithInstanceCache(2))
	builds := make(map[string]int)
	for _, id := range []string{"a", "b", "c"} {
		id := id
		require.NoError(t, loader.RegisterFactory(id, func(Config) (Plugin, error) {
			builds[id]++
			return newTestPlugin(id), nil
		}))
	}
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := loader.Load(ctx, id, Config{ID: id})
		require.NoError(t, err)
	}
	// Capacity 2: loading c evicted a (oldest), so b is still cached while
	// a rebuilds.
	_, err := loader.Load(ctx, "b", Config{ID: "b"})
	require.NoError(t, err)
	_, err = loader.Load(ctx, "a", Config{ID: "a"})
	require.NoError(t, err)

	assert.Equal(t, 2, builds["a"])
	assert.Equal(t, 1, builds["b"])
	assert.Equal(t, 1, builds["c"])
}

func TestRuntimeLoaderConstructorStrategy(t *testing.T) {
	loader := NewRuntimeLoader()
	var built int
	require.NoError(t, loader.RegisterConstructor("alpha", func() Plugin {
		built++
		return newTestPlugin("alpha")
	}))

	_, err := loader.Load(context.Background(), "alpha", Config{ID: "alpha"})
	require.NoError(t, err)
	_, err = loader.Load(context.Background(), "alpha", Config{ID: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, 2, built, "constructor runs on every load")
}

func TestRuntimeLoaderValidation(t *testing.T) {
	loader := NewRuntimeLoader()

	err := loader.RegisterInstance(nil)
	assert.True(t, IsCode(err, CodePluginRegistrationFailed))

	err = loader.RegisterInstance(newTestPlugin(""))
	assert.True(t, IsCode(err, CodePluginRegistrationFailed))

	stateless := newTestPlugin("bad")
	stateless.SetState("")
	err = loader.RegisterInstance(stateless)
	assert.True(t, IsCode(err, CodePluginRegistrationFailed))

	err = loader.RegisterFactory("", nil)
	assert.True(t, IsCode(err, CodePluginRegistrationFailed))
	err = loader.RegisterConstructor("x", nil)
	assert.True(t, IsCode(err, CodePluginRegistrationFailed))
}

func TestRuntimeLoaderFactoryProductValidated(t *testing.T) {
	loader := NewRuntimeLoader()
	require.NoError(t, loader.RegisterFactory("alpha", func(Config) (Plugin, error) {
		// Wrong id: the product does not match the requested id.
		return newTestPlugin("omega"), nil
	}))

	_, err := loader.Load(context.Background(), "alpha", Config{ID: "alpha"})
	assert.True(t, IsCode(err, CodePluginLoadFailed))
}

func TestRuntimeLoaderUnknownID(t *testing.T) {
	loader := NewRuntimeLoader()
	_, err := loader.Load(context.Background(), "ghost", Config{ID: "ghost"})
	assert.True(t, IsCode(err, CodePluginNotFound))
}

func TestRuntimeLoaderFactoryErrorWrapped(t *testing.T) {
	loader := NewRuntimeLoader()
	require.NoError(t, loader.RegisterFactory("alpha", func(Config) (Plugin, error) {
		return nil, fmt.Errorf("dial: %w", errBoom)
	}))
	_, err := loader.Load(context.Background(), "alpha", Config{ID: "alpha"})
	assert.True(t, IsCode(err, CodePluginLoadFailed))
	assert.ErrorIs(t, err, errBoom)
}
