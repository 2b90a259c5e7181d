package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	clock := Func("clock", time.Second, func(context.Context) (any, error) { return "tick", nil })
	volume := Func("system_volume", 500*time.Millisecond, func(context.Context) (any, error) { return 42, nil })

	require.NoError(t, r.Register(clock))
	require.NoError(t, r.Register(volume))

	t.Run("Duplicate", func(t *testing.T) {
		err := r.Register(Func("clock", time.Second, nil))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already registered")
	})

	t.Run("NonPositiveInterval", func(t *testing.T) {
		require.Error(t, r.Register(Func("broken", 0, nil)))
		_, ok := r.Provider("broken")
		assert.False(t, ok)
	})

	t.Run("Lookup", func(t *testing.T) {
		p, ok := r.Provider("system_volume")
		require.True(t, ok)
		assert.Equal(t, 500*time.Millisecond, p.Interval())

		v, err := p.Fetch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 42, v)

		_, ok = r.Provider("missing")
		assert.False(t, ok)
	})

	assert.Equal(t, []string{"clock", "system_volume"}, r.Names())
}
