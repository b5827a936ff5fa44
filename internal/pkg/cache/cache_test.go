package cache

import (
	"net"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupCacheUsesEnv(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port, err := net.SplitHostPort(mr.Addr())
	require.NoError(t, err)
	t.Setenv("CACHE_HOST", host)
	t.Setenv("CACHE_PORT", port)
	t.Cleanup(func() { SetClient(nil) })

	SetupCache()

	c := GetClient()
	require.NotNil(t, c)
	assert.Equal(t, mr.Addr(), c.Options().Addr)
	assert.Equal(t, 0, c.Options().DB)
	require.NoError(t, c.Set(ctx, "k", "v", 0).Err())
	mr.CheckGet(t, "k", "v")
}

func TestSetClient(t *testing.T) {
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		SetClient(nil)
		_ = c.Close()
	})

	SetClient(c)
	assert.Same(t, c, GetClient())
}
