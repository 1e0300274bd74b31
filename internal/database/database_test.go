package database

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	for name, addr := range map[string]string{
		"host:port": mr.Addr(),
		"url":       "redis://" + mr.Addr() + "/0",
	} {
		t.Run(name, func(t *testing.T) {
			rdb, err := NewRedis(addr, "", 4)
			require.NoError(t, err)
			defer rdb.Close()

			assert.NoError(t, rdb.Health(context.Background()))
			assert.Equal(t, 4, rdb.Options().PoolSize)
		})
	}
}

func TestNewRedis_Password(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("s3cret")

	_, err := NewRedis(mr.Addr(), "wrong", 0)
	assert.Error(t, err)

	rdb, err := NewRedis("redis://:s3cret@"+mr.Addr(), "wrong", 0)
	require.NoError(t, err)
	rdb.Close()
}

func TestRedisOptions_InvalidURL(t *testing.T) {
	_, err := redisOptions("redis://host:port:extra/x/y", "")
	assert.Error(t, err)
}

func TestNewPostgres_RequiresURL(t *testing.T) {
	_, err := NewPostgres("", 1, 1)
	assert.Error(t, err)
}
