package stripebilling_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/gigkeys/pkg/redis"
	"github.com/dmitrymomot/gigkeys/pkg/stripebilling"
)

func TestRedisCustomerStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := stripebilling.NewRedisCustomerStore(rdb, redis.Config{KeyPrefix: "test:"}, 48*time.Hour)

	id, err := store.CustomerID(ctx, "user_1")
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, store.SaveCustomerID(ctx, "user_1", "cus_42"))
	id, err = store.CustomerID(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "cus_42", id)
	assert.Equal(t, 48*time.Hour, mr.TTL("test:stripe_customer:user_1"))

	mr.FastForward(49 * time.Hour)
	id, err = store.CustomerID(ctx, "user_1")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestRedisCustomerStore_Unavailable(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	store := stripebilling.NewRedisCustomerStore(rdb, redis.Config{}, 0)
	_, err = store.CustomerID(context.Background(), "user_1")
	assert.ErrorIs(t, err, stripebilling.ErrCustomerStore)
	assert.ErrorIs(t, store.SaveCustomerID(context.Background(), "user_1", "cus_1"), stripebilling.ErrCustomerStore)

	assert.Panics(t, func() { stripebilling.NewRedisCustomerStore(nil, redis.Config{}, 0) })
}

func TestMemoryCustomerStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := stripebilling.NewMemoryCustomerStore()
	id, err := store.CustomerID(ctx, "user_1")
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, store.SaveCustomerID(ctx, "user_1", "cus_7"))
	id, err = store.CustomerID(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "cus_7", id)
}
