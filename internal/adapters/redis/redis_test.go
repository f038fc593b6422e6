package redis_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisadapter "github.com/robertarktes/lumentix-tickets/internal/adapters/redis"
)

func TestCacheGetMiss(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := redisadapter.NewCache(db)

	mock.ExpectGet("oracle:tx:TX1").RedisNil()

	_, ok, err := cache.Get(context.Background(), "oracle:tx:TX1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheGetHitAndSet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := redisadapter.NewCache(db)

	mock.ExpectSet("oracle:tx:TX1", []byte(`{"hash":"TX1"}`), time.Hour).SetVal("OK")
	mock.ExpectGet("oracle:tx:TX1").SetVal(`{"hash":"TX1"}`)

	require.NoError(t, cache.Set(context.Background(), "oracle:tx:TX1", []byte(`{"hash":"TX1"}`), time.Hour))
	val, ok, err := cache.Get(context.Background(), "oracle:tx:TX1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"hash":"TX1"}`, string(val))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheGetError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := redisadapter.NewCache(db)

	mock.ExpectGet("k").SetErr(errors.New("connection refused"))

	_, ok, err := cache.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestIdempotencyRoundTrip(t *testing.T) {
	db, mock := redismock.NewClientMock()
	idemp := redisadapter.NewIdempotency(db)

	resp := redisadapter.IdempResponse{Status: 201, Result: []byte(`{"ok":true}`)}
	data, _ := json.Marshal(resp)

	mock.ExpectGet("idemp:abc").RedisNil()
	mock.ExpectSet("idemp:abc", data, time.Hour).SetVal("OK")
	mock.ExpectGet("idemp:abc").SetVal(string(data))

	got, err := idemp.Get(context.Background(), "abc")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, idemp.Set(context.Background(), "abc", resp, time.Hour))

	got, err = idemp.Get(context.Background(), "abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 201, got.Status)
	assert.Equal(t, resp.Result, got.Result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyLock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	idemp := redisadapter.NewIdempotency(db)

	mock.ExpectSetNX("idemp:lock:abc", 1, time.Minute).SetVal(true)
	mock.ExpectSetNX("idemp:lock:abc", 1, time.Minute).SetVal(false)
	mock.ExpectDel("idemp:lock:abc").SetVal(1)

	ok, err := idemp.Lock(context.Background(), "abc", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = idemp.Lock(context.Background(), "abc", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, idemp.Unlock(context.Background(), "abc"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
