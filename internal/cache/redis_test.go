package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var storedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestRedis(t *testing.T) (*Redis, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	r := NewRedisWithClient(db, RedisOptions{KeyPrefix: "test:", Now: func() time.Time { return storedAt }}, zerolog.Nop())
	return r, mock
}

func TestRedisSetWrapsEnvelope(t *testing.T) {
	r, mock := newTestRedis(t)
	payload, err := encodeEnvelope([]byte(`{"score":40}`), storedAt)
	require.NoError(t, err)

	mock.ExpectSet("test:bitcoin--ethereum", payload, 5*time.Minute).SetVal("OK")

	require.NoError(t, r.Set(context.Background(), "bitcoin--ethereum", []byte(`{"score":40}`), 5*time.Minute))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisSetRejectsNonJSON(t *testing.T) {
	r, _ := newTestRedis(t)
	assert.Error(t, r.Set(context.Background(), "k", []byte("not json"), time.Minute))
}

func TestRedisGetHitAndMiss(t *testing.T) {
	r, mock := newTestRedis(t)
	ctx := context.Background()
	payload, err := encodeEnvelope([]byte(`{"score":40}`), storedAt)
	require.NoError(t, err)

	mock.ExpectGet("test:hit").SetVal(string(payload))
	mock.ExpectGet("test:miss").RedisNil()

	entry, ok, err := r.Get(ctx, "hit")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"score":40}`, string(entry.Value))
	assert.True(t, entry.StoredAt.Equal(storedAt))

	_, ok, err = r.Get(ctx, "miss")
	require.NoError(t, err)
	assert.False(t, ok)

	stats := r.Stats(ctx)
	assert.Equal(t, "redis", stats.Backend)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisGetError(t *testing.T) {
	r, mock := newTestRedis(t)
	mock.ExpectGet("test:k").SetErr(redis.TxFailedErr)

	_, _, err := r.Get(context.Background(), "k")
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisClearScansPrefix(t *testing.T) {
	r, mock := newTestRedis(t)

	mock.ExpectScan(0, "test:*", redisScanCount).SetVal([]string{"test:a", "test:b"}, 7)
	mock.ExpectDel("test:a", "test:b").SetVal(2)
	mock.ExpectScan(7, "test:*", redisScanCount).SetVal([]string{}, 0)

	require.NoError(t, r.Clear(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisDelete(t *testing.T) {
	r, mock := newTestRedis(t)
	mock.ExpectDel("test:k").SetVal(1)

	require.NoError(t, r.Delete(context.Background(), "k"))
	require.NoError(t, mock.ExpectationsWereMet())
}
