package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type entry struct {
	Code   string   `json:"code"`
	Fields []string `json:"fields"`
}

func exerciseCache(t *testing.T, c Cache) {
	ctx := context.Background()

	var got entry
	found, err := c.Get(ctx, "process_type:leave", &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "process_type:leave", entry{Code: "leave", Fields: []string{"days"}}))
	found, err = c.Get(ctx, "process_type:leave", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, entry{Code: "leave", Fields: []string{"days"}}, got)

	require.NoError(t, c.Delete(ctx, "process_type:leave", "process_types:active"))
	found, err = c.Get(ctx, "process_type:leave", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCache(t *testing.T) {
	exerciseCache(t, NewMemory(time.Minute))
}

func TestMemoryCacheExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m := NewMemory(time.Minute)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(context.Background(), "k", 1))
	now = now.Add(2 * time.Minute)

	var v int
	found, err := m.Get(context.Background(), "k", &v)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCacheReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	original := entry{Code: "leave", Fields: []string{"days"}}
	require.NoError(t, m.Set(ctx, "k", original))

	var first entry
	_, err := m.Get(ctx, "k", &first)
	require.NoError(t, err)
	first.Fields[0] = "mutated"

	var second entry
	_, err = m.Get(ctx, "k", &second)
	require.NoError(t, err)
	assert.Equal(t, "days", second.Fields[0])
}

func TestRedisCache(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	r, err := NewRedis(ctx, RedisConfig{Addr: fmt.Sprintf("%s:%s", host, port.Port()), Prefix: "oa-test:", TTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	exerciseCache(t, r)
}
