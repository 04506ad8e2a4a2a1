package cache

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civreg/internal/platform/metrics"
	id "civreg/pkg/domain"
)

type listParams struct {
	UserID string `json:"user_id"`
	Limit  int    `json:"limit"`
}

func TestKeyIsDeterministic(t *testing.T) {
	a := Key(OpFetchFiltered, map[string]any{"user_id": "u", "limit": 100, "purpose": "School"})
	b := Key(OpFetchFiltered, map[string]any{"purpose": "School", "limit": 100, "user_id": "u"})
	assert.Equal(t, a, b)
	assert.Equal(t, `requests.getById|{"id":42}`, RequestKey(42))
	assert.NotEqual(t, Key(OpFetchFiltered, listParams{Limit: 1}), Key(OpByStatus, listParams{Limit: 1}))
}

func TestGetSetAndTTL(t *testing.T) {
	c := New(Config{ListTTL: 20 * time.Millisecond, MetadataTTL: time.Minute})
	assert.Equal(t, time.Minute, c.TTL(OpUsersList))
	assert.Equal(t, 20*time.Millisecond, c.TTL(OpGetByID))

	c.Set(RequestKey(1), "r1", 0)
	c.Set(Key(OpUsersList, struct{}{}), "users", 0)
	v, ok := c.Get(RequestKey(1))
	require.True(t, ok)
	assert.Equal(t, "r1", v)

	time.Sleep(40 * time.Millisecond)
	_, ok = c.Get(RequestKey(1))
	assert.False(t, ok, "listing TTL elapsed")
	_, ok = c.Get(Key(OpUsersList, struct{}{}))
	assert.True(t, ok, "metadata TTL still live")
}

func TestInvalidateRequestPurgesOwnEntryAndListings(t *testing.T) {
	c := New(Config{})
	c.Set(RequestKey(42), "r42", 0)
	c.Set(RequestKey(7), "r7", 0)
	c.Set(Key(OpFetchFiltered, listParams{UserID: "u"}), "list", 0)
	c.Set(Key(OpByStatus, listParams{UserID: "u"}), "by status", 0)
	c.Set(Key(OpLatestDraft, listParams{UserID: "u"}), "draft", 0)
	c.Set(Key(OpUsersList, struct{}{}), "users", 0)

	assert.Equal(t, 4, c.InvalidateRequest(42))

	_, ok := c.Get(RequestKey(42))
	assert.False(t, ok)
	_, ok = c.Get(RequestKey(7))
	assert.True(t, ok, "other request entries survive")
	_, ok = c.Get(Key(OpUsersList, struct{}{}))
	assert.True(t, ok, "unrelated tables survive")
	assert.Equal(t, 2, c.Len())

	c.Set(Key(OpFetchFiltered, listParams{}), "list", 0)
	assert.Equal(t, 1, c.InvalidateListings())
}

func TestSoftLimitSweepsExpired(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c := New(Config{ListTTL: time.Minute, SoftLimit: 3}, WithMetrics(m))

	for i := range 3 {
		c.Set(RequestKey(id.RequestID(i+1)), i, time.Millisecond)
	}
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 3, c.Len(), "expired entries linger until swept")

	c.Set(RequestKey(99), "fresh", 0)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheSweeps))

	c.Get(RequestKey(99))
	c.Get(RequestKey(1))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits.WithLabelValues(string(OpGetByID))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMisses.WithLabelValues(string(OpGetByID))))
}
