package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_RecordsByLabel(t *testing.T) {
	c := NewCollector("test")

	c.CacheLookup("conversations", "hit")
	c.CacheLookup("conversations", "hit")
	c.CacheFetch("conversations", errors.New("boom"))
	c.Mutation("create_node", nil)
	c.RecordHTTP("GET", "/health", 503, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.CacheLookups.WithLabelValues("conversations", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.CacheFetches.WithLabelValues("conversations", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Mutations.WithLabelValues("create_node", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.HTTPRequests.WithLabelValues("GET", "/health", "5xx")))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.CacheLookup("x", "miss")
		c.Rollback("node")
		c.Distillation("fallback")
		c.RecordBackend("op", nil, time.Second)
	})
	assert.Nil(t, c.GetRegistry())
}

func TestCollector_SeparateRegistries(t *testing.T) {
	a := NewCollector("test")
	b := NewCollector("test")

	a.QuotaReset("workspaces")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.QuotaResets.WithLabelValues("workspaces")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.QuotaResets.WithLabelValues("workspaces")))
}
