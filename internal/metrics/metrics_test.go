package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", StatusClass(200))
	assert.Equal(t, "4xx", StatusClass(429))
	assert.Equal(t, "5xx", StatusClass(503))
	assert.Equal(t, "error", StatusClass(0))
}

func TestRecordUpstream(t *testing.T) {
	before := testutil.ToFloat64(UpstreamRequests.WithLabelValues("games", "4xx"))

	RecordUpstream("games", 429, 20*time.Millisecond)

	after := testutil.ToFloat64(UpstreamRequests.WithLabelValues("games", "4xx"))
	assert.Equal(t, before+1, after)
}

func TestRecordCacheLookup(t *testing.T) {
	hits := testutil.ToFloat64(CacheLookups.WithLabelValues("l1", "hit"))
	misses := testutil.ToFloat64(CacheLookups.WithLabelValues("l1", "miss"))

	RecordCacheLookup("l1", true)
	RecordCacheLookup("l1", false)
	RecordCacheLookup("l1", false)

	assert.Equal(t, hits+1, testutil.ToFloat64(CacheLookups.WithLabelValues("l1", "hit")))
	assert.Equal(t, misses+2, testutil.ToFloat64(CacheLookups.WithLabelValues("l1", "miss")))
}

func TestRecordOperation(t *testing.T) {
	// Histogram observation must not panic
	RecordOperation("search", "ok", time.Now().Add(-50*time.Millisecond))
}
