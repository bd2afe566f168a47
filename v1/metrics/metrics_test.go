package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsRegister(t *testing.T) {
	reg := NewRegistry()
	c := NewCacheCollectors(reg)
	l := NewLockCollectors(reg)
	c.Hits.WithLabelValues("persistent").Inc()
	c.Misses.WithLabelValues("request").Inc()
	c.Sets.WithLabelValues("persistent").Inc()
	c.Invalidations.WithLabelValues("persistent").Add(3)
	c.Errors.WithLabelValues("get").Inc()
	c.Latency.WithLabelValues("get").Observe(0.01)
	l.Acquired.WithLabelValues("simple").Inc()
	l.Timeouts.WithLabelValues("queued").Inc()
	l.Released.WithLabelValues("simple", "true").Inc()
	l.Wait.WithLabelValues("simple").Observe(0.1)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) != 10 {
		t.Fatalf("expected 10 metric families, got %d", len(mfs))
	}
	if v := testutil.ToFloat64(c.Invalidations.WithLabelValues("persistent")); v != 3 {
		t.Fatalf("expected 3 invalidations, got %v", v)
	}
}

func TestCollectorsDuplicatePanics(t *testing.T) {
	reg := NewRegistry()
	NewCacheCollectors(reg)
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	NewCacheCollectors(reg)
}
