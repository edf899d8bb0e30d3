package schedmetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	return 0
}

func TestDropIncrementsCounterAndHistory(t *testing.T) {
	r := New()
	r.Drop("duplicate")
	r.Drop("duplicate")
	r.Drop("container_full_eviction")

	require.Equal(t, float64(3), counterValue(t, r.Registry(), "banking_scheduler_drops_total"))
	require.Contains(t, r.RecentDropReasons(), "duplicate")
	require.Contains(t, r.RecentDropReasons(), "container_full_eviction")
}

func TestBatchSentRecordsSizeHistogram(t *testing.T) {
	r := New()
	r.BatchSent("consume", 5)
	r.BatchSent("consume", 10)

	mfs, err := r.Registry().Gather()
	require.NoError(t, err)
	var found *dto.MetricFamily
	for _, mf := range mfs {
		if mf.GetName() == "banking_scheduler_batch_size" {
			found = mf
		}
	}
	require.NotNil(t, found)
	require.Equal(t, uint64(2), found.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestQueueDepthGaugeReflectsLastValue(t *testing.T) {
	r := New()
	r.QueueDepth(42)
	r.QueueDepth(7)

	mfs, err := r.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == "banking_scheduler_queue_depth" {
			require.Equal(t, float64(7), mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
}
