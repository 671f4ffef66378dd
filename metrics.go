package tdb

import "github.com/prometheus/client_golang/prometheus"

// metricsSet is the DB's prometheus collector bundle. It is entirely
// optional: Open only constructs and registers one when
// Options.MetricsRegisterer is non-nil, and every method returns at once on
// a nil receiver, so call sites need no check of their own when it is unset.
type metricsSet struct {
	commitTotal      prometheus.Counter
	commitDuration   prometheus.Histogram
	bytesWritten     prometheus.Counter
	freeListBytes    prometheus.Gauge
	activeReaders    prometheus.Gauge
	slabBytesInUse   prometheus.Gauge
}

func newMetricsSet(reg prometheus.Registerer, namespace string) *metricsSet {
	if reg == nil {
		return nil
	}

	m := &metricsSet{
		commitTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "commits_total", Help: "Number of write transactions committed.",
		}),
		commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "commit_duration_seconds", Help: "Time spent in WriteTxn.Commit.",
			Buckets: prometheus.DefBuckets,
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_written_total", Help: "Bytes appended to the database file across all commits.",
		}),
		freeListBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "free_list_bytes", Help: "Bytes currently recorded as reclaimable in the free list.",
		}),
		activeReaders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_readers", Help: "Number of open read transactions.",
		}),
		slabBytesInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "slab_bytes_in_use", Help: "Bytes allocated in the slab zone by the in-flight write transaction.",
		}),
	}

	reg.MustRegister(m.commitTotal, m.commitDuration, m.bytesWritten, m.freeListBytes, m.activeReaders, m.slabBytesInUse)
	return m
}

func (m *metricsSet) observeCommit(seconds float64, bytes int64) {
	if m == nil {
		return
	}
	m.commitTotal.Inc()
	m.commitDuration.Observe(seconds)
	m.bytesWritten.Add(float64(bytes))
}

func (m *metricsSet) setFreeListBytes(v int64) {
	if m == nil {
		return
	}
	m.freeListBytes.Set(float64(v))
}

func (m *metricsSet) setActiveReaders(v int) {
	if m == nil {
		return
	}
	m.activeReaders.Set(float64(v))
}

func (m *metricsSet) setSlabBytesInUse(v int64) {
	if m == nil {
		return
	}
	m.slabBytesInUse.Set(float64(v))
}
