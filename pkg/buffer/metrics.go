package buffer

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts buffer pool activity. A nil *Metrics records nothing.
type Metrics struct {
	Hits         prometheus.Counter
	Misses       prometheus.Counter
	Evictions    prometheus.Counter
	Writebacks   prometheus.Counter
	DiskReads    prometheus.Counter
	DiskWrites   prometheus.Counter
	PinnedFrames prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "slotdb",
			Subsystem: "buffer_pool",
			Name:      name,
			Help:      help,
		})
	}
	pinned := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "slotdb",
		Subsystem: "buffer_pool",
		Name:      "pinned_frames",
		Help:      "Frames with a pin count above zero.",
	})
	m := &Metrics{
		Hits:         counter("hits_total", "Fixes served from a resident frame."),
		Misses:       counter("misses_total", "Fixes that had to load the page from disk."),
		Evictions:    counter("evictions_total", "Resident pages evicted to make room."),
		Writebacks:   counter("writebacks_total", "Dirty pages written back to disk."),
		DiskReads:    counter("disk_reads_total", "Pages read from the backing file."),
		DiskWrites:   counter("disk_writes_total", "Pages written to the backing file."),
		PinnedFrames: pinned,
	}
	if reg != nil {
		reg.MustRegister(m.Hits, m.Misses, m.Evictions, m.Writebacks, m.DiskReads, m.DiskWrites, m.PinnedFrames)
	}
	return m
}

func (m *Metrics) hit() {
	if m != nil {
		m.Hits.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.Misses.Inc()
	}
}

func (m *Metrics) eviction() {
	if m != nil {
		m.Evictions.Inc()
	}
}

func (m *Metrics) writeback() {
	if m != nil {
		m.Writebacks.Inc()
		m.DiskWrites.Inc()
	}
}

func (m *Metrics) diskRead() {
	if m != nil {
		m.DiskReads.Inc()
	}
}

func (m *Metrics) diskWrite() {
	if m != nil {
		m.DiskWrites.Inc()
	}
}

func (m *Metrics) pinned(delta float64) {
	if m != nil {
		m.PinnedFrames.Add(delta)
	}
}
