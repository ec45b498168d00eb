package telemetry

import "github.com/prometheus/client_golang/prometheus"

const namespace = "engine"

type metricDef struct {
	name    string
	help    string
	counter bool
	value   func(Snapshot) float64
}

var metricDefs = []metricDef{
	{"lsn_current", "Newest reserved redo LSN.", false, func(s Snapshot) float64 { return float64(s.Redo.Current) }},
	{"lsn_written", "Redo written to storage up to this LSN.", false, func(s Snapshot) float64 { return float64(s.Redo.Written) }},
	{"lsn_flushed", "Redo durable up to this LSN.", false, func(s Snapshot) float64 { return float64(s.Redo.Flushed) }},
	{"lsn_closed", "Redo closed up to this LSN.", false, func(s Snapshot) float64 { return float64(s.Redo.Closed) }},
	{"last_checkpoint_lsn", "LSN of the last checkpoint.", false, func(s Snapshot) float64 { return float64(s.Redo.LastCheckpoint) }},
	{"checkpoint_age_bytes", "Redo bytes since the last checkpoint.", false, func(s Snapshot) float64 { return float64(s.Redo.CheckpointAge()) }},
	{"log_write_requests_total", "Redo records reserved.", true, func(s Snapshot) float64 { return float64(s.Redo.WriteRequests) }},
	{"log_writes_total", "Writes issued to redo storage.", true, func(s Snapshot) float64 { return float64(s.Redo.Writes) }},
	{"log_written_bytes_total", "Bytes written to redo storage.", true, func(s Snapshot) float64 { return float64(s.Redo.BytesWritten) }},
	{"log_fsyncs_total", "Syncs of redo storage.", true, func(s Snapshot) float64 { return float64(s.Redo.Fsyncs) }},
	{"log_waits_total", "Producers that waited for redo buffer space.", true, func(s Snapshot) float64 { return float64(s.Redo.LogWaits) }},
	{"checkpoints_total", "Checkpoints taken.", true, func(s Snapshot) float64 { return float64(s.Redo.Checkpoints) }},
	{"row_lock_waits_total", "Suspensions in the wait-slot table.", true, func(s Snapshot) float64 { return float64(s.Waits.Waits) }},
	{"row_lock_current_waits", "Currently occupied wait slots.", false, func(s Snapshot) float64 { return float64(s.Waits.CurrentWaits) }},
	{"row_lock_timeouts_total", "Waits resolved by timeout.", true, func(s Snapshot) float64 { return float64(s.Waits.Timeouts) }},
	{"row_lock_time_seconds_total", "Total time spent suspended.", true, func(s Snapshot) float64 { return s.Waits.TotalWait.Seconds() }},
	{"row_lock_time_max_seconds", "Longest completed suspension.", false, func(s Snapshot) float64 { return s.Waits.MaxWait.Seconds() }},
	{"purge_history_length", "Undo records waiting for purge.", false, func(s Snapshot) float64 { return float64(s.Purge.HistoryLength) }},
	{"purge_handled_total", "Undo records purged.", true, func(s Snapshot) float64 { return float64(s.Purge.Handled) }},
	{"pages_flushed_total", "Pages written by the page cleaners.", true, func(s Snapshot) float64 { return float64(s.PagesFlushed) }},
	{"pages_evicted_total", "Frames freed by the LRU managers.", true, func(s Snapshot) float64 { return float64(s.PagesEvicted) }},
	{"buffer_pool_free_frames", "Free buffer pool frames.", false, func(s Snapshot) float64 { return float64(s.BufferPool.Free) }},
	{"buffer_pool_dirty_pages", "Dirty buffer pool pages.", false, func(s Snapshot) float64 { return float64(s.BufferPool.Dirty) }},
	{"master_active_loops_total", "Master rounds with server activity.", true, func(s Snapshot) float64 { return float64(s.MasterActiveLoops) }},
	{"master_idle_loops_total", "Master rounds without server activity.", true, func(s Snapshot) float64 { return float64(s.MasterIdleLoops) }},
	{"activity_count", "Server activity counter.", true, func(s Snapshot) float64 { return float64(s.Activity) }},
	{"shutdown_phase", "Current shutdown phase.", false, func(s Snapshot) float64 { return float64(s.Phase) }},
}

// Collector exports a Source as Prometheus metrics. Every scrape takes one
// fresh snapshot.
type Collector struct {
	source  Source
	descs   []*prometheus.Desc
	threads *prometheus.Desc
}

var _ prometheus.Collector = &Collector{}

func NewCollector(source Source) *Collector {
	c := &Collector{
		source: source,
		descs:  make([]*prometheus.Desc, len(metricDefs)),
		threads: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "threads"),
			"Background threads by lifecycle state.",
			[]string{"state"}, nil,
		),
	}

	for i, def := range metricDefs {
		c.descs[i] = prometheus.NewDesc(prometheus.BuildFQName(namespace, "", def.name), def.help, nil, nil)
	}

	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
	ch <- c.threads
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Snapshot()

	for i, def := range metricDefs {
		typ := prometheus.GaugeValue
		if def.counter {
			typ = prometheus.CounterValue
		}

		ch <- prometheus.MustNewConstMetric(c.descs[i], typ, def.value(s))
	}

	counts := make(map[string]int)
	for _, t := range s.Threads {
		counts[t.State.String()]++
	}

	for state, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.threads, prometheus.GaugeValue, float64(n), state)
	}
}
