package metric

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Buckets holds the histogram buckets of each latency/size metric.
// A nil slice falls back to prometheus.DefBuckets.
type Buckets struct {
	SentData  []float64
	ProcTime  []float64
	TransTime []float64
	E2ETime   []float64
}

type Metric struct {
	mu sync.Mutex

	sentDataBytesHistogram *prometheus.HistogramVec
	procTimeHistogram      *prometheus.HistogramVec
	transTimeHistogram     *prometheus.HistogramVec
	e2eTimeHistogram       *prometheus.HistogramVec

	procTime   *prometheus.GaugeVec
	transTimes *prometheus.GaugeVec
	frameCount *prometheus.CounterVec

	trackedObjects *prometheus.GaugeVec
	registrations  *prometheus.CounterVec
	evictions      *prometheus.CounterVec
	rejectedBoxes  *prometheus.CounterVec
}

// RegisterMetrics creates the metrics and registers them with the default registry
func (m *Metric) RegisterMetrics(b Buckets) {
	m.RegisterMetricsWith(prometheus.DefaultRegisterer, b)
}

// RegisterMetricsWith creates the metrics and registers them with reg
func (m *Metric) RegisterMetricsWith(reg prometheus.Registerer, b Buckets) {
	m.sentDataBytesHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sent_data_bytes_histogram",
			Help:    "Histogram of sent data bytes.",
			Buckets: orDefault(b.SentData),
		},
		[]string{"service"},
	)
	m.procTimeHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "processing_time_ms_histogram",
			Help:    "Histogram of processing times.",
			Buckets: orDefault(b.ProcTime),
		},
		[]string{"stage"},
	)
	m.transTimeHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transit_time_ms_histogram",
			Help:    "Histogram of transit times, excluding remote processing.",
			Buckets: orDefault(b.TransTime),
		},
		[]string{"service"},
	)
	m.e2eTimeHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "e2e_time_ms_histogram",
			Help:    "Histogram of end-to-end latencies, including remote processing.",
			Buckets: orDefault(b.E2ETime),
		},
		[]string{"service"},
	)

	m.procTime = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "processing_time_ms",
			Help: "Gauge of processing times.",
		},
		[]string{"stage"},
	)
	m.transTimes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "transit_times_ms",
			Help: "Gauge of transit times for different services.",
		},
		[]string{"service"},
	)
	m.frameCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frames_total",
			Help: "Frames by outcome: all, processed, skipped, empty, stale.",
		},
		[]string{"kind"},
	)

	m.trackedObjects = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tracked_objects",
			Help: "Live tracked identities per source.",
		},
		[]string{"source"},
	)
	m.registrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_registrations_total",
			Help: "Identities registered per source.",
		},
		[]string{"source"},
	)
	m.evictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_evictions_total",
			Help: "Identities deregistered after disappearing per source.",
		},
		[]string{"source"},
	)
	m.rejectedBoxes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_rejected_boxes_total",
			Help: "Malformed boxes dropped before tracking per source.",
		},
		[]string{"source"},
	)

	reg.MustRegister(
		m.sentDataBytesHistogram,
		m.procTimeHistogram,
		m.transTimeHistogram,
		m.e2eTimeHistogram,
		m.procTime,
		m.transTimes,
		m.frameCount,
		m.trackedObjects,
		m.registrations,
		m.evictions,
		m.rejectedBoxes,
	)
}

func orDefault(buckets []float64) []float64 {
	if buckets == nil {
		return prometheus.DefBuckets
	}
	return buckets
}

func (m *Metric) AddSentDataBytes(s string, bytes float64) {
	m.lock()
	defer m.unlock()
	m.sentDataBytesHistogram.WithLabelValues(s).Observe(bytes)
}

func (m *Metric) AddProcessingTime(s string, time float64) {
	m.lock()
	defer m.unlock()
	m.procTimeHistogram.WithLabelValues(s).Observe(time)
	m.procTime.WithLabelValues(s).Set(time)
}

func (m *Metric) AddTransitTime(s string, time float64) {
	m.lock()
	defer m.unlock()
	m.transTimeHistogram.WithLabelValues(s).Observe(time)
	m.transTimes.WithLabelValues(s).Set(time)
}

func (m *Metric) AddE2ETimes(s string, time float64) {
	m.lock()
	defer m.unlock()
	m.e2eTimeHistogram.WithLabelValues(s).Observe(time)
}

func (m *Metric) AddFrameCount(kind string, n float64) {
	m.lock()
	defer m.unlock()
	m.frameCount.WithLabelValues(kind).Add(n)
}

// SetTrackedObjects records the tracker outcome of one frame of a source
func (m *Metric) SetTrackedObjects(source string, live, registered, evicted int) {
	m.lock()
	defer m.unlock()
	m.trackedObjects.WithLabelValues(source).Set(float64(live))
	m.registrations.WithLabelValues(source).Add(float64(registered))
	m.evictions.WithLabelValues(source).Add(float64(evicted))
}

func (m *Metric) AddRejectedBoxes(source string, n int) {
	m.lock()
	defer m.unlock()
	m.rejectedBoxes.WithLabelValues(source).Add(float64(n))
}

func (m *Metric) lock() {
	m.mu.Lock()
}

func (m *Metric) unlock() {
	m.mu.Unlock()
}
