package batch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of a batcher. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	items         *prometheus.CounterVec
	sends         *prometheus.CounterVec
	retries       *prometheus.CounterVec
	flushDuration *prometheus.HistogramVec
	buffered      *prometheus.GaugeVec
}

// NewMetrics creates the batch collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		items: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wvb_batch_items_total",
				Help: "Total number of batch items with a final outcome",
			},
			[]string{"kind", "status"}, // status: success, failed
		),
		sends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wvb_batch_sends_total",
				Help: "Total number of batch requests sent to Weaviate",
			},
			[]string{"kind", "result"}, // result: ok, error
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wvb_batch_retried_items_total",
				Help: "Total number of batch items resubmitted after a transient failure",
			},
			[]string{"kind"},
		),
		flushDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wvb_batch_flush_duration_seconds",
				Help:    "Duration of a flush cycle including retries",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"trigger"}, // trigger: manual, async, threshold, idle
		),
		buffered: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wvb_batch_buffered_items",
				Help: "Number of items currently buffered",
			},
			[]string{"kind"},
		),
	}

	for _, c := range []prometheus.Collector{m.items, m.sends, m.retries, m.flushDuration, m.buffered} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeOutcomes(kind string, succeeded, failed int) {
	if m == nil {
		return
	}
	m.items.WithLabelValues(kind, "success").Add(float64(succeeded))
	m.items.WithLabelValues(kind, "failed").Add(float64(failed))
}

func (m *Metrics) observeSend(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sends.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) observeRetries(kind string, n int) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) observeFlush(trigger string, d time.Duration) {
	if m == nil {
		return
	}
	m.flushDuration.WithLabelValues(trigger).Observe(d.Seconds())
}

func (m *Metrics) setBuffered(kind string, n int) {
	if m == nil {
		return
	}
	m.buffered.WithLabelValues(kind).Set(float64(n))
}
