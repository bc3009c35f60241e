package monitoring

import (
	"avbstream/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StreamSource is what the collector reads on every scrape.
type StreamSource interface {
	Counters() *domain.Counters
	State() domain.StreamState
	Ready() bool
}

// PrometheusCollector exports the data-plane counters of one stream. Values
// are read from the atomics at scrape time, so the hot paths stay untouched.
type PrometheusCollector struct {
	// Receive path
	framesReceived  prometheus.CounterFunc
	framesDelivered prometheus.CounterFunc
	drops           *prometheus.CounterVec
	ringOverruns    prometheus.CounterFunc

	// Transmit path
	framesSent prometheus.CounterFunc
	txHalts    prometheus.CounterFunc
	sendErrors prometheus.CounterFunc

	// Audio callbacks
	ringUnderruns prometheus.CounterFunc
	lateCallbacks prometheus.CounterFunc

	// Stream state
	state    prometheus.GaugeFunc
	admitted prometheus.GaugeFunc
}

func NewPrometheusCollector(reg prometheus.Registerer, stream domain.StreamID, role domain.Role, src StreamSource) *PrometheusCollector {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"stream_id": stream.String(), "role": string(role)}
	counters := src.Counters()

	counter := func(name, help string, read func() uint64) prometheus.CounterFunc {
		return factory.NewCounterFunc(prometheus.CounterOpts{
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return float64(read()) })
	}

	c := &PrometheusCollector{
		framesReceived: counter("avbstream_frames_received_total",
			"AVTP frames handed to the parser", counters.FramesReceived.Load),
		framesDelivered: counter("avbstream_frames_delivered_total",
			"AVTP frames whose samples reached the channel rings", counters.FramesDelivered.Load),
		ringOverruns: counter("avbstream_ring_overruns_total",
			"Sample blocks dropped because a channel ring was full", counters.RingOverruns.Load),
		framesSent: counter("avbstream_frames_sent_total",
			"AVTP frames handed to the link", counters.FramesSent.Load),
		txHalts: counter("avbstream_tx_halts_total",
			"Transmit halts caused by empty channel rings", counters.TxHalts.Load),
		sendErrors: counter("avbstream_send_errors_total",
			"AVTP frames the link refused", counters.SendErrors.Load),
		ringUnderruns: counter("avbstream_ring_underruns_total",
			"Playback periods filled with silence after a ring ran dry", counters.RingUnderruns.Load),
		lateCallbacks: counter("avbstream_late_callbacks_total",
			"Audio callbacks that took longer than one period", counters.LateCallbacks.Load),

		state: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "avbstream_stream_state",
			Help:        "Admission state (0 idle, 1 monitoring, 2 domain known, 3 joining, 4 admitted, 5 leaving, 6 failed)",
			ConstLabels: labels,
		}, func() float64 { return float64(src.State()) }),

		admitted: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "avbstream_stream_admitted",
			Help:        "1 while the stream holds its reservation",
			ConstLabels: labels,
		}, func() float64 {
			if src.Ready() {
				return 1
			}
			return 0
		}),
	}

	// drop reasons are exported as one vector, refreshed on every scrape
	c.drops = factory.NewCounterVec(prometheus.CounterOpts{
		Name:        "avbstream_frames_dropped_total",
		Help:        "Received frames dropped before delivery, by reason",
		ConstLabels: labels,
	}, []string{"reason"})

	return c
}

// dropReasons maps the reason label to its counter.
func dropReasons(s domain.CounterSnapshot) map[string]uint64 {
	return map[string]uint64{
		"too_short":    s.DropTooShort,
		"dest_mac":     s.DropDestMAC,
		"stream_id":    s.DropStreamID,
		"malformed":    s.DropMalformed,
		"not_admitted": s.DropNotAdmitted,
	}
}

// UpdateDrops advances the drop vector by the delta since the previous
// snapshot. It is called from the metrics reporter tick.
func (c *PrometheusCollector) UpdateDrops(delta domain.CounterSnapshot) {
	for reason, n := range dropReasons(delta) {
		if n > 0 {
			c.drops.WithLabelValues(reason).Add(float64(n))
		}
	}
}
