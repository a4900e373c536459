package follow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "follow"

type Metrics struct {
	FramesSent      prometheus.Counter
	FramesDropped   prometheus.Counter
	FramesReceived  prometheus.Counter
	FramesMalformed prometheus.Counter
	StoreDispatches prometheus.Counter
	HandlesOpened   prometheus.Counter
	// label `kind` is `follow` or `unfollow`
	Notifications *prometheus.CounterVec
}

// a nil registerer creates unregistered collectors
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "frames_sent_total",
			Help:      "Frames written to the realtime connection.",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped because the realtime connection was not open.",
		}),
		FramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "frames_received_total",
			Help:      "Frames read from the realtime connection.",
		}),
		FramesMalformed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "frames_malformed_total",
			Help:      "Received frames that could not be decoded.",
		}),
		StoreDispatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "store",
			Name:      "dispatches_total",
			Help:      "Follower count updates dispatched to the store.",
		}),
		HandlesOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "handles_opened_total",
			Help:      "Connection handles created.",
		}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "router",
			Name:      "notifications_total",
			Help:      "User notifications raised by inbound follow messages.",
		}, []string{"kind"}),
	}
}

func NewNoopMetrics() *Metrics {
	return NewMetrics(nil)
}
