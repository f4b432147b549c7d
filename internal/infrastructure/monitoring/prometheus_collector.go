package monitoring

import (
	"time"

	"echoframe/internal/core/domain"
	"echoframe/internal/core/ports"
	apperrors "echoframe/pkg/errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var _ ports.Metrics = (*PrometheusCollector)(nil)

type PrometheusCollector struct {
	// Gauges
	roomsActive       prometheus.Gauge
	guestsOnline      prometheus.Gauge
	requestsOpen      prometheus.Gauge
	connectionsActive prometheus.Gauge

	// Counters
	roomsOpenedTotal    prometheus.Counter
	roomsClosedTotal    prometheus.Counter
	guestTransitions    *prometheus.CounterVec
	playbackCommands    *prometheus.CounterVec
	requestsSubmitted   *prometheus.CounterVec
	requestsRejected    *prometheus.CounterVec
	requestsResolved    *prometheus.CounterVec
	chatMessagesTotal   prometheus.Counter
	eventsDelivered     *prometheus.CounterVec
	eventsFailed        *prometheus.CounterVec
	eventsDroppedTotal  prometheus.Counter
	connectionsTotal    prometheus.Counter
	mutationErrorsTotal *prometheus.CounterVec

	// Histograms
	mutationDuration *prometheus.HistogramVec
	followerDrift    prometheus.Histogram
}

// NewPrometheusCollector registers the room metrics with reg. A nil reg
// uses the default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &PrometheusCollector{
		roomsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "echoframe_rooms_active",
			Help: "Number of active rooms",
		}),
		guestsOnline: f.NewGauge(prometheus.GaugeOpts{
			Name: "echoframe_guests_online",
			Help: "Number of approved guests currently online",
		}),
		requestsOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "echoframe_requests_open",
			Help: "Number of guest requests awaiting a controller",
		}),
		connectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "echoframe_ws_connections_active",
			Help: "Number of open websocket connections",
		}),

		roomsOpenedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "echoframe_rooms_opened_total",
			Help: "Total number of rooms opened",
		}),
		roomsClosedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "echoframe_rooms_closed_total",
			Help: "Total number of rooms closed",
		}),
		guestTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "echoframe_guest_transitions_total",
			Help: "Guest status transitions by target status",
		}, []string{"status"}),
		playbackCommands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "echoframe_playback_commands_total",
			Help: "Accepted controller playback commands",
		}, []string{"kind"}),
		requestsSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "echoframe_requests_submitted_total",
			Help: "Guest requests accepted for controllers",
		}, []string{"type"}),
		requestsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "echoframe_requests_rejected_total",
			Help: "Guest requests refused before reaching controllers",
		}, []string{"reason"}),
		requestsResolved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "echoframe_requests_resolved_total",
			Help: "Guest requests resolved by outcome",
		}, []string{"outcome"}),
		chatMessagesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "echoframe_chat_messages_total",
			Help: "Chat messages stored and broadcast",
		}),
		eventsDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "echoframe_events_delivered_total",
			Help: "Room events delivered per sink",
		}, []string{"sink"}),
		eventsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "echoframe_events_failed_total",
			Help: "Room events that exhausted their delivery attempts",
		}, []string{"sink"}),
		eventsDroppedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "echoframe_events_dropped_total",
			Help: "Room events dropped because the publish queue was full",
		}),
		connectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "echoframe_ws_connections_total",
			Help: "Total number of websocket connections accepted",
		}),
		mutationErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "echoframe_room_mutation_errors_total",
			Help: "Rejected room mutations by operation and error code",
		}, []string{"op", "code"}),

		mutationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "echoframe_room_mutation_duration_seconds",
			Help:    "Time spent holding a room's writer lock",
			Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}, []string{"op"}),
		followerDrift: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "echoframe_follower_drift_seconds",
			Help:    "Absolute drift reported by followers",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 1.5, 3, 5, 10, 30},
		}),
	}
}

func (p *PrometheusCollector) RoomOpened() { p.roomsOpenedTotal.Inc() }

func (p *PrometheusCollector) RoomClosed() { p.roomsClosedTotal.Inc() }

func (p *PrometheusCollector) SetRoomGauges(activeRooms, onlineGuests, openRequests int) {
	p.roomsActive.Set(float64(activeRooms))
	p.guestsOnline.Set(float64(onlineGuests))
	p.requestsOpen.Set(float64(openRequests))
}

func (p *PrometheusCollector) GuestTransition(to domain.GuestStatus) {
	p.guestTransitions.WithLabelValues(string(to)).Inc()
}

func (p *PrometheusCollector) PlaybackCommand(kind domain.PlaybackKind) {
	p.playbackCommands.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) RequestSubmitted(t domain.RequestType) {
	p.requestsSubmitted.WithLabelValues(string(t)).Inc()
}

func (p *PrometheusCollector) RequestRejected(reason string) {
	p.requestsRejected.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RequestResolved(outcome domain.Outcome) {
	p.requestsResolved.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusCollector) ChatMessageSent() { p.chatMessagesTotal.Inc() }

func (p *PrometheusCollector) DriftObserved(seconds float64) {
	if seconds < 0 {
		seconds = -seconds
	}
	p.followerDrift.Observe(seconds)
}

func (p *PrometheusCollector) MutationObserved(op string, d time.Duration, err error) {
	p.mutationDuration.WithLabelValues(op).Observe(d.Seconds())
	if err == nil {
		return
	}
	code := string(apperrors.ErrCodeInternal)
	if appErr := apperrors.GetAppError(err); appErr != nil {
		code = string(appErr.Code)
	}
	p.mutationErrorsTotal.WithLabelValues(op, code).Inc()
}

func (p *PrometheusCollector) EventDelivered(sink string) {
	p.eventsDelivered.WithLabelValues(sink).Inc()
}

func (p *PrometheusCollector) EventDeliveryFailed(sink string) {
	p.eventsFailed.WithLabelValues(sink).Inc()
}

func (p *PrometheusCollector) EventDropped() { p.eventsDroppedTotal.Inc() }

func (p *PrometheusCollector) ConnectionOpened() {
	p.connectionsTotal.Inc()
	p.connectionsActive.Inc()
}

func (p *PrometheusCollector) ConnectionClosed() { p.connectionsActive.Dec() }
