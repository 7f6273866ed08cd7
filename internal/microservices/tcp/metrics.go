package tcp

import (
	"fmt"
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// serverMetrics are per-server so several servers (tests) never collide
type serverMetrics struct {
	set *metrics.Set

	accepted       *metrics.Counter
	rejected       *metrics.Counter
	acceptErrors   *metrics.Counter
	framesDropped  *metrics.Counter
	malformed      *metrics.Counter
	rateLimited    *metrics.Counter
	writeErrors    *metrics.Counter
	handlerPanics  *metrics.Counter
	requestLatency *metrics.Histogram
}

func newServerMetrics(sessions func() int, loggedIn func() int) *serverMetrics {
	set := metrics.NewSet()
	set.NewGauge("runserver_sessions_active", func() float64 { return float64(sessions()) })
	set.NewGauge("runserver_logged_in_clients", func() float64 { return float64(loggedIn()) })

	return &serverMetrics{
		set:            set,
		accepted:       set.NewCounter("runserver_connections_accepted_total"),
		rejected:       set.NewCounter("runserver_connections_rejected_total"),
		acceptErrors:   set.NewCounter("runserver_accept_errors_total"),
		framesDropped:  set.NewCounter("runserver_frames_dropped_total"),
		malformed:      set.NewCounter("runserver_frames_malformed_total"),
		rateLimited:    set.NewCounter("runserver_frames_rate_limited_total"),
		writeErrors:    set.NewCounter("runserver_write_errors_total"),
		handlerPanics:  set.NewCounter("runserver_handler_panics_total"),
		requestLatency: set.NewHistogram("runserver_request_duration_seconds"),
	}
}

// request counts one routed request by type and outcome
func (m *serverMetrics) request(reqType string, success bool, start time.Time) {
	m.set.GetOrCreateCounter(fmt.Sprintf(`runserver_requests_total{type=%q,success="%t"}`, reqType, success)).Inc()
	m.requestLatency.UpdateDuration(start)
}

func (m *serverMetrics) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}
