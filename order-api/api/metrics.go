package api

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// requestMetrics collects per-request timings and logs them as one structured
// line when the request finishes.
type requestMetrics struct {
	logger       *log.Logger
	route        string
	start        time.Time
	authDuration time.Duration
	execDuration time.Duration
	action       string
	aggregateID  string
	replayed     bool
	errorStage   string
}

func newRequestMetrics(logger *log.Logger, route string) *requestMetrics {
	return &requestMetrics{logger: logger, route: route, start: time.Now()}
}

func (m *requestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *requestMetrics) ObserveExec(d time.Duration) {
	if d > 0 {
		m.execDuration = d
	}
}

func (m *requestMetrics) SetAction(action string) { m.action = action }

func (m *requestMetrics) SetAggregateID(id string) { m.aggregateID = id }

func (m *requestMetrics) SetReplayed() { m.replayed = true }

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

func (m *requestMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}
	fields := log.Fields{
		"route":    m.route,
		"status":   status,
		"total_ms": durationToMillis(time.Since(m.start)),
	}
	if m.action != "" {
		fields["action"] = m.action
	}
	if m.aggregateID != "" {
		fields["aggregate_id"] = m.aggregateID
	}
	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.execDuration > 0 {
		fields["exec_ms"] = durationToMillis(m.execDuration)
	}
	if m.replayed {
		fields["idempotent_replay"] = true
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.logger.WithFields(fields).Info("api.request.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
