package protocol

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts protocol outcomes. A nil *Metrics disables counting, so
// tests can run the coordinator bare.
type Metrics struct {
	SessionsIssued         prometheus.Counter
	VerificationsBegun     prometheus.Counter
	VerificationsCompleted prometheus.Counter
	Failures               *prometheus.CounterVec
}

// NewMetrics registers protocol counters on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_sessions_issued_total",
			Help: "QR sessions issued by teachers.",
		}),
		VerificationsBegun: factory.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_verifications_begun_total",
			Help: "OTP challenges issued on QR scan.",
		}),
		VerificationsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_verifications_completed_total",
			Help: "Attendance records committed.",
		}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_protocol_failures_total",
			Help: "Protocol failures by error kind.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) issued() {
	if m != nil {
		m.SessionsIssued.Inc()
	}
}

func (m *Metrics) begun() {
	if m != nil {
		m.VerificationsBegun.Inc()
	}
}

func (m *Metrics) completed() {
	if m != nil {
		m.VerificationsCompleted.Inc()
	}
}

func (m *Metrics) failed(kind string) {
	if m != nil {
		m.Failures.WithLabelValues(kind).Inc()
	}
}
