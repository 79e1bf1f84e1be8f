package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	ResultsTotal       *prometheus.CounterVec
	SubmitsTotal       *prometheus.CounterVec
	ChatTurnsTotal     *prometheus.CounterVec
	KeywordMatches     *prometheus.CounterVec
	AlertsRaised       prometheus.Counter
	AlertsAcknowledged prometheus.Counter
	NotifyFailures     prometheus.Counter
	ReviewLatency      prometheus.Histogram
	ChatTurnsPerResult prometheus.Histogram
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ResultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_results_total",
			Help: "Completed triage results by source and urgency.",
		}, []string{"source", "urgency"}),
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_submits_total",
			Help: "Intake submissions by source and outcome.",
		}, []string{"source", "outcome"}),
		ChatTurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_chat_turns_total",
			Help: "Chat turns recorded by role.",
		}, []string{"role"}),
		KeywordMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_chat_keyword_matches_total",
			Help: "Patient chat messages by matched rule urgency (none when no rule matched).",
		}, []string{"urgency"}),
		AlertsRaised: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triage_alerts_raised_total",
			Help: "Alerts raised for high urgency results.",
		}),
		AlertsAcknowledged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triage_alerts_acknowledged_total",
			Help: "Alerts acknowledged by staff.",
		}),
		NotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triage_notify_failures_total",
			Help: "Alert notifications that failed to send.",
		}),
		ReviewLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "triage_review_latency_seconds",
			Help:    "Time from result creation to staff review.",
			Buckets: prometheus.ExponentialBuckets(60, 2, 12), // 1m .. ~68h
		}),
		ChatTurnsPerResult: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "triage_chat_patient_turns",
			Help:    "Patient messages per completed chat intake.",
			Buckets: prometheus.LinearBuckets(1, 1, 12), // 1 .. 12
		}),
	}

	reg.MustRegister(
		m.ResultsTotal,
		m.SubmitsTotal,
		m.ChatTurnsTotal,
		m.KeywordMatches,
		m.AlertsRaised,
		m.AlertsAcknowledged,
		m.NotifyFailures,
		m.ReviewLatency,
		m.ChatTurnsPerResult,
	)

	return m
}

func (m *Metrics) submit(source Source, outcome string) {
	if m == nil {
		return
	}
	m.SubmitsTotal.WithLabelValues(string(source), outcome).Inc()
}

func (m *Metrics) completed(r *Result) {
	if m == nil {
		return
	}
	m.ResultsTotal.WithLabelValues(string(r.Source), string(r.Urgency)).Inc()
	if r.Source == SourceChat {
		m.ChatTurnsPerResult.Observe(float64(r.Conversation.PatientTurns()))
	}
}

func (m *Metrics) turn(t *Turn) {
	if m == nil {
		return
	}
	m.ChatTurnsTotal.WithLabelValues(t.Role).Inc()
	if t.Role == RolePatient {
		u := string(t.Urgency)
		if u == "" {
			u = "none"
		}
		m.KeywordMatches.WithLabelValues(u).Inc()
	}
}

func (m *Metrics) alertRaised() {
	if m == nil {
		return
	}
	m.AlertsRaised.Inc()
}

func (m *Metrics) alertAcknowledged() {
	if m == nil {
		return
	}
	m.AlertsAcknowledged.Inc()
}

func (m *Metrics) notifyFailed() {
	if m == nil {
		return
	}
	m.NotifyFailures.Inc()
}

func (m *Metrics) reviewed(seconds float64) {
	if m == nil {
		return
	}
	m.ReviewLatency.Observe(seconds)
}
