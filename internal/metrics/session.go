package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Trigger fire tiers.
const (
	TierHost      = "host"
	TierAutomatic = "automatic"
)

var (
	sessionCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playsession_commands_total",
		Help: "Total number of session commands by operation and result",
	}, []string{"operation", "result"})

	triggerFiresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playsession_trigger_fires_total",
		Help: "Total number of trigger fires by tier and result",
	}, []string{"tier", "result"})

	auditFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playsession_audit_log_failures_total",
		Help: "Total number of session events that could not be appended to the audit log",
	})
)

// RecordCommand records the result of one controller command.
func RecordCommand(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	sessionCommandsTotal.WithLabelValues(labelOrUnknown(operation), result).Inc()
}

// RecordTriggerFire records a fire attempt. result is fired, replayed or skipped.
func RecordTriggerFire(tier, result string) {
	triggerFiresTotal.WithLabelValues(labelOrUnknown(tier), labelOrUnknown(result)).Inc()
}

// IncAuditFailure records a dropped audit log entry.
func IncAuditFailure() {
	auditFailuresTotal.Inc()
}
