// Package metrics defines the Prometheus instrumentation for the service.
// Collectors are registered on the default registry and exposed via the
// /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	tasksSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pictor",
		Name:      "tasks_submitted_total",
		Help:      "Number of generation tasks accepted for processing.",
	})

	tasksTerminal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pictor",
		Name:      "tasks_terminal_total",
		Help:      "Number of generation tasks that reached a terminal status.",
	}, []string{"status"})

	webhookDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pictor",
		Name:      "webhook_deliveries_total",
		Help:      "Completion callback delivery attempts by outcome.",
	}, []string{"outcome"})

	tasksRecovered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pictor",
		Name:      "tasks_recovered_total",
		Help:      "Number of unfinished tasks requeued at startup.",
	})
)

func init() {
	prometheus.MustRegister(
		tasksSubmitted,
		tasksTerminal,
		webhookDeliveries,
		tasksRecovered,
	)
}

// IncTaskSubmitted records a task accepted for processing.
func IncTaskSubmitted() {
	tasksSubmitted.Inc()
}

// IncTaskTerminal records a task reaching the given terminal status.
func IncTaskTerminal(status string) {
	tasksTerminal.WithLabelValues(status).Inc()
}

// IncWebhookDelivered records a successful completion callback delivery.
func IncWebhookDelivered() {
	webhookDeliveries.WithLabelValues("delivered").Inc()
}

// IncWebhookFallback records a callback delivery that fell back to a direct
// store write.
func IncWebhookFallback() {
	webhookDeliveries.WithLabelValues("fallback").Inc()
}

// AddTasksRecovered records tasks requeued during startup recovery.
func AddTasksRecovered(n int) {
	tasksRecovered.Add(float64(n))
}
