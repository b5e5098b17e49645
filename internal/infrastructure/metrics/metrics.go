// Package metrics expone los contadores Prometheus del ledger (registrados en el registry global).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MovementsSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_movements_submitted_total",
		Help: "Movimientos aceptados por el ledger",
	}, []string{"type"})

	MovementsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_movements_completed_total",
		Help: "Movimientos completados por el reconciliador",
	}, []string{"type"})

	MovementsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_movements_failed_total",
		Help: "Movimientos que terminaron en failed",
	}, []string{"reason"})

	MovementsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_movements_cancelled_total",
		Help: "Movimientos cancelados estando pending",
	})

	MovementsLeftPendingTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_movements_left_pending_total",
		Help: "Reconciliaciones que dejaron el movimiento en pending",
	}, []string{"reason"})

	BalanceConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_balance_conflicts_total",
		Help: "Conflictos de versión al actualizar saldos (cada intento)",
	})

	SagaCompensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_saga_compensations_total",
		Help: "Compensaciones ejecutadas en modo saga",
	}, []string{"result"})

	ReconcileLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_reconcile_latency_seconds",
		Help:    "Latencia de la aplicación de un movimiento a los saldos",
		Buckets: prometheus.DefBuckets,
	})

	EventsPublishFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_events_publish_failed_total",
		Help: "Eventos MovementCompleted que no se pudieron publicar",
	})

	AuditRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_audit_runs_total",
		Help: "Ejecuciones de auditoría de saldos",
	}, []string{"trigger"})

	AuditMismatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_audit_mismatches_total",
		Help: "Pares producto/ubicación con saldo distinto a la suma del ledger",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Latencia de las peticiones HTTP",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)
