package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/creamcroissant/xprovision/internal/panel"
)

// Metrics counts provisioning outcomes. A nil *Metrics records nothing.
type Metrics struct {
	provisions     *prometheus.CounterVec
	migrations     *prometheus.CounterVec
	deleteFailures *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		return nil
	}
	if namespace == "" {
		namespace = "xprovision"
	}
	factory := promauto.With(reg)
	return &Metrics{
		provisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provision_total",
			Help:      "Remote client creations by protocol and result.",
		}, []string{"protocol", "result"}),
		migrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migration_total",
			Help:      "Migrations by terminal state.",
		}, []string{"result"}),
		deleteFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_delete_failures_total",
			Help:      "Best-effort remote deletions that failed.",
		}, []string{"protocol"}),
	}
}

func (m *Metrics) provisioned(protocol panel.Protocol, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.provisions.WithLabelValues(string(protocol), result).Inc()
}

func (m *Metrics) migrated(state MigrationState) {
	if m == nil {
		return
	}
	m.migrations.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) deleteFailed(protocol panel.Protocol) {
	if m == nil {
		return
	}
	m.deleteFailures.WithLabelValues(string(protocol)).Inc()
}
