// Package metrics holds the operator's Prometheus collectors. They are registered with
// the controller-runtime registry and served on the manager's metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

const namespace = "anvil"

var (
	// RoundsTotal counts finished reconcile rounds by result ("done" or "error").
	RoundsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_rounds_total",
		Help:      "Reconcile rounds by resource kind and result.",
	}, []string{"kind", "result"})

	// RequestsTotal counts requests issued by the state machine.
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Requests issued by reconcile rounds by resource kind, target and verb.",
	}, []string{"kind", "target", "verb"})

	RoundDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "round_duration_seconds",
		Help:      "Wall time of reconcile rounds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})
)

const (
	ResultDone  = "done"
	ResultError = "error"

	TargetKubernetes = "kubernetes"
	TargetZooKeeper  = "zookeeper"
)

func init() {
	metrics.Registry.MustRegister(RoundsTotal, RequestsTotal, RoundDuration)
}
