package fetch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	etFieldsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "et_fields_total",
			Help: "Fields processed by outcome (committed, discarded)",
		},
		[]string{"outcome"},
	)

	etFieldsRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "et_fields_remaining",
			Help: "Fields left in the current queue",
		},
	)
)
