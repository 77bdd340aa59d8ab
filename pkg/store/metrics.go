package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	opsSaved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_store_records_saved_total",
		Help: "Records written to the store, by record type.",
	}, []string{"type"})

	opsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_store_entries_delivered_total",
		Help: "Queue entries marked delivered by drain.",
	})

	opsPurged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_store_records_purged_total",
		Help: "Records removed by retention purges, by record type.",
	}, []string{"type"})
)
