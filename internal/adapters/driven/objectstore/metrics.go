package objectstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var storageInconsistencies = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tally_storage_inconsistent_records_total",
		Help: "Stored records skipped because they could not be decoded or validated",
	},
	[]string{"bucket"},
)
