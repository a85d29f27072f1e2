package license

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var validations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "updater",
	Subsystem: "license",
	Name:      "validations_total",
	Help:      "License validations by verdict source and whether updates were allowed.",
}, []string{"source", "update_allowed"})

func observe(res *ValidationResult) {
	validations.WithLabelValues(string(res.Source), strconv.FormatBool(res.UpdateAllowed)).Inc()
}
