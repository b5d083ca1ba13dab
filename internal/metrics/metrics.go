package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Submissions counts submission outcomes by result: accepted, or one of the
// distinct rejection reasons.
var Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "qrmark",
	Name:      "submissions_total",
	Help:      "Attendance submission attempts by outcome.",
}, []string{"result"})

// SlotRotations counts minted slots.
var SlotRotations = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "qrmark",
	Name:      "slot_rotations_total",
	Help:      "Number of attendance slots minted.",
})

// Exports counts admin exports by format.
var Exports = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "qrmark",
	Name:      "exports_total",
	Help:      "Admin exports by format.",
}, []string{"format"})
