package checkpoint

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StoreErrors counts checkpoint store failures by backend and operation.
var StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dispatch_checkpoint_errors_total",
	Help: "Total checkpoint store errors by backend and operation",
}, []string{"backend", "operation"})
