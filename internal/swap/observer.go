package swap

import (
	"time"

	apperr "github.com/obverse/obverse/internal/errors"
	"github.com/obverse/obverse/internal/metrics"
)

// MetricsObserver records finished flows in Prometheus.
type MetricsObserver struct{}

// SwapFinished implements Observer.
func (MetricsObserver) SwapFinished(res Result, err error, elapsed time.Duration) {
	code := "ok"
	if err != nil {
		code = apperr.CodeOf(err).String()
	}
	metrics.SwapsTotal.WithLabelValues(string(res.State), res.TargetToken, code).Inc()
	metrics.SwapDuration.WithLabelValues(string(res.State)).Observe(elapsed.Seconds())
}
