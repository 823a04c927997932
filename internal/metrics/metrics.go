package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "obverse"

var (
	// WalletsCreated counts custodial wallets provisioned.
	WalletsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "wallets_created_total",
		Help:      "Custodial wallets provisioned.",
	})

	// KeyRestores counts signing key restorations by result code.
	KeyRestores = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "key_restores_total",
		Help:      "Signing key restorations by result.",
	}, []string{"result"})

	// SwapsTotal counts finished swaps by final state, target token and error code.
	SwapsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "swaps_total",
		Help:      "Swaps by final state.",
	}, []string{"state", "token", "code"})

	// SwapDuration observes end-to-end swap latency.
	SwapDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "swap_duration_seconds",
		Help:      "End-to-end swap latency.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
	}, []string{"state"})

	// BotUpdates counts chat updates by kind.
	BotUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bot_updates_total",
		Help:      "Chat updates handled by kind.",
	}, []string{"kind"})
)

// Handler exposes the default registry on a Fiber route.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
