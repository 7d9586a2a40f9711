package observe

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the default Prometheus registry, where [InitProvider]
// registers its exporter unless told otherwise.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves g, typically the registry passed to [InitProvider] as
// [ProviderConfig.Registerer].
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
