package handlers

import (
	"net/http"
)

// ServeMetrics serves the Prometheus exposition of the collector.
func (a *App) ServeMetrics(w http.ResponseWriter, r *http.Request) {
	a.Metrics.Handler().ServeHTTP(w, r)
}
