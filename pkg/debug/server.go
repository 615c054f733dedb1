package debug

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gaetancollaud/wiser-mqtt/pkg/wiser"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// StartDebugServer serves the profiling, metrics, probes and live events
// endpoints on the given address.
func StartDebugServer(wg *sync.WaitGroup, address string, wiserClient wiser.Client) (*http.Server, *atomic.Value) {
	isReady := &atomic.Value{}
	isReady.Store(false)
	srv := &http.Server{Addr: address, Handler: newHandler(isReady, wiserClient)}

	go func() {
		defer wg.Done() // Let main know we are done cleaning up

		log.Info().Str("address", address).Msg("Starting debug server")
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Error on sidecar server for debugging")
		}
	}()

	return srv, isReady
}

func newHandler(isReady *atomic.Value, wiserClient wiser.Client) http.Handler {
	r := chi.NewRouter()
	// Profiling endpoints under /debug/pprof.
	r.Mount("/debug", middleware.Profiler())
	r.Handle("/metrics", promhttp.Handler())
	// Readines and liveness endpoints.
	r.Get("/healthz", healthz)
	r.Get("/readyz", readyz(isReady))
	// Live group levels.
	r.Get("/events", events(wiserClient))
	return r
}

// healthz is a liveness probe.
func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// readyz is a readiness probe.
func readyz(isReady *atomic.Value) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if isReady == nil || !isReady.Load().(bool) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
