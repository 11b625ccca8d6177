package httpapi

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"reqlens/internal/adapters/normalize"
	"reqlens/internal/adapters/search"
	"reqlens/internal/infrastructure/config"
	obs "reqlens/internal/infrastructure/observability"
	"reqlens/internal/replay"
	"reqlens/internal/usecase"
)

type Deps struct {
	Cfg     config.Config
	Logger  *zerolog.Logger
	Metrics *obs.Metrics
	Svc     *usecase.TransactionService
	Index   *search.Index
	Engine  *replay.Engine
	Norm    *normalize.Normalizer
	Monitor *MonitorHub
}

func NewRouter(d *Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry(), promhttp.HandlerOpts{}))

	mux.HandleFunc("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"name":    "reqlens",
			"version": obs.Version,
			"commit":  obs.Commit,
			"time":    time.Now().UTC(),
		})
	})

	// REST transactions
	mux.HandleFunc("/api/transactions", d.handleTransactions)
	mux.HandleFunc("/api/transactions/", d.handleTransactionByID)

	mux.HandleFunc("/api/search", d.handleSearch)

	mux.HandleFunc("/api/replay/bulk", d.handleReplayBulk)

	mux.HandleFunc("/api/export/har", d.handleExportHAR)
	mux.HandleFunc("/api/import/har", d.handleImportHAR)

	// Live event stream and capture ingest
	mux.HandleFunc("/api/monitor/ws", d.Monitor.HandleWS)
	mux.HandleFunc("/api/capture/ws", d.handleCaptureWS)

	// Capturing reverse proxy: traffic through here lands in the store
	mux.HandleFunc("/proxy", d.handleProxy)
	mux.HandleFunc("/proxy/", d.handleProxy)

	return withCORS(d.Cfg, mux)
}

func withCORS(cfg config.Config, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", cfg.CORSAllowOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Cookie, Sec-WebSocket-Protocol")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}
