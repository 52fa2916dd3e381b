package api

import "net/http"

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("GET /v1/templates", h.ListTemplates)
	mux.HandleFunc("POST /v1/preview", h.Preview)
	mux.HandleFunc("POST /v1/send", h.Send)
	mux.HandleFunc("POST /v1/retry-failed", h.RetryFailed)

	mux.HandleFunc("GET /v1/results/{batchID}", h.BatchResults)
	mux.HandleFunc("GET /v1/statistics", h.Statistics)

	mux.HandleFunc("GET /v1/relay/health", h.RelayHealth)
	mux.HandleFunc("GET /v1/monitor/status", h.MonitorStatus)
	mux.HandleFunc("POST /v1/monitor/start", h.MonitorStart)
	mux.HandleFunc("POST /v1/monitor/stop", h.MonitorStop)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("wa-notify"))
	})

	return mux
}
