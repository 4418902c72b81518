package webhook

import "net/http"

// RegisterRoutes registers the webhook ingress's HTTP surface.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
		RateLimit(h.logger),
	)

	mux.Handle("POST /webhooks/test", chain(h.HandleWebhook("test", true)))
	for tracker := range h.cfg.Secrets {
		mux.Handle("POST /webhooks/"+tracker, chain(h.HandleWebhook(tracker, false)))
	}

	mux.Handle("GET /health", http.HandlerFunc(h.HandleHealth))
	mux.Handle("GET /health/detailed", chain(http.HandlerFunc(h.HandleHealthDetailed)))
	mux.Handle("GET /health/providers", chain(http.HandlerFunc(h.HandleHealthProviders)))

	mux.Handle("GET /sessions", chain(http.HandlerFunc(h.HandleSessions)))
	mux.Handle("GET /sessions/{id}", chain(http.HandlerFunc(h.HandleSessionShow)))
}
