package main

import (
	"net/http"

	"go.uber.org/fx"

	"github.com/exoscale/credreload/credbroadcast"
)

// RegisterHealthzParams pulls in the same named *http.Server fxmetrics
// already registers /metrics on, so /healthz is served from the same
// plaintext, non-reloading listener.
type RegisterHealthzParams struct {
	fx.In

	Server     *http.Server `name:"metrics"`
	ServerSlot *credbroadcast.Slot[*credbroadcast.ServerConfig]
}

// RegisterHealthz adds a /healthz endpoint reporting whether the broadcast
// core has published at least one generation: 200 once ServerSlot holds a
// value, 503 while it is absent. It is invoked after fxmetrics registers
// /metrics on the same server so both handlers end up on the same mux.
func RegisterHealthz(p RegisterHealthzParams) {
	mux, ok := p.Server.Handler.(*http.ServeMux)
	if !ok {
		mux = http.NewServeMux()
		p.Server.Handler = mux
	}

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, present := p.ServerSlot.Load(); !present {
			http.Error(w, "no credentials published yet", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
