// Package observability holds opt-in operator toggles for the running
// process, separate from the domain-facing HTTP surface in internal/netapi.
package observability

import (
	"net/http"
	"net/http/pprof"
)

// Config captures opt-in observability toggles that wire into the server.
type Config struct {
	EnablePprofTrace bool
}

// RegisterPprof mounts the standard net/http/pprof handlers under
// /debug/pprof/ on mux when EnablePprofTrace is set. It is a no-op
// otherwise, so leaving the switch off never exposes profiling endpoints.
func RegisterPprof(mux *http.ServeMux, cfg Config) {
	if !cfg.EnablePprofTrace {
		return
	}
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}
