package http

import (
	"net/http"
	"net/http/pprof"
	"runtime"
	"time"

	"github.com/gorilla/mux"
)

// DebugHandler serves runtime statistics and, when enabled, pprof.
type DebugHandler struct {
	pprofEnabled bool
	startTime    time.Time
}

// NewDebugHandler creates a debug handler.
func NewDebugHandler(pprofEnabled bool) *DebugHandler {
	return &DebugHandler{
		pprofEnabled: pprofEnabled,
		startTime:    time.Now(),
	}
}

// Register mounts the debug routes on router.
func (h *DebugHandler) Register(router *mux.Router) {
	router.HandleFunc("/debug/runtime", h.handleRuntimeInfo).Methods(http.MethodGet)

	if h.pprofEnabled {
		router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		router.HandleFunc("/debug/pprof/profile", pprof.Profile)
		router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		router.HandleFunc("/debug/pprof/trace", pprof.Trace)
		// Index serves the named profiles (heap, goroutine, block, mutex).
		router.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	}
}

// handleRuntimeInfo handles GET /debug/runtime
func (h *DebugHandler) handleRuntimeInfo(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	writeJSON(w, http.StatusOK, RuntimeResponse{
		GoVersion:     runtime.Version(),
		NumGoroutine:  runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		HeapAllocMB:   float64(memStats.HeapAlloc) / 1024 / 1024,
		SysMB:         float64(memStats.Sys) / 1024 / 1024,
		NumGC:         memStats.NumGC,
		PprofEnabled:  h.pprofEnabled,
	})
}
