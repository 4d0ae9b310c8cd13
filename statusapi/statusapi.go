// Package statusapi exposes a tiny read-only HTTP surface for operational
// visibility: current space accounting and a liveness probe. It never
// receives or influences a group command, so none of spec.md's Non-goals
// (auth, access control) are implicated by its existence.
package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"groupshare/inventory"
	"groupshare/logging"
)

// statusResponse is the JSON body of GET /status.
type statusResponse struct {
	AvailableSpace uint64 `json:"available_space"`
	NegativeSpace  uint64 `json:"negative_space"`
	FileCount      int    `json:"file_count"`
}

// Server is the optional status HTTP endpoint. A nil *Server is valid and
// Shutdown on it is a no-op, so callers can construct one unconditionally
// and only Start it when --status-addr is set.
type Server struct {
	httpSrv *http.Server
	log     *logging.Logger
}

// New builds a router exposing /status and /healthz over inv, but does not
// start listening; call Start for that.
func New(addr string, inv *inventory.Inventory, log *logging.Logger) *Server {
	r := mux.NewRouter()
	r.HandleFunc("/status", func(w http.ResponseWriter, req *http.Request) {
		names, err := inv.Search("")
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		resp := statusResponse{
			AvailableSpace: inv.AvailableSpace(),
			NegativeSpace:  inv.NegativeSpace(),
			FileCount:      len(names),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}).Methods(http.MethodGet)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	return &Server{
		httpSrv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Start serves in the background. Bind failures are logged, not fatal:
// the status surface is pure observability and must never take down the
// protocol engine.
func (s *Server) Start() {
	go func() {
		s.log.Infof("statusapi: listening on %s", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("statusapi: %v", err)
		}
	}()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "statusapi: shutdown")
	}
	return nil
}
