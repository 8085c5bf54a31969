// Package web provides an HTTP status server for the coin-relay daemon.
package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sweeney/coin-relay/internal/ledger"
	"github.com/sweeney/coin-relay/internal/status"
)

// defaultHistory is the number of ledger entries served without ?limit.
const defaultHistory = 50

// History reads recent ledger entries.
type History interface {
	Recent(limit int) ([]ledger.Entry, error)
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	history    History
}

// New creates a Server that reads state from the given tracker. rpc, if not
// nil, is mounted at /rpc; history, if not nil, is served at /history.json.
func New(addr string, tracker *status.Tracker, rpc http.Handler, history History) *Server {
	s := &Server{tracker: tracker, history: history}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	if history != nil {
		mux.HandleFunc("/history.json", s.handleHistory)
	}
	if rpc != nil {
		mux.Handle("/rpc", rpc)
		mux.Handle("/rpc/", rpc)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the root handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Serve accepts connections on ln. It blocks until the server is shut down.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// historyJSON is one ledger entry on the wire.
type historyJSON struct {
	ID        string  `json:"id"`
	Time      string  `json:"time"`
	Kind      string  `json:"kind"`
	Cause     string  `json:"cause,omitempty"`
	FromOn    bool    `json:"from_on"`
	ToOn      bool    `json:"to_on"`
	FromTotal float64 `json:"from_total"`
	ToTotal   float64 `json:"to_total"`
	Reason    string  `json:"reason,omitempty"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistory
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]historyJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyJSON{
			ID:        e.EventID,
			Time:      e.At.UTC().Format(time.RFC3339),
			Kind:      string(e.Kind),
			Cause:     e.Cause,
			FromOn:    e.FromOn,
			ToOn:      e.ToOn,
			FromTotal: e.FromTotal,
			ToTotal:   e.ToTotal,
			Reason:    e.Reason,
		})
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
