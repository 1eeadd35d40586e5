// Package adminhttp is the optional operator-facing HTTP surface of the
// reducer process (§5, §6): liveness/metrics for monitoring and two reload
// endpoints that submit a closure onto the reducer's command channel rather
// than ever touching the Game aggregate from this package's own goroutine.
package adminhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/pku-geekgame/ctf-core/internal/reducer"
)

// Server exposes the reducer's operator endpoints over HTTP.
type Server struct {
	addr string
	red  *reducer.Reducer
	log  *logrus.Logger
	srv  *http.Server
}

// New constructs an admin server bound to addr, fronting red.
func New(addr string, red *reducer.Reducer, log *logrus.Logger) *Server {
	s := &Server{addr: addr, red: red, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/admin/reload/triggers", s.handleReloadTriggers)
	r.Post("/admin/reload/policy", s.handleReloadPolicy)

	s.srv = &http.Server{Addr: addr, Handler: r}
	return s
}

// ListenAndServe blocks serving the admin endpoint until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	s.log.WithField("module", "adminhttp").Infof("admin HTTP listening on %s", s.addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(logrus.Fields{
			"module":  "adminhttp",
			"path":    r.URL.Path,
			"method":  r.Method,
			"elapsed": time.Since(start).String(),
		}).Debug("admin request")
	})
}

type healthzResponse struct {
	OK           bool  `json:"ok"`
	StateCounter int64 `json:"state_counter"`
	CurTick      int   `json:"cur_tick"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := s.red.Snapshot()
	writeJSON(w, http.StatusOK, healthzResponse{OK: true, StateCounter: st.StateCounter, CurTick: st.CurTick})
}

func (s *Server) handleReloadTriggers(w http.ResponseWriter, r *http.Request) {
	if err := s.red.ReloadTriggers(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, errResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleReloadPolicy(w http.ResponseWriter, r *http.Request) {
	if err := s.red.ReloadPolicy(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, errResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

type okResponse struct {
	OK bool `json:"ok"`
}

type errResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
