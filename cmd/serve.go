package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/listing-ingest/internal/model"
	"github.com/sells-group/listing-ingest/internal/pipeline"
)

var servePort int

// server triggers runs over HTTP. Ingestion and audit share one lock so
// only one of them touches the store at a time.
type server struct {
	ingest func(ctx context.Context) (*model.RunSummary, error)
	audit  func(ctx context.Context, repair bool) (*model.AuditReport, error)
	record func(ctx context.Context, s *model.RunSummary) error
	ping   func(ctx context.Context) error

	busy sync.Mutex
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/ingest", s.handleIngest)
	r.Post("/audit", s.handleAudit)
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if !s.busy.TryLock() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a run is already in progress"})
		return
	}
	defer s.busy.Unlock()

	summary, err := s.ingest(r.Context())
	if s.record != nil && summary != nil {
		if recErr := s.record(context.WithoutCancel(r.Context()), summary); recErr != nil {
			zap.L().Warn("serve: save run summary", zap.String("run_id", summary.RunID), zap.Error(recErr))
		}
	}

	status := http.StatusOK
	switch {
	case err != nil:
		status = http.StatusServiceUnavailable
	case summary == nil || !summary.Success:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]any{
		"success": summary != nil && summary.Success && err == nil,
		"summary": summary,
	})
}

func (s *server) handleAudit(w http.ResponseWriter, r *http.Request) {
	repair := false
	if v := r.URL.Query().Get("repair"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "repair must be a boolean"})
			return
		}
		repair = b
	}

	if !s.busy.TryLock() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a run is already in progress"})
		return
	}
	defer s.busy.Unlock()

	report, err := s.audit(r.Context(), repair)
	if err != nil {
		zap.L().Error("serve: audit failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start an HTTP server that triggers ingestion and audit runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, "serve")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p := pipeline.FromConfig(cfg, st)
		a := newAuditor(cfg, st)
		srvState := &server{
			ingest: p.Run,
			audit:  a.Run,
			record: st.SaveRun,
			ping:   st.Ping,
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           srvState.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
