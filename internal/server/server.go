// Package server exposes the query service as a small JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/TobiSchelling/AgriNews/internal/database"
	"github.com/TobiSchelling/AgriNews/internal/logging"
	"github.com/TobiSchelling/AgriNews/internal/query"
	"github.com/TobiSchelling/AgriNews/internal/relevance"
)

const shutdownTimeout = 10 * time.Second

// Server is the HTTP front of the news feed.
type Server struct {
	svc *query.Service
	log *zap.Logger
	mux *http.ServeMux
}

// New creates a new Server.
func New(svc *query.Service, log *zap.Logger) *Server {
	s := &Server{svc: svc, log: logging.OrNop(log), mux: http.NewServeMux()}
	s.routes()
	return s
}

// Handler returns the routes wrapped in recovery, compression, access
// logging and CORS.
func (s *Server) Handler() http.Handler {
	stdlog := zap.NewStdLog(s.log.Named("http"))

	var h http.Handler = s.mux
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(stdlog),
		handlers.PrintRecoveryStack(true),
	)(h)
	h = handlers.CompressHandler(h)
	h = handlers.CombinedLoggingHandler(stdlog.Writer(), h)
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(h)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /api/articles", s.handleArticles)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("POST /api/update", s.handleUpdate)
	s.mux.HandleFunc("GET /api/search", s.handleSearch)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/keywords", s.handleKeywords)
	s.mux.HandleFunc("GET /api/runs", s.handleRuns)
	s.mux.HandleFunc("GET /api/sources", s.handleSources)
}

type articlesResponse struct {
	query.ArticlePage
	Error string `json:"error,omitempty"`
}

type statsResponse struct {
	database.Stats
	Error string `json:"error,omitempty"`
}

type searchResponse struct {
	Query    string             `json:"query"`
	Articles []database.Article `json:"articles"`
	Count    int                `json:"count"`
	Error    string             `json:"error,omitempty"`
}

type keywordsResponse struct {
	relevance.KeywordSummary
	Error string `json:"error,omitempty"`
}

type listResponse[T any] struct {
	Items []T    `json:"items"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleArticles(w http.ResponseWriter, r *http.Request) {
	page, err := s.svc.ListArticles(r.Context(), listParams(r))
	writeJSON(w, statusFor(err), articlesResponse{ArticlePage: page, Error: errText(err)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Stats(r.Context())
	writeJSON(w, statusFor(err), statsResponse{Stats: st, Error: errText(err)})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	res := s.svc.Update(r.Context())

	code := http.StatusOK
	switch res.Status {
	case query.UpdateBusy:
		code = http.StatusConflict
	case query.UpdateError:
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, res)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("query"))
	if q == "" {
		q = strings.TrimSpace(r.URL.Query().Get("q"))
	}
	articles, err := s.svc.Search(r.Context(), q)

	code := statusFor(err)
	if errors.Is(err, query.ErrEmptyQuery) {
		code = http.StatusBadRequest
	}
	writeJSON(w, code, searchResponse{
		Query:    q,
		Articles: articles,
		Count:    len(articles),
		Error:    errText(err),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

func (s *Server) handleKeywords(w http.ResponseWriter, r *http.Request) {
	summary, err := s.svc.Keywords(r.Context())
	writeJSON(w, statusFor(err), keywordsResponse{KeywordSummary: summary, Error: errText(err)})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.svc.Runs(r.Context(), intParam(r, "limit", 0))
	writeJSON(w, statusFor(err), listResponse[database.FetchLogEntry]{Items: runs, Error: errText(err)})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.svc.Sources(r.Context())
	writeJSON(w, statusFor(err), listResponse[database.SourceRecord]{Items: sources, Error: errText(err)})
}

// listParams reads the listing query. Malformed values fall back to the
// defaults.
func listParams(r *http.Request) query.ListParams {
	p := query.DefaultListParams()
	if c := strings.TrimSpace(r.URL.Query().Get("category")); c != "" {
		p.Category = c
	}
	p.DaysBack = intParam(r, "days", p.DaysBack)
	p.Limit = intParam(r, "limit", p.Limit)
	p.Page = intParam(r, "page", p.Page)
	if v := r.URL.Query().Get("relevance"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			p.MinRelevance = f
		}
	}
	return p
}

func intParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func statusFor(err error) int {
	if err != nil {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// Serve listens on the given port until ctx is done, then shuts down
// gracefully.
func Serve(ctx context.Context, h http.Handler, port int, log *zap.Logger) error {
	log = logging.OrNop(log)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("url", "http://"+addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	log.Info("shutting down server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}
