package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"ivy-counsellor/internal/chat"
	"ivy-counsellor/internal/report"
	"ivy-counsellor/internal/store"
)

const (
	chatRateLimit  = 30
	chatRateWindow = time.Hour
)

// Server exposes the chat pipeline and the admin views over HTTP.
type Server struct {
	chat    *chat.Service
	repo    store.Repository
	reports *report.Generator
	limiter *sessionLimiter
	http    *http.Server
}

func New(addr string, chatSvc *chat.Service, repo store.Repository, reports *report.Generator) *Server {
	s := &Server{
		chat:    chatSvc,
		repo:    repo,
		reports: reports,
		limiter: newSessionLimiter(chatRateLimit, chatRateWindow),
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(90 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Post("/session/clear", s.handleClearSession)
		r.Route("/admin", func(r chi.Router) {
			r.Get("/leads", s.handleLeads)
			r.Get("/unanswered", s.handleUnanswered)
			r.Post("/gap-report", s.handleGapReport)
			r.Get("/documents", s.handleListDocuments)
			r.Post("/documents", s.handleAddDocument)
		})
	})

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving HTTP until the server shuts down.
func (s *Server) ListenAndServe() error {
	log.Printf("🌐 HTTP server listening on %s", s.http.Addr)
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	SessionID    string  `json:"session_id"`
	Answer       string  `json:"answer"`
	RAGScore     float64 `json:"rag_score"`
	FallbackType string  `json:"fallback_type,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID != "" && !s.limiter.Allow(req.SessionID) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
		return
	}

	reply, err := s.chat.Respond(r.Context(), req.SessionID, req.Message)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// Count freshly minted sessions against their new id.
	if req.SessionID == "" {
		s.limiter.Allow(reply.SessionID)
	}

	writeJSON(w, http.StatusOK, chatResponse{
		SessionID:    reply.SessionID,
		Answer:       reply.Answer,
		RAGScore:     reply.RAGScore,
		FallbackType: reply.FallbackType,
	})
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	s.chat.ClearSession(req.SessionID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleLeads(w http.ResponseWriter, r *http.Request) {
	minScore := 0
	if v := r.URL.Query().Get("min_score"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "min_score must be an integer")
			return
		}
		minScore = n
	}
	leads, err := s.repo.ListLeads(r.Context(), minScore)
	if err != nil {
		log.Printf("❌ Failed to list leads: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list leads")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"leads": leads, "count": len(leads)})
}

func (s *Server) handleUnanswered(w http.ResponseWriter, r *http.Request) {
	since := time.Now().AddDate(0, 0, -7)
	queries, err := s.repo.ListPendingUnanswered(r.Context(), since)
	if err != nil {
		log.Printf("❌ Failed to list unanswered queries: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list unanswered queries")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"queries": queries, "count": len(queries)})
}

func (s *Server) handleGapReport(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		writeError(w, http.StatusServiceUnavailable, "gap report not configured")
		return
	}
	if err := s.reports.Run(r.Context()); err != nil {
		log.Printf("❌ Manual gap report failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.repo.ListDocuments(r.Context())
	if err != nil {
		log.Printf("❌ Failed to list documents: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"documents": docs, "count": len(docs)})
}

// handleAddDocument registers PDF metadata after the file was ingested into
// the vector index by the external pipeline.
func (s *Server) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filename string `json:"filename"`
		Topic    string `json:"topic"`
		Chunks   int    `json:"chunks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Filename == "" {
		writeError(w, http.StatusBadRequest, "filename is required")
		return
	}
	if err := s.repo.AddDocument(r.Context(), &store.Document{
		Filename: req.Filename,
		Topic:    req.Topic,
		Chunks:   req.Chunks,
	}); err != nil {
		log.Printf("❌ Failed to register document: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to register document")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("⚠️ Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// sessionLimiter enforces a sliding-window message cap per session.
type sessionLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	history map[string][]time.Time
	now     func() time.Time
}

func newSessionLimiter(limit int, window time.Duration) *sessionLimiter {
	return &sessionLimiter{
		limit:   limit,
		window:  window,
		history: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow records one request for the session and reports whether it is
// within the window cap.
func (l *sessionLimiter) Allow(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	recent := l.history[sessionID][:0]
	for _, t := range l.history[sessionID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= l.limit {
		l.history[sessionID] = recent
		return false
	}
	l.history[sessionID] = append(recent, now)
	return true
}
