package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fabfab/visacoach/chat"
	"github.com/fabfab/visacoach/index"
	"github.com/fabfab/visacoach/ingestion"
)

// Backend rebuilds the index and opens a query service over the current one.
type Backend interface {
	Ingest(ctx context.Context) (ingestion.Stats, error)
	Open(ctx context.Context) (*chat.Service, error)
}

// Server exposes the question workflow over HTTP. The query service is
// replaced as a whole after every rebuild, so in-flight requests finish on
// the index they started with.
type Server struct {
	backend Backend
	logger  *log.Logger
	handler http.Handler

	chat     atomic.Pointer[chat.Service]
	sessions *sessionStore
	ingestMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status     string `json:"status"`
	IndexReady bool   `json:"index_ready"`
}

type sessionRequest struct {
	Query string `json:"query"`
}

type clarificationRequest struct {
	Clarification string `json:"clarification"`
}

type askRequest struct {
	Query         string `json:"query"`
	Clarification string `json:"clarification"`
}

type askResponse struct {
	chat.Session
	Status string `json:"status"`
}

type ingestResponse struct {
	Documents int      `json:"documents"`
	Chunks    int      `json:"chunks"`
	Dimension int      `json:"dimension"`
	Skipped   []string `json:"skipped,omitempty"`
	Duration  string   `json:"duration"`
}

// New constructs a Server and opens the current index. A missing index is
// not an error: question endpoints answer 503 until an ingest succeeds.
func New(backend Backend, logger *log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		backend:  backend,
		logger:   logger,
		sessions: newSessionStore(),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.handler = s.routes()

	if err := s.Reload(ctx); err != nil {
		if !errors.Is(err, index.ErrIndexNotFound) {
			cancel()
			return nil, err
		}
		s.logger.Printf("no index yet: POST /v1/ingest to build one")
	}
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Reload opens the current index and swaps it in.
func (s *Server) Reload(ctx context.Context) error {
	svc, err := s.backend.Open(ctx)
	if err != nil {
		return err
	}
	s.chat.Store(svc)
	return nil
}

// Close cancels background answers and waits for them to stop.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("POST /v1/sessions/{id}/clarification", s.handleClarification)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /v1/ask", s.handleAsk)
	mux.HandleFunc("POST /v1/ingest", s.handleIngest)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", IndexReady: s.chat.Load() != nil})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		s.writeError(w, http.StatusBadRequest, chat.ErrEmptyQuery)
		return
	}

	sess := chat.Session{OriginalQuery: query}
	if chat.IsVague(query) {
		sess.NeedsClarification = true
		snap := s.sessions.create(sess, StatusNeedsClarification)
		s.writeJSON(w, http.StatusCreated, snap)
		return
	}

	svc, ok := s.service(w)
	if !ok {
		return
	}
	snap := s.sessions.create(sess, StatusPending)
	s.answerAsync(svc, snap.ID, sess)
	s.writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleClarification(w http.ResponseWriter, r *http.Request) {
	var req clarificationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	clarification := strings.TrimSpace(req.Clarification)
	if clarification == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("clarification is required"))
		return
	}

	id := r.PathValue("id")
	if _, found := s.sessions.get(id); !found {
		s.writeError(w, http.StatusNotFound, errSessionNotFound)
		return
	}
	svc, ok := s.service(w)
	if !ok {
		return
	}

	snap, err := s.sessions.clarify(id, clarification)
	switch {
	case errors.Is(err, errSessionNotFound):
		s.writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		s.writeError(w, http.StatusConflict, err)
		return
	}

	s.answerAsync(svc, snap.ID, snap.Session)
	s.writeJSON(w, http.StatusAccepted, snap)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.sessions.get(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, errSessionNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.writeError(w, http.StatusBadRequest, chat.ErrEmptyQuery)
		return
	}

	svc, ok := s.service(w)
	if !ok {
		return
	}

	sess, err := svc.Ask(r.Context(), chat.Session{OriginalQuery: req.Query, Clarification: req.Clarification})
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	status := StatusDone
	if sess.NeedsClarification {
		status = StatusNeedsClarification
	}
	s.writeJSON(w, http.StatusOK, askResponse{Session: sess, Status: status})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if !s.ingestMu.TryLock() {
		s.writeError(w, http.StatusConflict, fmt.Errorf("an ingest is already running"))
		return
	}
	defer s.ingestMu.Unlock()

	ctx := r.Context()
	stats, err := s.backend.Ingest(ctx)
	if err != nil {
		s.writeError(w, statusFor(err), fmt.Errorf("ingestion failed: %w", err))
		return
	}
	if err := s.Reload(ctx); err != nil {
		s.writeError(w, statusFor(err), fmt.Errorf("open rebuilt index: %w", err))
		return
	}

	s.logger.Printf("index rebuilt with %d chunks", stats.Chunks)
	s.writeJSON(w, http.StatusOK, ingestResponse{
		Documents: stats.Documents,
		Chunks:    stats.Chunks,
		Dimension: stats.Dimension,
		Skipped:   stats.Skipped,
		Duration:  stats.Duration.String(),
	})
}

// answerAsync resolves a pending session in the background. The request
// context is not used so the answer survives the request that created it.
func (s *Server) answerAsync(svc *chat.Service, id string, sess chat.Session) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		answered, err := svc.Ask(s.ctx, sess)
		if err != nil {
			s.logger.Printf("answer session %s: %v", id, err)
			s.sessions.fail(id, err)
			return
		}
		s.sessions.complete(id, answered)
	}()
}

func (s *Server) service(w http.ResponseWriter) (*chat.Service, bool) {
	svc := s.chat.Load()
	if svc == nil {
		s.writeError(w, http.StatusServiceUnavailable, index.ErrIndexNotFound)
		return nil, false
	}
	return svc, true
}

func statusFor(err error) int {
	var genErr *chat.GenerationError
	var mismatch *index.EmbeddingMismatchError
	switch {
	case errors.Is(err, chat.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, index.ErrIndexNotFound), errors.Is(err, index.ErrIndexCorrupt):
		return http.StatusServiceUnavailable
	case errors.As(err, &genErr):
		return http.StatusBadGateway
	case errors.As(err, &mismatch):
		return http.StatusConflict
	case errors.Is(err, ingestion.ErrNothingToIndex):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Printf("api error (%d): %v", status, err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}
