package blobd

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultMaxPayloadBytes caps a single blob.
const DefaultMaxPayloadBytes = 1 << 20

// maxNameLength caps the X-Bin-Name header.
const maxNameLength = 128

// Config holds server settings.
type Config struct {
	// APIKey, when set, is required in X-Master-Key for every request
	// except reads of public blobs by id.
	APIKey string

	MaxPayloadBytes int64

	Logger *log.Logger
}

// Server serves the blob protocol over HTTP.
type Server struct {
	backend Backend
	apiKey  []byte
	maxBody int64
	logger  *log.Logger
	now     func() time.Time
	router  chi.Router
}

// NewServer creates a server storing blobs in backend.
func NewServer(backend Backend, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[blobd] ", log.LstdFlags)
	}
	maxBody := cfg.MaxPayloadBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxPayloadBytes
	}

	s := &Server{
		backend: backend,
		apiKey:  []byte(cfg.APIKey),
		maxBody: maxBody,
		logger:  logger,
		now:     time.Now,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: s.logger, NoColor: true}))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/b", func(r chi.Router) {
		r.With(s.requireKey).Post("/", s.handleCreate)
		r.With(s.requireKey).Get("/latest", s.handleLatest)
		r.Get("/{id}", s.handleGet)
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) authorized(r *http.Request) bool {
	if len(s.apiKey) == 0 {
		return true
	}
	got := []byte(r.Header.Get("X-Master-Key"))
	return subtle.ConstantTimeCompare(got, s.apiKey) == 1
}

func (s *Server) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			writeError(w, http.StatusUnauthorized, "Invalid X-Master-Key provided")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.Header.Get("X-Bin-Name"))
	if len(name) > maxNameLength {
		writeError(w, http.StatusBadRequest, "X-Bin-Name cannot be longer than 128 characters")
		return
	}

	private := true
	if v := r.Header.Get("X-Bin-Private"); v != "" {
		p, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "X-Bin-Private must be true or false")
			return
		}
		private = p
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Payload exceeds the size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "Bin cannot be blank")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "Invalid JSON. Please try again")
		return
	}

	blob := Blob{
		ID:        NewID(),
		Name:      name,
		Private:   private,
		CreatedAt: s.now().UTC(),
		Payload:   json.RawMessage(body),
	}
	if err := s.backend.Create(r.Context(), blob); err != nil {
		s.logger.Printf("Failed to create blob: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to store bin")
		return
	}

	writeJSON(w, http.StatusOK, envelope{Record: blob.Payload, Metadata: blob.Meta()})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	blob, err := s.backend.Latest(r.Context(), r.Header.Get("X-Bin-Name"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	s.writeBlob(w, r, blob)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !ValidID(id) {
		writeError(w, http.StatusNotFound, "Bin not found or it doesn't belong to your account")
		return
	}

	blob, err := s.backend.Get(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	if blob.Private && !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "You need to pass X-Master-Key in the header to read a private bin")
		return
	}
	s.writeBlob(w, r, blob)
}

func (s *Server) writeBlob(w http.ResponseWriter, r *http.Request, blob Blob) {
	if meta, err := strconv.ParseBool(r.Header.Get("X-Bin-Meta")); err == nil && !meta {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(blob.Payload)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Record: blob.Payload, Metadata: blob.Meta()})
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "Bin not found or it doesn't belong to your account")
		return
	}
	s.logger.Printf("Lookup failed: %v", err)
	writeError(w, http.StatusInternalServerError, "Failed to read bin")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"message": msg})
}
