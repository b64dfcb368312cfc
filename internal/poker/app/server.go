package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/planningdeck/planningdeck/internal/platform/timeouts"
	"github.com/planningdeck/planningdeck/internal/poker/engine"
	"github.com/planningdeck/planningdeck/internal/poker/publish"
	"github.com/planningdeck/planningdeck/internal/poker/storage/sqlite"
)

const (
	// closeSessionEnded tells every peer the backlog is exhausted and the
	// session is over.
	closeSessionEnded = 4000
	// closeSessionNotFound rejects a connection to a session id the store
	// does not know.
	closeSessionNotFound = 4001
)

// Config defines the inputs for the estimation service process.
type Config struct {
	HTTPAddr          string
	DatabasePath      string
	TokenSecret       string
	GitHubToken       string
	GitHubAPIBaseURL  string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the poker HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	store           *sqlite.Store
}

type wsIdentityContextKey struct{}
type wsSessionIDContextKey struct{}

// NewHandler creates poker routes for tests and offline paths. Identity comes
// from plain query parameters; websocket auth is intentionally disabled.
func NewHandler(eng *engine.Engine) http.Handler {
	return newHandler(eng, nil)
}

// NewHandlerWithAuthorizer creates poker routes with enforced websocket
// identity checks.
func NewHandlerWithAuthorizer(eng *engine.Engine, authorizer Authorizer) http.Handler {
	return newHandler(eng, authorizer)
}

func newHandler(eng *engine.Engine, authorizer Authorizer) http.Handler {
	hub := newRoomHub()
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, hub, eng)
	})

	mux.HandleFunc("/ws/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		sessionID := strings.TrimPrefix(r.URL.Path, "/ws/")
		if sessionID == "" || strings.Contains(sessionID, "/") {
			http.NotFound(w, r)
			return
		}

		var identity Identity
		if authorizer != nil {
			accessToken := accessTokenFromRequest(r)
			if accessToken == "" {
				log.Printf("poker: websocket unauthorized: missing pd_token for remote=%s path=%q", r.RemoteAddr, r.URL.Path)
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			resolved, err := authorizer.Authenticate(r.Context(), accessToken)
			if err != nil {
				log.Printf("poker: websocket unauthorized: remote=%s path=%q err=%v", r.RemoteAddr, r.URL.Path, err)
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			identity = resolved
		} else {
			identity = devIdentityFromRequest(r)
		}

		ctx := context.WithValue(r.Context(), wsIdentityContextKey{}, identity)
		ctx = context.WithValue(ctx, wsSessionIDContextKey{}, sessionID)
		wsHandler.ServeHTTP(w, r.WithContext(ctx))
	})

	return mux
}

// NewServer builds a configured poker server backed by the SQLite store.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	databasePath := strings.TrimSpace(config.DatabasePath)
	if databasePath == "" {
		return nil, errors.New("database path is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	store, err := sqlite.Open(databasePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var publisher publish.Publisher
	if token := strings.TrimSpace(config.GitHubToken); token != "" {
		publisher = publish.NewGitHub(token, config.GitHubAPIBaseURL)
	}
	eng := engine.New(store, publisher)

	var handler http.Handler
	if secret := strings.TrimSpace(config.TokenSecret); secret != "" {
		handler = NewHandlerWithAuthorizer(eng, NewJWTAuthorizer([]byte(secret)))
	} else {
		log.Printf("poker: token secret not set, websocket auth disabled")
		handler = NewHandler(eng)
	}

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		store:           store,
	}, nil
}

// Run creates and serves a poker server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init poker server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve poker: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("poker server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("poker server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close store: %v", err)
		}
	}
}
