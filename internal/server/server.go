package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"numbergame/internal/game"
)

const shutdownTimeout = 10 * time.Second

// Server wraps HTTP handlers and configuration.
type Server struct {
	cfg             Config
	logger          *slog.Logger
	mux             *http.ServeMux
	allowedOrigins  []string
	allowAllOrigins bool

	registry *game.Registry
	auth     Authenticator
	monitor  *ConnectivityMonitor
	upgrader websocket.Upgrader

	accounts AccountStore
	tokens   TokenIssuer
	hasher   *PasswordHasher

	// Filled from the route table so CORS and CSP follow the mounted API.
	apiSections map[string]bool
	corsMethods string
}

// Deps are the collaborators a Server routes requests to. Account routes
// are mounted only when Accounts is set; Tokens defaults to Auth when it
// can sign.
type Deps struct {
	Registry *game.Registry
	Auth     Authenticator
	Monitor  *ConnectivityMonitor
	Logger   *slog.Logger

	Accounts AccountStore
	Tokens   TokenIssuer
	Hasher   *PasswordHasher
}

// New constructs a Server with routes and middleware configured.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if deps.Auth == nil {
		return nil, errors.New("authenticator is required")
	}
	tokens := deps.Tokens
	if tokens == nil {
		tokens, _ = deps.Auth.(TokenIssuer)
	}
	if deps.Accounts != nil && tokens == nil {
		return nil, errors.New("account routes need a token issuer")
	}
	hasher := deps.Hasher
	if hasher == nil {
		hasher = NewPasswordHasher(nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))
	}
	monitor := deps.Monitor
	if monitor == nil {
		monitor = NewConnectivityMonitor(cfg.HeartbeatInterval, cfg.HeartbeatMisses, logger)
	}
	if cfg.MessageRate <= 0 {
		cfg.MessageRate = 20
	}
	if cfg.MessageBurst < 1 {
		cfg.MessageBurst = 40
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 7 * 24 * time.Hour
	}

	srv := &Server{
		cfg:            cfg,
		logger:         logger.With("component", "http"),
		mux:            http.NewServeMux(),
		allowedOrigins: parseAllowedOrigins(cfg.AllowedOrigins),
		registry:       deps.Registry,
		auth:           deps.Auth,
		monitor:        monitor,
		accounts:       deps.Accounts,
		tokens:         tokens,
		hasher:         hasher,
	}
	for _, origin := range srv.allowedOrigins {
		if origin == "*" {
			srv.allowAllOrigins = true
		}
	}
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || srv.matchOrigin(origin) != ""
		},
	}

	srv.routes()
	return srv, nil
}

// Router returns the fully wrapped handler.
func (s *Server) Router() http.Handler {
	return s.withCORS(s.loggingMiddleware(s.mux))
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", slog.String("addr", addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

type route struct {
	method  string
	path    string
	handler http.Handler
}

func (s *Server) apiRoutes() []route {
	authed := func(h http.HandlerFunc) http.Handler { return s.requireAuth(h) }
	admin := func(h http.HandlerFunc) http.Handler { return s.requireAdmin(h) }

	table := []route{
		{http.MethodGet, "/healthz", http.HandlerFunc(s.handleHealth)},
		{http.MethodGet, "/ws", http.HandlerFunc(s.handleWebsocket)},
		{http.MethodGet, "/api/rooms", authed(s.handleListRooms)},
		{http.MethodGet, "/admin/rooms", admin(s.handleAdminRooms)},
		{http.MethodDelete, "/admin/rooms/{code}", admin(s.handleAdminCloseRoom)},
	}
	if s.accounts != nil {
		table = append(table,
			route{http.MethodPost, "/api/register", http.HandlerFunc(s.handleRegister)},
			route{http.MethodPost, "/api/login", http.HandlerFunc(s.handleLogin)},
			route{http.MethodPost, "/api/logout", http.HandlerFunc(s.handleLogout)},
			route{http.MethodGet, "/api/me", authed(s.handleMe)},
			route{http.MethodPatch, "/api/me", authed(s.handleUpdateMe)},
			route{http.MethodGet, "/api/history", authed(s.handleHistory)},
		)
	}
	return table
}

func (s *Server) routes() {
	s.apiSections = make(map[string]bool)
	methods := map[string]bool{http.MethodOptions: true}
	for _, rt := range s.apiRoutes() {
		s.mux.Handle(rt.method+" "+rt.path, rt.handler)
		s.apiSections[pathSection(rt.path)] = true
		methods[rt.method] = true
	}
	s.corsMethods = strings.Join(slices.Sorted(maps.Keys(methods)), ",")
	s.mux.Handle("/", s.staticHandler())
}

// pathSection returns the first segment of p, e.g. "/api" for "/api/rooms".
func pathSection(p string) string {
	if i := strings.IndexByte(p[1:], '/'); i >= 0 {
		return p[:i+1]
	}
	return p
}

// staticHandler serves PUBLIC_DIR and falls back to index.html for unknown
// paths so client-side routes load.
func (s *Server) staticHandler() http.Handler {
	fs := http.Dir(s.cfg.PublicDir)
	fileServer := http.FileServer(fs)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		urlPath := r.URL.Path
		if urlPath == "/" {
			fileServer.ServeHTTP(w, r)
			return
		}

		cleanPath := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
		requested := filepath.Join(s.cfg.PublicDir, cleanPath)
		if info, err := os.Stat(requested); err == nil && !info.IsDir() {
			fileServer.ServeHTTP(w, r)
			return
		}

		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"rooms":       s.registry.Len(),
		"connections": s.monitor.Len(),
	})
}

type roomsResponse struct {
	Rooms []game.RoomSummary `json:"rooms"`
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	if id, ok := identityFromContext(r.Context()); ok {
		s.logger.Debug("lobby listing", "user", id.ID)
	}
	writeJSON(w, http.StatusOK, roomsResponse{Rooms: s.registry.Summaries()})
}

func (s *Server) handleAdminRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, roomsResponse{Rooms: s.registry.Summaries()})
}

func (s *Server) handleAdminCloseRoom(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if err := s.registry.ForceClose(code); err != nil {
		if errors.Is(err, game.ErrRoomNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("force close", "room", code, "error", err)
		writeError(w, http.StatusInternalServerError, game.ErrInternal.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
