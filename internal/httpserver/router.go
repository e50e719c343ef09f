package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"chatsync/internal/config"
	"chatsync/internal/domain"
	"chatsync/internal/metrics"
	"chatsync/internal/security"
	"chatsync/internal/service"
	"chatsync/internal/ws"
)

// Deps carries the wired services the router exposes. Store selection
// happens in main; the router never touches a database handle.
type Deps struct {
	Cfg     *config.Config
	Tokens  *security.Tokens
	Users   domain.UserRepository
	AuthSvc *service.AuthService
	UserSvc *service.UserService
	RoomSvc *service.RoomService
	MsgSvc  *service.MessageService
	Gateway *ws.Gateway
	WS      http.HandlerFunc
}

// NewRouter constructs the main HTTP router and wires routes and middleware.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", handleRegister(d.AuthSvc))
			r.Post("/login", handleLogin(d.AuthSvc))
		})

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(d.Tokens, d.Users))

			r.Get("/auth/me", handleMe())

			r.Route("/users", func(r chi.Router) {
				r.Get("/", handleListUsers(d.UserSvc))
				r.Get("/{userID}", handleGetUser(d.UserSvc))
				r.Patch("/me", handleUpdateProfile(d.UserSvc))
			})

			r.Route("/rooms", func(r chi.Router) {
				r.Post("/", handleCreateRoom(d.RoomSvc))
				r.Get("/", handleListRooms(d.RoomSvc))
				r.Get("/{roomID}", handleGetRoom(d.RoomSvc))
				r.Post("/{roomID}/read", handleMarkRead(d.MsgSvc, d.Gateway))
				r.Get("/{roomID}/messages", handleListMessages(d.MsgSvc, d.Cfg.PageSize))
				r.Post("/{roomID}/messages", handleCreateMessage(d.MsgSvc, d.Gateway))
			})

			r.Delete("/messages/{messageID}", handleDeleteMessage(d.MsgSvc, d.Gateway))
		})
	})

	r.Get("/ws", d.WS)

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeErr maps domain sentinels to HTTP status codes.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
