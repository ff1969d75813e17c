package controller

import (
	"errors"
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"github.com/tellor-io/supplyx/app/query/types"
	"github.com/tellor-io/supplyx/pkg/collector"
	timelinedb "github.com/tellor-io/supplyx/pkg/db/timeline"
	"github.com/tellor-io/supplyx/pkg/rpc"
	"github.com/tellor-io/supplyx/pkg/utils"
)

type User struct {
	Username string `json:"username"`
	Hash     []byte `json:"hash"`
	Role     string `json:"role"`
}

type Controller struct {
	App        *types.App
	AdminToken string
	Users      map[string]User
	JWTSecret  []byte
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	adminToken := utils.Env("ADMIN_TOKEN", "devtoken")
	adminUser := utils.Env("ADMIN_USER", "admin")
	adminUsersJSON := utils.Env("ADMIN_USERS", "")
	adminPass := utils.Env("ADMIN_PASSWORD", "admin")
	jwtSecret := []byte(utils.Env("SESSION_SECRET", "change-me-please"))

	phash, _ := utils.HashOrRead(adminPass)
	users := map[string]User{}
	users[adminUser] = User{Username: adminUser, Hash: phash, Role: "admin"}
	if adminUsersJSON != "" {
		_ = json.Unmarshal([]byte(adminUsersJSON), &users)
	}

	return &Controller{
		App:        app,
		AdminToken: adminToken,
		Users:      users,
		JWTSecret:  jwtSecret,
	}
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Development: Echo back the origin to allow credentials with any origin
		// TODO: Restrict this in production to specific domains
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodDelete+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.Handle("/health", http.HandlerFunc(c.HandleHealth)).Methods(http.MethodGet)

	// Public read API
	r.HandleFunc("/api/unified/timeline", c.HandleTimeline).Methods(http.MethodGet)
	r.HandleFunc("/api/unified/snapshots", c.HandleSnapshots).Methods(http.MethodGet)
	r.HandleFunc("/api/unified/snapshot/{timestamp}", c.HandleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/api/unified/balances/{timestamp}", c.HandleBalances).Methods(http.MethodGet)
	r.HandleFunc("/api/unified/summary", c.HandleSummary).Methods(http.MethodGet)
	r.HandleFunc("/api/unified/incomplete", c.HandleIncomplete).Methods(http.MethodGet)

	// WebSocket endpoint for real-time snapshot events
	r.HandleFunc("/ws", c.HandleWebSocket).Methods(http.MethodGet)

	// Admin API - Login/Logout
	r.HandleFunc("/api/admin/login", c.HandleAdminLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/admin/logout", c.HandleAdminLogout).Methods(http.MethodPost)

	// Admin API - collection triggers
	r.Handle("/api/unified/collect", c.RequireAdmin(http.HandlerFunc(c.HandleCollect))).Methods(http.MethodPost)
	r.Handle("/api/admin/backfill", c.RequireAdmin(http.HandlerFunc(c.HandleBackfill))).Methods(http.MethodPost)
	r.Handle("/api/admin/snapshot/{timestamp}", c.RequireAdmin(http.HandlerFunc(c.HandleRemove))).Methods(http.MethodDelete)
	r.Handle("/api/admin/snapshot/{timestamp}/rerun", c.RequireAdmin(http.HandlerFunc(c.HandleRerun))).Methods(http.MethodPost)
	r.Handle("/api/admin/snapshot/{timestamp}/remove-and-rerun", c.RequireAdmin(http.HandlerFunc(c.HandleRemoveAndRerun))).Methods(http.MethodPost)

	return r, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps well-known errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, timelinedb.ErrNotFound):
		writeError(w, http.StatusNotFound, "snapshot not found")
	case errors.Is(err, collector.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, collector.ErrCollectionFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, rpc.ErrUnavailable):
		writeError(w, http.StatusBadGateway, "upstream chain unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
