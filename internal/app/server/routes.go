package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"gatekeeper/internal/auth"
	"gatekeeper/internal/dashboard"
	"gatekeeper/internal/domain"
	"gatekeeper/internal/jobs/analysis"
	"gatekeeper/internal/metrics"
	"gatekeeper/internal/security"

	"github.com/charmbracelet/log"
)

const shutdownTimeout = 10 * time.Second

// Store is the persistence the routes need.
type Store interface {
	analysis.Store
	auth.UserStore
	ListBlacklistEntries(ctx context.Context) ([]domain.BlacklistedIP, error)
	UpsertBlacklistEntry(ctx context.Context, entry *domain.BlacklistedIP) error
	DeleteBlacklistEntry(ctx context.Context, ip string) (bool, error)
	ListSuspiciousIPs(ctx context.Context) ([]domain.SuspiciousIP, error)
	Ping(ctx context.Context) error
}

// Dependencies wires the routes to the running services.
type Dependencies struct {
	Store     Store
	Dashboard *dashboard.Aggregator
	Pipeline  *security.Pipeline
	Operator  auth.Operator
	// Instances reports the number of live instances; nil leaves it out of /healthz.
	Instances func(ctx context.Context) (int, error)
}

type api struct {
	Dependencies
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter builds the HTTP handler. Every route, including health and
// metrics, passes through the security pipeline.
func NewRouter(deps Dependencies) http.Handler {
	a := &api{Dependencies: deps}

	router := http.NewServeMux()
	router.HandleFunc("POST /api/auth/login", a.login)

	router.Handle("GET /api/security/dashboard", auth.IsAdmin(http.HandlerFunc(a.getDashboard)))
	router.Handle("GET /api/security/blacklist", auth.IsAdmin(http.HandlerFunc(a.listBlacklist)))
	router.Handle("POST /api/security/blacklist", auth.IsAdmin(http.HandlerFunc(a.upsertBlacklist)))
	router.Handle("DELETE /api/security/blacklist/{ip}", auth.IsAdmin(http.HandlerFunc(a.deleteBlacklist)))
	router.Handle("GET /api/security/suspicious", auth.IsAdmin(http.HandlerFunc(a.listSuspicious)))
	router.Handle("POST /api/security/analyze", auth.IsAdmin(http.HandlerFunc(a.runAnalysis)))
	router.Handle("GET /api/security/settings", auth.IsAdmin(http.HandlerFunc(a.getSettings)))
	router.Handle("POST /api/security/settings", auth.IsAdmin(http.HandlerFunc(a.saveSettings)))

	router.HandleFunc("GET /api/version", getVersion)
	router.HandleFunc("GET /healthz", a.healthz)
	router.Handle("GET /metrics", metrics.Handler())

	handler := enableCORS(router)
	if deps.Pipeline != nil {
		handler = deps.Pipeline.Middleware(handler)
	}
	return handler
}

// OpenRoutes serves handler on port until ctx is cancelled, then shuts down
// gracefully.
func OpenRoutes(ctx context.Context, port int, handler http.Handler) error {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return fmt.Errorf("api server listen: %w", err)
	}
	return Serve(ctx, listener, handler)
}

func Serve(ctx context.Context, listener net.Listener, handler http.Handler) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting gatekeeper backend", "addr", listener.Addr().String())
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	log.Info("API server stopped")
	return nil
}
