package router

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-planner/internal/activity"
	"github.com/ovaphlow/pitchfork/service-planner/internal/admin"
	"github.com/ovaphlow/pitchfork/service-planner/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-planner/internal/observability"
	"github.com/ovaphlow/pitchfork/service-planner/internal/session"
	"github.com/ovaphlow/pitchfork/service-planner/internal/tenant"
	"github.com/ovaphlow/pitchfork/service-planner/internal/user"
	"github.com/ovaphlow/pitchfork/service-planner/pkg/utilities"
)

const requestIDHeader = "X-Request-ID"

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware logs every request at debug level, tags it with a request
// id and records its latency by route pattern.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get(requestIDHeader)
			if reqID == "" {
				reqID = utilities.NewRequestID()
			}
			w.Header().Set(requestIDHeader, reqID)

			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			// the mux fills in Pattern on the request it was handed
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			observability.RecordHTTPRequest(r.Method, route, status, dur)
			logger.Debugw("http request",
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"route", route,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware returns a middleware that sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer-when-downgrade")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'self'; object-src 'none'; base-uri 'self';")
			}
			// HSTS only over TLS
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Pinger reports database reachability for the health check.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// StatusReporter summarises the installed row guards.
type StatusReporter interface {
	Status(ctx context.Context) (*tenant.Status, error)
}

// Deps are the collaborators mounted by RegisterRoutes.
type Deps struct {
	Logger     *zap.SugaredLogger
	DB         Pinger
	Sessions   *session.Service
	Identities session.IdentityLookup
	// Recorder persists the acting context per request; nil disables it.
	Recorder   tenant.Recorder
	Guards     StatusReporter
	Users      *user.Handler
	Activities *activity.Handler
	Admin      *admin.Handler
}

// ResolveTenant binds the authenticated principal to a fresh session tag.
func ResolveTenant(r *http.Request) (tenant.Context, bool) {
	p, ok := session.PrincipalFrom(r.Context())
	if !ok {
		return tenant.Context{}, false
	}
	return tenant.Context{
		UserID:     p.UserID,
		SessionTag: utilities.NewSessionTag(p.UserID),
		IsAdmin:    p.IsAdmin,
	}, true
}

// RegisterRoutes mounts HTTP handlers using the standard library's http.ServeMux.
func RegisterRoutes(d Deps) http.Handler {
	logger := d.Logger
	mux := http.NewServeMux()

	authn := session.Middleware(d.Sessions, d.Identities, logger)
	bind := tenant.Middleware(d.Recorder, ResolveTenant, logger)
	requireAdmin := session.RequireAdmin(logger)

	// authenticated only, no tenant binding
	signedIn := func(h http.HandlerFunc) http.Handler { return authn(h) }
	// authenticated and bound to the acting user
	tenantOf := func(h http.HandlerFunc) http.Handler { return authn(bind(h)) }
	adminOf := func(h http.HandlerFunc) http.Handler { return authn(requireAdmin(bind(h))) }

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if d.DB != nil {
			if err := d.DB.PingContext(ctx); err != nil {
				logger.Warnw("health check failed", "err", err)
				utilities.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		utilities.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", observability.Handler())

	// auth
	mux.HandleFunc("POST /api/auth/register", d.Users.Register)
	mux.HandleFunc("POST /api/auth/login", d.Users.Login)
	mux.HandleFunc("POST /api/auth/verify", d.Users.Verify)
	mux.Handle("GET /api/auth/me", signedIn(d.Users.Me))
	mux.Handle("POST /api/auth/logout", signedIn(d.Users.Logout))
	mux.Handle("PUT /api/auth/change-password", tenantOf(d.Users.ChangePassword))

	// activities
	mux.Handle("GET /api/activities", tenantOf(d.Activities.List))
	mux.Handle("POST /api/activities", tenantOf(d.Activities.Create))
	mux.Handle("GET /api/activities/stats", tenantOf(d.Activities.Stats))
	mux.Handle("GET /api/activities/categories", tenantOf(d.Activities.Categories))
	mux.Handle("GET /api/activities/date/{date}", tenantOf(d.Activities.ByDate))
	mux.Handle("GET /api/activities/status/{status}", tenantOf(d.Activities.ByStatus))
	mux.Handle("GET /api/activities/{id}", tenantOf(d.Activities.Get))
	mux.Handle("PUT /api/activities/{id}", tenantOf(d.Activities.Update))
	mux.Handle("DELETE /api/activities/{id}", tenantOf(d.Activities.Delete))
	mux.Handle("PATCH /api/activities/{id}/status", tenantOf(d.Activities.UpdateStatus))

	mux.Handle("GET /api/rls/stats", tenantOf(func(w http.ResponseWriter, r *http.Request) {
		st, err := d.Guards.Status(r.Context())
		if err != nil {
			apperr.Write(w, logger, err)
			return
		}
		utilities.WriteJSON(w, http.StatusOK, st)
	}))

	// admin
	mux.Handle("GET /api/admin/users", adminOf(d.Admin.ListUsers))
	mux.Handle("POST /api/admin/users", adminOf(d.Admin.CreateUser))
	mux.Handle("GET /api/admin/users/{id}", adminOf(d.Admin.GetUser))
	mux.Handle("PUT /api/admin/users/{id}", adminOf(d.Admin.UpdateUser))
	mux.Handle("DELETE /api/admin/users/{id}", adminOf(d.Admin.DeleteUser))
	mux.Handle("GET /api/admin/users/{id}/activities", adminOf(d.Admin.UserActivities))
	mux.Handle("GET /api/admin/stats", adminOf(d.Admin.Stats))
	mux.Handle("GET /api/admin/dashboard", adminOf(d.Admin.Dashboard))

	return LoggingMiddleware(logger)(SecurityHeadersMiddleware()(mux))
}
