package tenant

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-planner/internal/apperr"
)

// Recorder persists the acting context for the duration of a request.
type Recorder interface {
	Set(ctx context.Context, userID int64, sessionTag string) (Context, error)
	Release(ctx context.Context, sessionTag string) error
}

// Resolver derives the acting context from an authenticated request.
type Resolver func(r *http.Request) (Context, bool)

// Middleware binds the acting user to the request. When rec is non-nil the
// context is also recorded and released once the handler returns; a failed
// record stops the request.
func Middleware(rec Recorder, resolve Resolver, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc, ok := resolve(r)
			if !ok || !tc.Valid() {
				apperr.Write(w, logger, apperr.Unauthenticated("authentication required"))
				return
			}
			if rec != nil {
				stored, err := rec.Set(r.Context(), tc.UserID, tc.SessionTag)
				if err != nil {
					apperr.Write(w, logger, err)
					return
				}
				tc.SessionTag = stored.SessionTag
				defer func() {
					if err := rec.Release(context.WithoutCancel(r.Context()), tc.SessionTag); err != nil {
						logger.Warnw("release tenant context", "user_id", tc.UserID, "err", err)
					}
				}()
			}
			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
		})
	}
}
