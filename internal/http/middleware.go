package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/go_pos/internal/domain"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

const (
	HeaderLocationID = "X-Location-ID"
	HeaderOperatorID = "X-Operator-ID"
)

type sessionKey struct{}

// SessionMiddleware resolves the checkout session from the request headers.
// Missing headers leave zero ids and the services reject the call; a value
// that is not a positive integer is rejected here.
func SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		location, ok := parseID(r.Header.Get(HeaderLocationID))
		if !ok {
			respondError(w, r, http.StatusBadRequest, "invalid_location", "X-Location-ID must be a positive integer")
			return
		}
		operator, ok := parseID(r.Header.Get(HeaderOperatorID))
		if !ok {
			respondError(w, r, http.StatusBadRequest, "invalid_operator", "X-Operator-ID must be a positive integer")
			return
		}

		session := domain.Session{LocationID: location, OperatorID: operator}
		zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Int64("location_id", location).Int64("operator_id", operator)
		})

		ctx := context.WithValue(r.Context(), sessionKey{}, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func parseID(v string) (int64, bool) {
	if v == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func sessionFromContext(ctx context.Context) domain.Session {
	if s, ok := ctx.Value(sessionKey{}).(domain.Session); ok {
		return s
	}
	return domain.Session{}
}

// requestLogger attaches chi's request id to the request-scoped logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("request_id", id)
			})
			w.Header().Set(middleware.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

func accessLog(r *http.Request, status, size int, duration time.Duration) {
	hlog.FromRequest(r).Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("request")
}
