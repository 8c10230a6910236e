package handlers

import (
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/csrf"

	"timesheet/i18n"
	"timesheet/logger"
)

const requestIDHeader = "X-Request-ID"

func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "SAMEORIGIN")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy",
			"default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; form-action 'self'; frame-ancestors 'self'")

		// Pages carry per-user data and flash messages.
		if !strings.HasPrefix(r.URL.Path, "/captcha/") {
			h.Set("Cache-Control", "no-store")
		}
		next.ServeHTTP(w, r)
	})
}

// requestIDMiddleware keeps a sane incoming X-Request-ID or mints one, and
// puts it in the context for the logger.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.log.WithFields(r.Context(), logger.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
				}).Criticalf("panic: %v\n%s", p, debug.Stack())
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// throttleMiddleware applies the per-IP token bucket to state-changing
// requests only.
func (s *Server) throttleMiddleware(next http.Handler) http.Handler {
	if s.throttle == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && !s.throttle.Allow(getClientIP(r)) {
			lang := i18n.DetectLanguage(r)
			w.Header().Set("Retry-After", "1")
			if strings.HasPrefix(r.URL.Path, "/api/") {
				sendJSONResponse(w, http.StatusTooManyRequests, APIResponse{Status: "error", Message: i18n.T(lang, "TooManyRequests")})
				return
			}
			http.Error(w, i18n.T(lang, "TooManyRequests"), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// plaintextHTTP tells gorilla/csrf the request arrived over plain HTTP so
// it skips the strict Referer check meant for TLS deployments.
func plaintextHTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, csrf.PlaintextHTTPRequest(r))
	})
}

func (s *Server) csrfFailure(w http.ResponseWriter, r *http.Request) {
	s.log.WithFields(r.Context(), logger.Fields{
		"path":   r.URL.Path,
		"reason": csrf.FailureReason(r),
	}).Warn("csrf check failed")
	http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
}
