package http

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/backend"
)

const (
	// SessionCookie — cookie с идентификатором сессии оформления.
	SessionCookie = "checkout_session"
	// SessionHeader позволяет передать сессию без cookie (мобильные клиенты, тесты).
	SessionHeader = "X-Checkout-Session"
	// OperatorHeader несёт токен оператора для API сверок.
	OperatorHeader = "X-Operator-Token"

	sessionMaxAge = 7 * 24 * time.Hour
)

type sessionKey struct{}

// SessionFromContext возвращает идентификатор сессии, выставленный SessionMiddleware.
func SessionFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// SessionMiddleware определяет сессию по заголовку или cookie и выдаёт новую, если её нет.
func SessionMiddleware(secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := strings.TrimSpace(r.Header.Get(SessionHeader))
			if sessionID == "" {
				if c, err := r.Cookie(SessionCookie); err == nil {
					sessionID = strings.TrimSpace(c.Value)
				}
			}
			if sessionID == "" {
				sessionID = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     SessionCookie,
					Value:    sessionID,
					Path:     "/",
					MaxAge:   int(sessionMaxAge.Seconds()),
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			ctx := context.WithValue(r.Context(), sessionKey{}, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AuthMiddleware передаёт токен пользователя в вызовы сервисов заказов и корзины.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := r.Header.Get("Authorization"); token != "" {
			r = r.WithContext(backend.WithAuthToken(r.Context(), token))
		}
		next.ServeHTTP(w, r)
	})
}

// OperatorAuth пропускает к API сверок только запросы с токеном оператора.
// Пустой token закрывает маршруты целиком.
func OperatorAuth(token string) func(http.Handler) http.Handler {
	expected := []byte(strings.TrimSpace(token))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(strings.TrimSpace(r.Header.Get(OperatorHeader)))
			if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
				respondError(w, http.StatusUnauthorized, "unauthorized", "operator token required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger пишет access-лог через logrus.
func RequestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.WithFields(log.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start),
				"request_id": middleware.GetReqID(r.Context()),
			}).Info("http request")
		})
	}
}
