package handlers

import (
	"net/http"

	"github.com/masjidku/masjidauth/internal/handlers/middleware"
	"github.com/masjidku/masjidauth/internal/logger"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(authService AuthService, logger logger.Logger) http.Handler {
	h := NewAuth(authService)

	authMiddleware := middleware.AuthMiddleware(authService)
	withAuth := func(next http.Handler) http.Handler {
		return authMiddleware(next)
	}

	apiauth := http.NewServeMux()
	apiauth.Handle("POST /login", http.HandlerFunc(h.login))
	apiauth.Handle("POST /refresh", http.HandlerFunc(h.refresh))
	apiauth.Handle("POST /revoke-token", http.HandlerFunc(h.revokeToken))
	apiauth.Handle("POST /logout", withAuth(http.HandlerFunc(h.logout)))
	apiauth.Handle("GET /me", withAuth(http.HandlerFunc(h.me)))

	root := http.NewServeMux()
	root.Handle("/api/auth/", http.StripPrefix("/api/auth", apiauth))

	return chain(root,
		middleware.LoggerMiddleware(logger),
	)
}
