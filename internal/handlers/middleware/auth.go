package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/masjidku/masjidauth/internal/handlers/render"
	"github.com/masjidku/masjidauth/internal/handlers/userctx"
	"github.com/masjidku/masjidauth/internal/models"
)

const bearerScheme = "Bearer"

type authService interface {
	Authenticate(ctx context.Context, accessToken string) (models.Identity, error)
}

// AuthMiddleware verifies the Authorization bearer token and puts the
// authenticated identity into the request context
func AuthMiddleware(as authService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			access, ok := bearerToken(r)
			if !ok {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			identity, err := as.Authenticate(r.Context(), access)
			if err != nil {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := userctx.New(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || scheme != bearerScheme || token == "" {
		return "", false
	}
	return token, true
}
