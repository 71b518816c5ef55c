package privileges

import (
	"log/slog"
	"net/http"

	"github.com/formworks-app/formworks/internal/authz"
	"github.com/formworks-app/formworks/internal/platform/httpx"
	"github.com/formworks-app/formworks/internal/shared"
)

// Middleware attaches the session user's compiled ability to the request
// context, building it once per request.
type Middleware struct {
	Resolver *Resolver
	Logger   *slog.Logger
}

// WithAbility resolves the current user's rules and stores the ability in
// context. Unauthenticated requests are rejected; rule-store failures are a
// server error rather than a silent deny, so operators can tell the two
// apart.
func (m Middleware) WithAbility(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		if sess == nil || sess.User() == "" {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
			return
		}
		ability, err := m.Resolver.Ability(r.Context(), sess.User())
		if err != nil {
			if m.Logger != nil {
				m.Logger.Error("resolve ability", slog.String("user_id", sess.User()), slog.Any("error", err))
			}
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
		next.ServeHTTP(w, r.WithContext(authz.ContextWithAbility(r.Context(), ability)))
	})
}
