package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"fivesteps.org/internal/audit"
	"fivesteps.org/internal/auth"
	"fivesteps.org/internal/obs"
)

const tokenCookie = "token"

// Access rules used by the routes.
var (
	ruleMemberSelf  = auth.Rule{Roles: []auth.Role{auth.RoleMember}, Ownership: auth.SelfTarget}
	ruleTrusteeSelf = auth.Rule{Roles: []auth.Role{auth.RoleTrustee}, Ownership: auth.SelfTarget}
	ruleAdmin       = auth.Rule{Roles: []auth.Role{auth.RoleAdmin}}
	ruleAnyUserSelf = auth.Rule{Roles: auth.Roles, Ownership: auth.SelfTarget}
	ruleTrustee     = auth.Rule{Roles: []auth.Role{auth.RoleTrustee}, Ownership: auth.AnyTarget}
)

func tokenFromRequest(r *http.Request) string {
	c, err := r.Cookie(tokenCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

// RequireLoggedIn verifies the session cookie and attaches the identity.
func (a *API) RequireLoggedIn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := auth.Authenticate(a.tokens, tokenFromRequest(r))
		if err != nil {
			handleError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), id)))
	})
}

// RequireLoggedOut rejects requests that carry any session cookie.
func (a *API) RequireLoggedOut(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := auth.EnsureLoggedOut(tokenFromRequest(r)); err != nil {
			handleError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Authorize evaluates rule against the identity in context and the URL
// parameter named param. An empty param means the route has no target.
func (a *API) Authorize(rule auth.Rule, param string) func(http.Handler) http.Handler {
	name := rule.Name()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var idp *auth.Identity
			if id, ok := auth.IdentityFromContext(r.Context()); ok {
				idp = &id
			}
			target := auth.Target{}
			if param != "" {
				target.ID = chi.URLParam(r, param)
			}
			if err := auth.Check(idp, rule, target); err != nil {
				obs.ObserveAuthDecision(name, "deny")
				ev := obs.Logger().Warn().
					Str("request_id", audit.RequestIDFromContext(r.Context())).
					Str("rule", name).
					Str("target", target.ID).
					Str("path", r.URL.Path).
					Err(err)
				if idp != nil {
					ev = ev.Int64("subject_id", idp.SubjectID).Str("role", idp.Role.String())
				}
				ev.Msg("access denied")
				handleError(w, r, err)
				return
			}
			obs.ObserveAuthDecision(name, "allow")
			next.ServeHTTP(w, r)
		})
	}
}

func (a *API) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(a.tokens.TTL().Seconds()),
		HttpOnly: true,
		Secure:   false,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
