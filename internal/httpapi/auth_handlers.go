package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"fivesteps.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Message   string    `json:"message"`
	ID        int64     `json:"id"`
	Role      auth.Role `json:"permission"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) authRoutes(r chi.Router) {
	r.With(a.RequireLoggedOut, a.loginLimiter).Post("/login", a.login)
	r.With(a.RequireLoggedIn).Post("/logout", a.logout)
	r.With(a.RequireLoggedIn).Get("/me", a.me)
}

func (a *API) loginLimiter(next http.Handler) http.Handler {
	return RateLimit(next, a.loginBurst, a.loginRate, a.proxies...)
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}
	id, err := a.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.audit(r, "auth.login.failed", "user", 0, nil)
		handleError(w, r, err)
		return
	}
	token, expiresAt, err := a.tokens.Issue(id.SubjectID, id.Role, 0)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.setSessionCookie(w, token)
	r = r.WithContext(auth.ContextWithIdentity(r.Context(), id))
	a.audit(r, "auth.login", "user", id.SubjectID, map[string]any{
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, loginResponse{
		Message:   "Login successful!",
		ID:        id.SubjectID,
		Role:      id.Role,
		ExpiresAt: expiresAt.UTC(),
	})
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	clearSessionCookie(w)
	id, _ := auth.IdentityFromContext(r.Context())
	a.audit(r, "auth.logout", "user", id.SubjectID, nil)
	writeMessage(w, http.StatusOK, "Logout successful!")
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		handleError(w, r, auth.ErrNotLoggedIn)
		return
	}
	writeJSON(w, http.StatusOK, id)
}
