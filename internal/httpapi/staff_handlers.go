package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"fivesteps.org/internal/auth"
	"fivesteps.org/internal/community"
)

func (a *API) trusteeRoutes(r chi.Router) {
	r.With(a.RequireLoggedIn, a.Authorize(ruleAdmin, "")).Post("/", a.createTrustee)
	r.Get("/", a.listTrustees)
	r.Route("/{id}", func(r chi.Router) {
		r.Use(a.RequireLoggedIn, a.Authorize(ruleTrusteeSelf, "id"))
		r.Get("/", a.getTrustee)
		r.Put("/", a.updateTrustee)
		r.Delete("/", a.deleteTrustee)
	})
}

func (a *API) adminRoutes(r chi.Router) {
	r.With(a.RequireLoggedIn, a.Authorize(ruleAdmin, "")).Post("/", a.createAdmin)
	r.Get("/", a.listAdmins)
	r.Route("/{id}", func(r chi.Router) {
		r.Use(a.RequireLoggedIn, a.Authorize(ruleAdmin, "id"))
		r.Get("/", a.getAdmin)
		r.Put("/", a.updateAdmin)
		r.Delete("/", a.deleteAdmin)
	})
}

func (a *API) userRoutes(r chi.Router) {
	r.Get("/", a.listUsers)
	r.Get("/{id}", a.getUser)
	r.With(a.RequireLoggedIn, a.Authorize(ruleAnyUserSelf, "id")).Delete("/{id}", a.deleteUser)
}

func (a *API) trustRoutes(r chi.Router) {
	r.With(a.RequireLoggedIn, a.Authorize(ruleAdmin, "")).Post("/", a.createTrust)
	r.Get("/", a.listTrusts)
}

func (a *API) createTrustee(w http.ResponseWriter, r *http.Request) {
	var req community.TrusteeInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}
	t, err := a.svc.CreateTrustee(r.Context(), req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "trustee.create", "trustee", t.ID, map[string]any{"trust_id": t.TrustID})
	w.Header().Set("Location", "/api/trustees/"+strconv.FormatInt(t.ID, 10))
	writeJSON(w, http.StatusCreated, t)
}

func (a *API) listTrustees(w http.ResponseWriter, r *http.Request) {
	trustees, err := a.svc.ListTrustees(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trustees)
}

func (a *API) getTrustee(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		handleError(w, r, err)
		return
	}
	t, err := a.svc.GetTrustee(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) updateTrustee(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		handleError(w, r, err)
		return
	}
	caller, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		handleError(w, r, auth.ErrNotLoggedIn)
		return
	}
	var req community.TrusteeUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}
	t, err := a.svc.UpdateTrustee(r.Context(), caller, id, req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "trustee.update", "trustee", id, map[string]any{"password_changed": req.Password != ""})
	writeJSON(w, http.StatusOK, t)
}

func (a *API) deleteTrustee(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		handleError(w, r, err)
		return
	}
	if err := a.svc.DeleteTrustee(r.Context(), id); err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "trustee.delete", "trustee", id, nil)
	writeMessage(w, http.StatusOK, "Trustee data deleted successfully!")
}

func (a *API) createAdmin(w http.ResponseWriter, r *http.Request) {
	var req community.UserInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}
	adm, err := a.svc.CreateAdmin(r.Context(), req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "admin.create", "admin", adm.ID, nil)
	w.Header().Set("Location", "/api/admins/"+strconv.FormatInt(adm.ID, 10))
	writeJSON(w, http.StatusCreated, adm)
}

func (a *API) listAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := a.svc.ListAdmins(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, admins)
}

func (a *API) getAdmin(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		handleError(w, r, err)
		return
	}
	adm, err := a.svc.GetAdmin(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, adm)
}

func (a *API) updateAdmin(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		handleError(w, r, err)
		return
	}
	var req community.UserUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}
	adm, err := a.svc.UpdateAdmin(r.Context(), id, req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "admin.update", "admin", id, map[string]any{"password_changed": req.Password != ""})
	writeJSON(w, http.StatusOK, adm)
}

func (a *API) deleteAdmin(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		handleError(w, r, err)
		return
	}
	if err := a.svc.DeleteAdmin(r.Context(), id); err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "admin.delete", "admin", id, nil)
	writeMessage(w, http.StatusOK, "Admin data deleted successfully!")
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.svc.ListUsers(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		handleError(w, r, err)
		return
	}
	u, err := a.svc.GetUser(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		handleError(w, r, err)
		return
	}
	if err := a.svc.DeleteUser(r.Context(), id); err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "user.delete", "user", id, nil)
	writeMessage(w, http.StatusOK, "User data deleted successfully!")
}

func (a *API) createTrust(w http.ResponseWriter, r *http.Request) {
	var req community.TrustInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}
	t, err := a.svc.CreateTrust(r.Context(), req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "trust.create", "trust", t.ID, map[string]any{"name": t.Name})
	writeJSON(w, http.StatusCreated, t)
}

func (a *API) listTrusts(w http.ResponseWriter, r *http.Request) {
	trusts, err := a.svc.ListTrusts(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trusts)
}
