package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"fivesteps.org/internal/auth"
	"fivesteps.org/internal/community"
)

func (a *API) masjidRoutes(r chi.Router) {
	r.Get("/search", a.searchMasjids)
	r.With(a.RequireLoggedIn, a.Authorize(ruleAdmin, "")).Post("/", a.createMasjid)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", a.getMasjid)
		r.Get("/timetable", a.getTimetable)
		r.With(a.RequireLoggedIn, a.Authorize(ruleTrustee, "")).Put("/timetable/{date}", a.putTimetable)
		r.Get("/stats/{date}", a.masjidStats)
	})
}

func (a *API) searchMasjids(w http.ResponseWriter, r *http.Request) {
	hits, err := a.svc.SearchMasjids(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

func (a *API) createMasjid(w http.ResponseWriter, r *http.Request) {
	var req community.MasjidInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}
	m, err := a.svc.CreateMasjid(r.Context(), req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "masjid.create", "masjid", m.ID, map[string]any{
		"trust_id":  m.TrustID,
		"geocoded":  m.Latitude != nil,
		"postcode":  m.Postcode,
		"full_name": m.FullName,
	})
	w.Header().Set("Location", "/api/masjids/"+strconv.FormatInt(m.ID, 10))
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) getMasjid(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		handleError(w, r, err)
		return
	}
	m, err := a.svc.GetMasjid(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) getTimetable(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		handleError(w, r, err)
		return
	}
	entries, err := a.svc.Timetable(r.Context(), id, r.URL.Query().Get("date"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) putTimetable(w http.ResponseWriter, r *http.Request) {
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
	var req community.TimetableInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}
	date := chi.URLParam(r, "date")
	if err := a.svc.SetTimetable(r.Context(), caller, id, date, req); err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "masjid.timetable.replace", "masjid", id, map[string]any{
		"date":    date,
		"entries": len(req.Entries),
	})
	writeMessage(w, http.StatusOK, "Timetable updated successfully!")
}

func (a *API) masjidStats(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		handleError(w, r, err)
		return
	}
	sums, err := a.svc.MasjidStats(r.Context(), id, chi.URLParam(r, "date"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sums)
}
