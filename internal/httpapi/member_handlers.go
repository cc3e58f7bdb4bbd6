package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"fivesteps.org/internal/community"
)

func (a *API) memberRoutes(r chi.Router) {
	r.Post("/", a.createMember)
	r.Get("/", a.listMembers)
	r.Route("/{id}", func(r chi.Router) {
		r.Use(a.RequireLoggedIn, a.Authorize(ruleMemberSelf, "id"))
		r.Get("/", a.getMember)
		r.Put("/", a.updateMember)
		r.Delete("/", a.deleteMember)
		r.Get("/stats/{date}", a.dailyStats)
		r.Get("/stats/{date}/{prayer}", a.prayerStat)
		r.Put("/stats/{date}/{prayer}", a.logPrayer)
	})
}

func (a *API) createMember(w http.ResponseWriter, r *http.Request) {
	var req community.MemberInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}
	m, err := a.svc.RegisterMember(r.Context(), req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "member.create", "member", m.ID, map[string]any{"masjid_id": m.MasjidID})
	w.Header().Set("Location", "/api/members/"+strconv.FormatInt(m.ID, 10))
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) listMembers(w http.ResponseWriter, r *http.Request) {
	members, err := a.svc.ListMembers(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (a *API) getMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		handleError(w, r, err)
		return
	}
	m, err := a.svc.GetMember(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) updateMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		handleError(w, r, err)
		return
	}
	var req community.MemberUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}
	m, err := a.svc.UpdateMember(r.Context(), id, req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "member.update", "member", id, map[string]any{"password_changed": req.Password != ""})
	writeJSON(w, http.StatusOK, m)
}

func (a *API) deleteMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		handleError(w, r, err)
		return
	}
	if err := a.svc.DeleteMember(r.Context(), id); err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "member.delete", "member", id, nil)
	writeMessage(w, http.StatusOK, "Member data deleted successfully!")
}

func (a *API) dailyStats(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		handleError(w, r, err)
		return
	}
	stats, err := a.svc.DailyStats(r.Context(), id, chi.URLParam(r, "date"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) prayerStat(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		handleError(w, r, err)
		return
	}
	stat, err := a.svc.PrayerStat(r.Context(), id, chi.URLParam(r, "date"), chi.URLParam(r, "prayer"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stat)
}

func (a *API) logPrayer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		handleError(w, r, err)
		return
	}
	var req community.PrayerLog
	if err := decodeJSON(w, r, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}
	date := chi.URLParam(r, "date")
	stat, err := a.svc.LogPrayer(r.Context(), id, date, chi.URLParam(r, "prayer"), req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "member.prayer.log", "member", id, map[string]any{
		"date":     date,
		"prayer":   string(stat.Prayer),
		"attended": stat.Attended,
		"steps":    stat.Steps,
	})
	writeJSON(w, http.StatusCreated, stat)
}
