package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"fivesteps.org/internal/audit"
	"fivesteps.org/internal/auth"
	"fivesteps.org/internal/community"
	"fivesteps.org/internal/obs"
)

const maxBodyBytes = 1 << 20

var errInvalidID = errors.New("id must be a positive integer")

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// writeBodyError reports a decodeJSON failure. Oversized bodies are 413.
func writeBodyError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return
	}
	writeError(w, r, http.StatusBadRequest, err.Error())
}

// pathID parses a positive integer URL parameter.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, name)), 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidID
	}
	return id, nil
}

// handleError maps domain and gate errors to status codes. Unknown errors
// are logged and surface as a bare 500.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrNotLoggedIn):
		writeError(w, r, http.StatusUnauthorized, "Not logged in.")
	case errors.Is(err, auth.ErrMustLogout):
		writeError(w, r, http.StatusUnauthorized, "Need to logout.")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "Email or password was incorrect. Try again.")
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusForbidden, "Invalid or expired token.")
	case errors.Is(err, auth.ErrAccessDenied):
		writeError(w, r, http.StatusForbidden, "Access denied.")
	case errors.Is(err, community.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, community.ErrInvalidInput), errors.Is(err, auth.ErrInvalidInput), errors.Is(err, errInvalidID):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, community.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		obs.Logger().Error().Err(err).
			Str("request_id", audit.RequestIDFromContext(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// audit records a state change. Failures to log never fail the request.
func (a *API) audit(r *http.Request, event, resource string, id int64, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["resource"] = resource
	if id > 0 {
		fields["resource_id"] = id
	}
	_ = audit.LogEvent(r.Context(), event, fields)
}
