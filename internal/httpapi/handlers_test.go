package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"fivesteps.org/internal/auth"
	"fivesteps.org/internal/community"
	"fivesteps.org/internal/obs"
)

const testPassword = "s3cret-pass"

var fixedNow = time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	svc     *community.Service
	tokens  *auth.TokenIssuer
	trust   community.Trust
	masjid  community.Masjid
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()
	obs.Init()

	store := community.NewInMemory()
	svc := community.NewService(store, community.WithClock(func() time.Time { return fixedNow }))
	tokens, err := auth.NewTokenIssuer("test-secret-0123456789")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	ctx := context.Background()
	trust, err := svc.CreateTrust(ctx, community.TrustInput{Name: "East London Trust"})
	if err != nil {
		t.Fatalf("CreateTrust: %v", err)
	}
	masjid, err := svc.CreateMasjid(ctx, community.MasjidInput{FullName: "East London Mosque", Postcode: "E1 1JQ", TrustID: trust.ID})
	if err != nil {
		t.Fatalf("CreateMasjid: %v", err)
	}

	api := New(svc, tokens, WithVersion("test"), WithLoginRateLimit(100, 100))
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		svc:     svc,
		tokens:  tokens,
		trust:   trust,
		masjid:  masjid,
	}
}

// do sends a JSON request, attaching token as the session cookie when set.
func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: tokenCookie, Value: token})
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, token string) *http.Response {
	return c.do(http.MethodPost, path, body, token)
}

func (c *apiClient) get(path, token string) *http.Response {
	return c.do(http.MethodGet, path, nil, token)
}

func (c *apiClient) expect(resp *http.Response, want int) {
	c.t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		c.t.Fatalf("%s %s: expected %d, got %d: %s", resp.Request.Method, resp.Request.URL.Path, want, resp.StatusCode, body)
	}
}

func (c *apiClient) userBody(email string) map[string]any {
	return map[string]any{
		"first_name": "Amina",
		"last_name":  "Khan",
		"dob":        "1990-04-01",
		"gender":     "Female",
		"email":      email,
		"password":   testPassword,
	}
}

func (c *apiClient) registerMember(email string) community.Member {
	c.t.Helper()
	body := c.userBody(email)
	body["masjid_id"] = c.masjid.ID
	resp := c.post("/api/members", body, "")
	c.expect(resp, http.StatusCreated)
	return decode[community.Member](c.t, resp)
}

func (c *apiClient) login(email string) string {
	c.t.Helper()
	resp := c.post("/api/auth/login", map[string]any{"email": email, "password": testPassword}, "")
	c.expect(resp, http.StatusOK)
	defer resp.Body.Close()
	for _, ck := range resp.Cookies() {
		if ck.Name == tokenCookie && ck.Value != "" {
			return ck.Value
		}
	}
	c.t.Fatalf("login for %s set no session cookie", email)
	return ""
}

func (c *apiClient) adminToken() string {
	c.t.Helper()
	in := community.UserInput{
		FirstName: "Root", LastName: "Admin", DOB: "1980-01-01", Gender: "Male",
		Email: "admin@example.com", Password: testPassword,
	}
	if _, err := c.svc.CreateAdmin(context.Background(), in); err != nil {
		c.t.Fatalf("CreateAdmin: %v", err)
	}
	return c.login("admin@example.com")
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func errorBody(t *testing.T, r *http.Response) string {
	t.Helper()
	body := decode[map[string]any](t, r)
	if body["request_id"] == "" || body["request_id"] == nil {
		t.Fatalf("error body without request_id: %v", body)
	}
	msg, _ := body["error"].(string)
	return msg
}

func TestLoginLogoutFlow(t *testing.T) {
	api := newTestAPI(t)
	api.registerMember("amina@example.com")

	resp := api.post("/api/auth/login", map[string]any{"email": "amina@example.com", "password": testPassword}, "")
	api.expect(resp, http.StatusOK)
	var session *http.Cookie
	for _, ck := range resp.Cookies() {
		if ck.Name == tokenCookie {
			session = ck
		}
	}
	resp.Body.Close()
	if session == nil || session.Value == "" {
		t.Fatal("expected session cookie")
	}
	if !session.HttpOnly || session.Secure || session.SameSite != http.SameSiteLaxMode || session.MaxAge != 86400 || session.Path != "/" {
		t.Fatalf("unexpected cookie attributes: %+v", session)
	}

	resp = api.post("/api/auth/login", map[string]any{"email": "amina@example.com", "password": testPassword}, session.Value)
	api.expect(resp, http.StatusUnauthorized)
	if msg := errorBody(t, resp); msg != "Need to logout." {
		t.Fatalf("unexpected message %q", msg)
	}

	resp = api.get("/api/auth/me", session.Value)
	api.expect(resp, http.StatusOK)
	me := decode[auth.Identity](t, resp)
	if me.Role != auth.RoleMember {
		t.Fatalf("unexpected identity %+v", me)
	}

	resp = api.post("/api/auth/logout", nil, session.Value)
	api.expect(resp, http.StatusOK)
	cleared := false
	for _, ck := range resp.Cookies() {
		if ck.Name == tokenCookie && ck.Value == "" && ck.MaxAge < 0 {
			cleared = true
		}
	}
	resp.Body.Close()
	if !cleared {
		t.Fatal("logout did not clear the session cookie")
	}

	resp = api.post("/api/auth/logout", nil, "")
	api.expect(resp, http.StatusUnauthorized)
	if msg := errorBody(t, resp); msg != "Not logged in." {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	api := newTestAPI(t)
	api.registerMember("amina@example.com")

	for _, body := range []map[string]any{
		{"email": "amina@example.com", "password": "wrong-pass"},
		{"email": "nobody@example.com", "password": testPassword},
	} {
		resp := api.post("/api/auth/login", body, "")
		api.expect(resp, http.StatusUnauthorized)
		resp.Body.Close()
	}

	resp := api.post("/api/auth/login", map[string]any{"email": "a@example.com", "password": "x", "extra": 1}, "")
	api.expect(resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestInvalidTokenIsForbidden(t *testing.T) {
	api := newTestAPI(t)
	m := api.registerMember("amina@example.com")

	resp := api.get("/api/members/"+strconv.FormatInt(m.ID, 10), "not-a-jwt")
	api.expect(resp, http.StatusForbidden)
	if msg := errorBody(t, resp); msg != "Invalid or expired token." {
		t.Fatalf("unexpected message %q", msg)
	}

	other, err := auth.NewTokenIssuer("another-secret-0123456789")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	forged, _, err := other.Issue(m.ID, auth.RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	resp = api.get("/api/members/"+strconv.FormatInt(m.ID, 10), forged)
	api.expect(resp, http.StatusForbidden)
	resp.Body.Close()
}

func TestMemberSelfAccess(t *testing.T) {
	api := newTestAPI(t)
	a := api.registerMember("a@example.com")
	b := api.registerMember("b@example.com")
	tokenA := api.login("a@example.com")
	admin := api.adminToken()

	pathA := "/api/members/" + strconv.FormatInt(a.ID, 10)
	pathB := "/api/members/" + strconv.FormatInt(b.ID, 10)

	resp := api.get(pathA, "")
	api.expect(resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = api.get(pathA, tokenA)
	api.expect(resp, http.StatusOK)
	own := decode[community.Member](t, resp)
	if own.Email != "a@example.com" {
		t.Fatalf("owner should see contact details, got %+v", own)
	}

	resp = api.get(pathB, tokenA)
	api.expect(resp, http.StatusForbidden)
	if msg := errorBody(t, resp); msg != "Access denied." {
		t.Fatalf("unexpected message %q", msg)
	}

	resp = api.get(pathB, admin)
	api.expect(resp, http.StatusOK)
	resp.Body.Close()

	resp = api.get("/api/members", "")
	api.expect(resp, http.StatusOK)
	for _, m := range decode[[]community.Member](t, resp) {
		if m.Email != "" {
			t.Fatalf("public list leaked email: %+v", m)
		}
	}
}

func TestMemberUpdate(t *testing.T) {
	api := newTestAPI(t)
	m := api.registerMember("a@example.com")
	token := api.login("a@example.com")

	body := api.userBody("a@example.com")
	body["first_name"] = "Aminah"
	body["password"] = ""
	body["masjid_id"] = api.masjid.ID
	resp := api.do(http.MethodPut, "/api/members/"+strconv.FormatInt(m.ID, 10), body, token)
	api.expect(resp, http.StatusOK)
	if got := decode[community.Member](t, resp); got.FirstName != "Aminah" {
		t.Fatalf("update not applied: %+v", got)
	}

	// Empty password keeps the old one.
	resp = api.post("/api/auth/login", map[string]any{"email": "a@example.com", "password": testPassword}, "")
	api.expect(resp, http.StatusOK)
	resp.Body.Close()

	body["masjid_id"] = 9999
	resp = api.do(http.MethodPut, "/api/members/"+strconv.FormatInt(m.ID, 10), body, token)
	api.expect(resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestDeleteMemberLeavesNoTrace(t *testing.T) {
	api := newTestAPI(t)
	m := api.registerMember("a@example.com")
	token := api.login("a@example.com")
	path := "/api/members/" + strconv.FormatInt(m.ID, 10)

	resp := api.do(http.MethodDelete, path, nil, token)
	api.expect(resp, http.StatusOK)
	resp.Body.Close()

	resp = api.get("/api/users/"+strconv.FormatInt(m.ID, 10), "")
	api.expect(resp, http.StatusNotFound)
	resp.Body.Close()

	resp = api.post("/api/auth/login", map[string]any{"email": "a@example.com", "password": testPassword}, "")
	api.expect(resp, http.StatusUnauthorized)
	resp.Body.Close()

	// The same email can register again.
	api.registerMember("a@example.com")
}

func TestDeleteMemberRejectsOtherRoles(t *testing.T) {
	api := newTestAPI(t)
	admin := api.adminToken()

	resp := api.post("/api/trustees", map[string]any{
		"first_name": "Tariq", "last_name": "Ali", "dob": "1975-02-03", "gender": "Male",
		"email": "tariq@example.com", "password": testPassword, "trust_id": api.trust.ID,
	}, admin)
	api.expect(resp, http.StatusCreated)
	trustee := decode[community.Trustee](t, resp)

	resp = api.do(http.MethodDelete, "/api/members/"+strconv.FormatInt(trustee.ID, 10), nil, admin)
	api.expect(resp, http.StatusNotFound)
	resp.Body.Close()

	resp = api.get("/api/trustees/"+strconv.FormatInt(trustee.ID, 10), admin)
	api.expect(resp, http.StatusOK)
	resp.Body.Close()
}

func TestUserDeleteIsRoleAgnostic(t *testing.T) {
	api := newTestAPI(t)
	m := api.registerMember("a@example.com")
	token := api.login("a@example.com")
	other := api.registerMember("b@example.com")

	resp := api.do(http.MethodDelete, "/api/users/"+strconv.FormatInt(other.ID, 10), nil, token)
	api.expect(resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.do(http.MethodDelete, "/api/users/"+strconv.FormatInt(m.ID, 10), nil, token)
	api.expect(resp, http.StatusOK)
	resp.Body.Close()

	resp = api.get("/api/users", "")
	api.expect(resp, http.StatusOK)
	users := decode[[]community.User](t, resp)
	if len(users) != 1 || users[0].ID != other.ID {
		t.Fatalf("unexpected users after delete: %+v", users)
	}
}

func TestStaffCreationRequiresAdmin(t *testing.T) {
	api := newTestAPI(t)
	api.registerMember("a@example.com")
	member := api.login("a@example.com")
	admin := api.adminToken()

	body := api.userBody("tariq@example.com")
	body["trust_id"] = api.trust.ID

	resp := api.post("/api/trustees", body, "")
	api.expect(resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = api.post("/api/trustees", body, member)
	api.expect(resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.post("/api/trustees", body, admin)
	api.expect(resp, http.StatusCreated)
	resp.Body.Close()

	resp = api.post("/api/trustees", body, admin)
	api.expect(resp, http.StatusConflict)
	resp.Body.Close()

	resp = api.post("/api/admins", api.userBody("second@example.com"), admin)
	api.expect(resp, http.StatusCreated)
	resp.Body.Close()

	resp = api.get("/api/admins", "")
	api.expect(resp, http.StatusOK)
	if admins := decode[[]community.Admin](t, resp); len(admins) != 2 {
		t.Fatalf("expected 2 admins, got %d", len(admins))
	}
}

func TestPrayerStatistics(t *testing.T) {
	api := newTestAPI(t)
	m := api.registerMember("a@example.com")
	token := api.login("a@example.com")
	base := "/api/members/" + strconv.FormatInt(m.ID, 10) + "/stats/"
	today := fixedNow.Format(community.DateLayout)

	resp := api.get(base+today+"/fajr", token)
	api.expect(resp, http.StatusNotFound)
	resp.Body.Close()

	resp = api.do(http.MethodPut, base+today+"/fajr", map[string]any{"attended": true, "steps": 1200}, token)
	api.expect(resp, http.StatusCreated)
	resp.Body.Close()

	resp = api.get(base+today+"/Fajr", token)
	api.expect(resp, http.StatusOK)
	if stat := decode[community.PrayerStat](t, resp); !stat.Attended || stat.Steps != 1200 {
		t.Fatalf("unexpected stat %+v", stat)
	}

	resp = api.do(http.MethodPut, base+"2030-01-01/fajr", map[string]any{"attended": true, "steps": 1}, token)
	api.expect(resp, http.StatusNotFound)
	resp.Body.Close()

	resp = api.get(base+today+"/tahajjud", token)
	api.expect(resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.do(http.MethodPut, base+today+"/asr", map[string]any{"attended": false, "steps": -5}, token)
	api.expect(resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.get(base+today, token)
	api.expect(resp, http.StatusOK)
	if day := decode[[]community.PrayerStat](t, resp); len(day) != 1 {
		t.Fatalf("expected one logged prayer, got %+v", day)
	}

	resp = api.get("/api/masjids/"+strconv.FormatInt(api.masjid.ID, 10)+"/stats/"+today, "")
	api.expect(resp, http.StatusOK)
	sums := decode[[]community.PrayerSummary](t, resp)
	if len(sums) != 5 || sums[0].Prayer != community.Fajr || sums[0].Attended != 1 || sums[0].Steps != 1200 {
		t.Fatalf("unexpected masjid summary %+v", sums)
	}
}

func TestMasjidRoutes(t *testing.T) {
	api := newTestAPI(t)
	admin := api.adminToken()

	resp := api.get("/api/masjids/search", "")
	api.expect(resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.post("/api/masjids", map[string]any{"full_name": "London Central Mosque", "postcode": "nw8 7rg", "trust_id": api.trust.ID}, admin)
	api.expect(resp, http.StatusCreated)
	created := decode[community.Masjid](t, resp)
	if created.Postcode != "NW8 7RG" || created.Latitude != nil {
		t.Fatalf("unexpected masjid %+v", created)
	}

	resp = api.get("/api/masjids/search?name=london", "")
	api.expect(resp, http.StatusOK)
	hits := decode[[]community.MasjidSummary](t, resp)
	if len(hits) != 2 || hits[0].FullName != "London Central Mosque" {
		t.Fatalf("unexpected ranking %+v", hits)
	}

	resp = api.get("/api/masjids/"+strconv.FormatInt(created.ID, 10), "")
	api.expect(resp, http.StatusOK)
	resp.Body.Close()

	resp = api.get("/api/masjids/abc", "")
	api.expect(resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestTimetableRequiresOwningTrust(t *testing.T) {
	api := newTestAPI(t)
	admin := api.adminToken()
	ctx := context.Background()

	otherTrust, err := api.svc.CreateTrust(ctx, community.TrustInput{Name: "North Trust"})
	if err != nil {
		t.Fatalf("CreateTrust: %v", err)
	}
	for email, trustID := range map[string]int64{"own@example.com": api.trust.ID, "other@example.com": otherTrust.ID} {
		body := api.userBody(email)
		body["trust_id"] = trustID
		resp := api.post("/api/trustees", body, admin)
		api.expect(resp, http.StatusCreated)
		resp.Body.Close()
	}
	own := api.login("own@example.com")
	other := api.login("other@example.com")

	path := "/api/masjids/" + strconv.FormatInt(api.masjid.ID, 10) + "/timetable/2024-05-11"
	body := map[string]any{"entries": []map[string]any{
		{"prayer": "Isha", "begins": "21:30", "jamaat": "21:45"},
		{"prayer": "Fajr", "begins": "03:50"},
	}}

	resp := api.do(http.MethodPut, path, body, other)
	api.expect(resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.do(http.MethodPut, path, body, own)
	api.expect(resp, http.StatusOK)
	resp.Body.Close()

	resp = api.get("/api/masjids/"+strconv.FormatInt(api.masjid.ID, 10)+"/timetable?date=2024-05-11", "")
	api.expect(resp, http.StatusOK)
	entries := decode[[]community.TimetableEntry](t, resp)
	if len(entries) != 2 || entries[0].Prayer != community.Fajr || entries[1].Jamaat != "21:45" {
		t.Fatalf("unexpected timetable %+v", entries)
	}

	body["entries"] = []map[string]any{{"prayer": "Fajr", "begins": "25:00"}}
	resp = api.do(http.MethodPut, path, body, admin)
	api.expect(resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestTrusteeCannotMoveOwnTrust(t *testing.T) {
	api := newTestAPI(t)
	admin := api.adminToken()

	north, err := api.svc.CreateTrust(context.Background(), community.TrustInput{Name: "North Trust"})
	if err != nil {
		t.Fatalf("CreateTrust: %v", err)
	}
	body := api.userBody("north@example.com")
	body["trust_id"] = north.ID
	resp := api.post("/api/trustees", body, admin)
	api.expect(resp, http.StatusCreated)
	trustee := decode[community.Trustee](t, resp)
	token := api.login("north@example.com")

	timetable := "/api/masjids/" + strconv.FormatInt(api.masjid.ID, 10) + "/timetable/2024-05-11"
	entries := map[string]any{"entries": []map[string]any{{"prayer": "Fajr", "begins": "03:50"}}}
	resp = api.do(http.MethodPut, timetable, entries, token)
	api.expect(resp, http.StatusForbidden)
	resp.Body.Close()

	self := "/api/trustees/" + strconv.FormatInt(trustee.ID, 10)
	delete(body, "password")
	body["trust_id"] = api.trust.ID
	resp = api.do(http.MethodPut, self, body, token)
	api.expect(resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.do(http.MethodPut, timetable, entries, token)
	api.expect(resp, http.StatusForbidden)
	resp.Body.Close()

	// Edits that keep the trust still go through.
	body["trust_id"] = north.ID
	body["first_name"] = "Yusuf"
	resp = api.do(http.MethodPut, self, body, token)
	api.expect(resp, http.StatusOK)
	resp.Body.Close()

	body["trust_id"] = api.trust.ID
	resp = api.do(http.MethodPut, self, body, admin)
	api.expect(resp, http.StatusOK)
	if moved := decode[community.Trustee](t, resp); moved.TrustID != api.trust.ID {
		t.Fatalf("expected admin to move trustee, got %+v", moved)
	}

	resp = api.do(http.MethodPut, timetable, entries, token)
	api.expect(resp, http.StatusOK)
	resp.Body.Close()
}

func TestOversizedBodyIsRejected(t *testing.T) {
	api := newTestAPI(t)
	raw := `{"first_name":"` + strings.Repeat("a", maxBodyBytes+1) + `"}`
	req, err := http.NewRequest(http.MethodPost, api.baseURL+"/api/members", strings.NewReader(raw))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	api.expect(resp, http.StatusRequestEntityTooLarge)
	if msg := errorBody(t, resp); !strings.Contains(msg, "exceeds") {
		t.Fatalf("unexpected error %q", msg)
	}

	resp = api.post("/api/members", map[string]any{"first_name": "x", "unknown": true}, "")
	api.expect(resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestOperationalEndpoints(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/healthz", "")
	api.expect(resp, http.StatusOK)
	if body := decode[map[string]any](t, resp); body["version"] != "test" {
		t.Fatalf("unexpected health body %v", body)
	}

	resp = api.get("/readyz", "")
	api.expect(resp, http.StatusOK)
	resp.Body.Close()

	resp = api.get("/nope", "")
	api.expect(resp, http.StatusNotFound)
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header")
	}
	resp.Body.Close()

	resp = api.get("/metrics", "")
	api.expect(resp, http.StatusOK)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(raw), `path="/healthz"`) {
		t.Fatal("expected route pattern label for /healthz in metrics")
	}
}
