package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/SarveshMina/CAD-gcw-backend/internal/api/middleware"
	"github.com/SarveshMina/CAD-gcw-backend/internal/availability"
	"github.com/SarveshMina/CAD-gcw-backend/internal/calendar"
	"github.com/SarveshMina/CAD-gcw-backend/internal/identity"
	"github.com/SarveshMina/CAD-gcw-backend/internal/ledger"
	"github.com/SarveshMina/CAD-gcw-backend/internal/notify"
	"github.com/SarveshMina/CAD-gcw-backend/internal/storage"
	"github.com/SarveshMina/CAD-gcw-backend/internal/storage/models"
	"github.com/SarveshMina/CAD-gcw-backend/internal/websocket"
)

type testAPI struct {
	handler http.Handler
	hub     *websocket.Hub
	tokens  *identity.TokenIssuer
}

type apiOptions struct {
	auth     bool
	restrict bool
}

func newTestAPI(t *testing.T, opts apiOptions) *testAPI {
	t.Helper()
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "api.db"), storage.Options{})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.RunMigrations(context.Background(), db, nil); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	users := storage.NewUserRepository(db)
	calendars := storage.NewCalendarRepository(db)
	events := storage.NewEventRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	hub := websocket.NewHub(quiet)
	go hub.Run(ctx)
	t.Cleanup(cancel)

	fanout := notify.NewFanout(websocket.NewTransport(hub), quiet)
	registry := calendar.NewRegistry(users, calendars, events,
		calendar.WithPublisher(fanout), calendar.WithLogger(quiet))
	events2 := ledger.New(registry, events, ledger.WithPublisher(fanout), ledger.WithLogger(quiet))

	a := &testAPI{hub: hub}
	identityOpts := []identity.Option{identity.WithBcryptCost(bcrypt.MinCost), identity.WithLogger(quiet)}
	var verifier middleware.TokenVerifier
	if opts.auth {
		a.tokens, err = identity.NewTokenIssuer("test-secret", "calendar-test", time.Hour)
		if err != nil {
			t.Fatalf("creating token issuer: %v", err)
		}
		identityOpts = append(identityOpts, identity.WithTokenIssuer(a.tokens))
		verifier = a.tokens
	}

	a.handler = NewRouter(Services{
		DB:           db,
		Identity:     identity.NewService(users, registry, identityOpts...),
		Registry:     registry,
		Ledger:       events2,
		Availability: availability.New(users, calendars, events2, availability.WithRestrictToShared(opts.restrict), availability.WithLogger(quiet)),
		Hub:          hub,
		Tokens:       verifier,
		Logger:       quiet,
	})
	return a
}

type call struct {
	method  string
	path    string
	body    any
	headers map[string]string
}

func (a *testAPI) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader = http.NoBody
	if c.body != nil {
		data, err := json.Marshal(c.body)
		if err != nil {
			t.Fatalf("encoding body: %v", err)
		}
		body = bytes.NewReader(data)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, rec, status)
	resp := decode[middleware.ErrorResponse](t, rec)
	if resp.Success || resp.Error != code {
		t.Fatalf("error body = %+v, want code %s", resp, code)
	}
}

type registered struct {
	UserID         string `json:"userId"`
	HomeCalendarID string `json:"homeCalendarId"`
}

func (a *testAPI) register(t *testing.T, username string) registered {
	t.Helper()
	rec := a.do(t, call{method: "POST", path: "/api/register", body: map[string]string{
		"username": username,
		"password": "password1",
	}})
	expectStatus(t, rec, http.StatusCreated)
	return decode[registered](t, rec)
}

func (a *testAPI) createGroup(t *testing.T, ownerID, name string, members ...string) string {
	t.Helper()
	rec := a.do(t, call{method: "POST", path: "/api/group-calendar/create", body: map[string]any{
		"ownerId": ownerID,
		"name":    name,
		"members": members,
	}})
	expectStatus(t, rec, http.StatusCreated)
	return decode[struct {
		CalendarID string `json:"calendarId"`
	}](t, rec).CalendarID
}

var nine = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func eventBody(userID, title string, start, end time.Time) map[string]any {
	return map[string]any{
		"userId":    userID,
		"title":     title,
		"startTime": start,
		"endTime":   end,
	}
}

type availabilityBody struct {
	Users   map[string][]models.BusyInterval `json:"users"`
	AllBusy []models.BusyInterval            `json:"allBusy"`
}

func TestCollaborationScenario(t *testing.T) {
	a := newTestAPI(t, apiOptions{})
	alice := a.register(t, "alice01")
	bob := a.register(t, "bobby01")
	if alice.HomeCalendarID == "" {
		t.Fatal("registration returned no home calendar")
	}

	group := a.createGroup(t, alice.UserID, "Team")

	rec := a.do(t, call{method: "POST", path: "/api/group-calendar/" + group + "/add-user",
		body: map[string]string{"adminId": alice.UserID, "userId": bob.UserID}})
	expectStatus(t, rec, http.StatusOK)
	added := decode[struct {
		Message string   `json:"message"`
		Members []string `json:"members"`
	}](t, rec)
	if added.Message != "User added successfully" || len(added.Members) != 2 {
		t.Fatalf("add-user = %+v", added)
	}

	rec = a.do(t, call{method: "POST", path: "/api/group-calendar/" + group + "/remove-user",
		body: map[string]string{"adminId": alice.UserID, "userId": bob.UserID}})
	expectStatus(t, rec, http.StatusOK)

	rec = a.do(t, call{method: "POST", path: "/api/group-calendar/" + group + "/remove-user",
		body: map[string]string{"adminId": alice.UserID, "userId": alice.UserID}})
	expectError(t, rec, http.StatusBadRequest, "invalid_operation")

	rec = a.do(t, call{method: "POST", path: "/api/calendar/" + group + "/event",
		body: eventBody(bob.UserID, "Standup", nine, nine.Add(time.Hour))})
	expectError(t, rec, http.StatusForbidden, "forbidden")

	rec = a.do(t, call{method: "POST", path: "/api/calendar/" + group + "/event",
		body: eventBody(alice.UserID, "Standup", nine, nine.Add(time.Hour))})
	expectStatus(t, rec, http.StatusCreated)

	rec = a.do(t, call{method: "POST", path: "/api/availability", body: map[string]any{
		"userId":      alice.UserID,
		"userIds":     []string{alice.UserID, bob.UserID},
		"windowStart": nine.Add(-time.Hour),
		"windowEnd":   nine.Add(8 * time.Hour),
	}})
	expectStatus(t, rec, http.StatusOK)
	got := decode[availabilityBody](t, rec)

	aliceBusy := got.Users[alice.UserID]
	if len(aliceBusy) != 1 || !aliceBusy[0].Start.Equal(nine) || !aliceBusy[0].End.Equal(nine.Add(time.Hour)) {
		t.Errorf("alice busy = %+v, want 09:00-10:00", aliceBusy)
	}
	if bobBusy, ok := got.Users[bob.UserID]; !ok || len(bobBusy) != 0 {
		t.Errorf("bob busy = %+v (present %v), want empty", bobBusy, ok)
	}
}

func TestEventRoundTrip(t *testing.T) {
	a := newTestAPI(t, apiOptions{})
	alice := a.register(t, "alice01")
	home := alice.HomeCalendarID

	rec := a.do(t, call{
		method:  "POST",
		path:    "/api/calendar/" + home + "/event",
		body:    eventBody(alice.UserID, "Dentist", nine, nine.Add(30*time.Minute)),
		headers: map[string]string{"Idempotency-Key": "dentist"},
	})
	expectStatus(t, rec, http.StatusCreated)
	created := decode[struct {
		EventID string       `json:"eventId"`
		Event   models.Event `json:"event"`
	}](t, rec)
	if !created.Event.Locked {
		t.Error("personal events should default to locked")
	}

	// Replaying the same key returns the stored event.
	rec = a.do(t, call{
		method:  "POST",
		path:    "/api/calendar/" + home + "/event",
		body:    eventBody(alice.UserID, "Dentist", nine, nine.Add(30*time.Minute)),
		headers: map[string]string{"Idempotency-Key": "dentist"},
	})
	expectStatus(t, rec, http.StatusCreated)
	if replay := decode[struct {
		EventID string `json:"eventId"`
	}](t, rec); replay.EventID != created.EventID {
		t.Fatalf("replay created %s, want %s", replay.EventID, created.EventID)
	}

	rec = a.do(t, call{method: "PUT", path: "/api/calendar/" + home + "/event/" + created.EventID + "/update",
		body: map[string]any{"userId": alice.UserID, "title": "Dentist (moved)"}})
	expectStatus(t, rec, http.StatusOK)
	updated := decode[struct {
		Event models.Event `json:"event"`
	}](t, rec)
	if updated.Event.Title != "Dentist (moved)" || updated.Event.Version != created.Event.Version+1 {
		t.Fatalf("updated = %+v", updated.Event)
	}

	rec = a.do(t, call{method: "GET", path: "/api/calendar/" + home + "/events?userId=" + alice.UserID})
	expectStatus(t, rec, http.StatusOK)
	if list := decode[struct {
		Events []models.Event `json:"events"`
	}](t, rec); len(list.Events) != 1 {
		t.Fatalf("listed %d events, want 1", len(list.Events))
	}

	rec = a.do(t, call{method: "DELETE", path: "/api/calendar/" + home + "/event/" + created.EventID + "/delete",
		headers: map[string]string{middleware.UserIDHeader: alice.UserID}})
	expectStatus(t, rec, http.StatusOK)

	rec = a.do(t, call{method: "GET", path: "/api/calendar/" + home + "/events",
		headers: map[string]string{middleware.UserIDHeader: alice.UserID}})
	expectStatus(t, rec, http.StatusOK)
	if body := strings.TrimSpace(rec.Body.String()); body != `{"events":[]}` {
		t.Fatalf("events after delete = %s", body)
	}

	rec = a.do(t, call{method: "DELETE", path: "/api/calendar/" + home + "/event/" + created.EventID + "/delete",
		headers: map[string]string{middleware.UserIDHeader: alice.UserID}})
	expectError(t, rec, http.StatusNotFound, "not_found")
}

func TestCalendarEndpoints(t *testing.T) {
	a := newTestAPI(t, apiOptions{})
	alice := a.register(t, "alice01")
	bob := a.register(t, "bobby01")

	rec := a.do(t, call{method: "POST", path: "/api/personal-calendar/create",
		body: map[string]string{"userId": alice.UserID, "name": "Gym"}})
	expectStatus(t, rec, http.StatusCreated)
	gym := decode[struct {
		CalendarID string `json:"calendarId"`
	}](t, rec).CalendarID

	rec = a.do(t, call{method: "POST", path: "/api/personal-calendar/" + alice.HomeCalendarID + "/delete",
		body: map[string]string{"userId": alice.UserID}})
	expectError(t, rec, http.StatusBadRequest, "invalid_operation")

	rec = a.do(t, call{method: "POST", path: "/api/personal-calendar/" + gym + "/delete",
		body: map[string]string{"userId": bob.UserID}})
	expectError(t, rec, http.StatusForbidden, "forbidden")

	group := a.createGroup(t, alice.UserID, "Team", bob.UserID, "ghost")

	rec = a.do(t, call{method: "GET", path: "/api/users/" + bob.UserID + "/calendars"})
	expectStatus(t, rec, http.StatusOK)
	list := decode[struct {
		Calendars []models.Calendar `json:"calendars"`
	}](t, rec)
	ids := map[string]bool{}
	for _, c := range list.Calendars {
		ids[c.ID] = true
	}
	if !ids[bob.HomeCalendarID] || !ids[group] || len(ids) != 2 {
		t.Fatalf("bob's calendars = %v", ids)
	}

	rec = a.do(t, call{method: "POST", path: "/api/group-calendar/" + group + "/delete",
		body: map[string]string{"adminId": bob.UserID}})
	expectError(t, rec, http.StatusForbidden, "forbidden")

	rec = a.do(t, call{method: "POST", path: "/api/group-calendar/" + group + "/delete",
		body: map[string]string{"adminId": alice.UserID}})
	expectStatus(t, rec, http.StatusOK)

	rec = a.do(t, call{method: "GET", path: "/api/calendar/" + group + "/events?userId=" + alice.UserID})
	expectError(t, rec, http.StatusNotFound, "not_found")

	rec = a.do(t, call{method: "POST", path: "/api/personal-calendar/" + gym + "/delete",
		body: map[string]string{"userId": alice.UserID}})
	expectStatus(t, rec, http.StatusOK)
}

func TestImportExport(t *testing.T) {
	a := newTestAPI(t, apiOptions{})
	alice := a.register(t, "alice01")
	home := alice.HomeCalendarID

	ics := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:review@example.com",
		"DTSTAMP:20250301T000000Z",
		"DTSTART:20250310T140000Z",
		"DTEND:20250310T150000Z",
		"SUMMARY:Review",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")

	importICS := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/calendar/"+home+"/import?userId="+alice.UserID, strings.NewReader(ics))
		req.Header.Set("Content-Type", "text/calendar")
		rec := httptest.NewRecorder()
		a.handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		rec := importICS()
		expectStatus(t, rec, http.StatusOK)
		if got := decode[struct {
			Imported int `json:"imported"`
		}](t, rec); got.Imported != 1 {
			t.Fatalf("import #%d imported %d events, want 1", i+1, got.Imported)
		}
	}

	rec := a.do(t, call{method: "GET", path: "/api/calendar/" + home + "/events?userId=" + alice.UserID})
	expectStatus(t, rec, http.StatusOK)
	if list := decode[struct {
		Events []models.Event `json:"events"`
	}](t, rec); len(list.Events) != 1 {
		t.Fatalf("re-import duplicated events: got %d", len(list.Events))
	}

	rec = a.do(t, call{method: "GET", path: "/api/calendar/" + home + "/export.ics?userId=" + alice.UserID})
	expectStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "SUMMARY:Review") {
		t.Errorf("export missing event:\n%s", rec.Body.String())
	}

	req := httptest.NewRequest("POST", "/api/calendar/"+home+"/import?userId="+alice.UserID, strings.NewReader("not a calendar"))
	bad := httptest.NewRecorder()
	a.handler.ServeHTTP(bad, req)
	expectError(t, bad, http.StatusBadRequest, "invalid_input")
}

func TestRequestErrors(t *testing.T) {
	a := newTestAPI(t, apiOptions{})
	alice := a.register(t, "alice01")

	tests := []struct {
		name   string
		call   call
		status int
		code   string
	}{
		{
			name:   "unknown route",
			call:   call{method: "GET", path: "/api/nope"},
			status: http.StatusNotFound,
			code:   "not_found",
		},
		{
			name:   "duplicate username",
			call:   call{method: "POST", path: "/api/register", body: map[string]string{"username": "alice01", "password": "password1"}},
			status: http.StatusBadRequest,
			code:   "already_exists",
		},
		{
			name:   "short password",
			call:   call{method: "POST", path: "/api/register", body: map[string]string{"username": "carol01", "password": "short"}},
			status: http.StatusBadRequest,
			code:   "invalid_input",
		},
		{
			name:   "wrong password",
			call:   call{method: "POST", path: "/api/login", body: map[string]string{"username": "alice01", "password": "password2"}},
			status: http.StatusUnauthorized,
			code:   "unauthorized",
		},
		{
			name:   "empty body",
			call:   call{method: "POST", path: "/api/personal-calendar/create"},
			status: http.StatusBadRequest,
			code:   "invalid_input",
		},
		{
			name:   "missing actor",
			call:   call{method: "GET", path: "/api/calendar/" + alice.HomeCalendarID + "/events"},
			status: http.StatusBadRequest,
			code:   "invalid_input",
		},
		{
			name: "reversed range",
			call: call{method: "POST", path: "/api/calendar/" + alice.HomeCalendarID + "/event",
				body: eventBody(alice.UserID, "Backwards", nine.Add(time.Hour), nine)},
			status: http.StatusBadRequest,
			code:   "invalid_time_range",
		},
		{
			name: "unknown calendar",
			call: call{method: "POST", path: "/api/calendar/missing/event",
				body: eventBody(alice.UserID, "Lost", nine, nine.Add(time.Hour))},
			status: http.StatusNotFound,
			code:   "not_found",
		},
		{
			name: "availability without users",
			call: call{method: "POST", path: "/api/availability", body: map[string]any{
				"userId": alice.UserID, "windowStart": nine, "windowEnd": nine.Add(time.Hour),
			}},
			status: http.StatusBadRequest,
			code:   "invalid_input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, tt.call)
			expectError(t, rec, tt.status, tt.code)
			if rec.Header().Get("Content-Type") != "application/json" {
				t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestAvailabilityRequiresSharedCalendar(t *testing.T) {
	a := newTestAPI(t, apiOptions{restrict: true})
	alice := a.register(t, "alice01")
	bob := a.register(t, "bobby01")

	query := func() *httptest.ResponseRecorder {
		return a.do(t, call{method: "POST", path: "/api/availability", body: map[string]any{
			"userId":      alice.UserID,
			"userIds":     []string{bob.UserID},
			"windowStart": nine,
			"windowEnd":   nine.Add(time.Hour),
		}})
	}

	expectError(t, query(), http.StatusForbidden, "forbidden")

	a.createGroup(t, alice.UserID, "Team", bob.UserID)
	expectStatus(t, query(), http.StatusOK)
}

func TestTokenAuthentication(t *testing.T) {
	a := newTestAPI(t, apiOptions{auth: true})
	alice := a.register(t, "alice01")
	bob := a.register(t, "bobby01")

	rec := a.do(t, call{method: "POST", path: "/api/login",
		body: map[string]string{"username": "alice01", "password": "password1"}})
	expectStatus(t, rec, http.StatusOK)
	token := decode[struct {
		Token string `json:"token"`
	}](t, rec).Token
	if token == "" {
		t.Fatal("login issued no token")
	}
	bearer := map[string]string{"Authorization": "Bearer " + token}

	rec = a.do(t, call{method: "GET", path: "/api/users/" + alice.UserID + "/calendars"})
	expectError(t, rec, http.StatusUnauthorized, "unauthorized")

	rec = a.do(t, call{method: "GET", path: "/api/users/" + alice.UserID + "/calendars",
		headers: map[string]string{"Authorization": token}})
	expectError(t, rec, http.StatusUnauthorized, "unauthorized")

	rec = a.do(t, call{method: "GET", path: "/api/users/" + alice.UserID + "/calendars", headers: bearer})
	expectStatus(t, rec, http.StatusOK)

	// A token cannot act on behalf of another user.
	rec = a.do(t, call{method: "GET", path: "/api/users/" + bob.UserID + "/calendars", headers: bearer})
	expectError(t, rec, http.StatusForbidden, "forbidden")

	// The token supplies the actor when the body omits it.
	rec = a.do(t, call{method: "POST", path: "/api/personal-calendar/create",
		body: map[string]string{"name": "Gym"}, headers: bearer})
	expectStatus(t, rec, http.StatusCreated)

	rec = a.do(t, call{method: "GET", path: "/api/health"})
	expectStatus(t, rec, http.StatusOK)
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t, apiOptions{})
	rec := a.do(t, call{method: "GET", path: "/api/health"})
	expectStatus(t, rec, http.StatusOK)

	got := decode[struct {
		Status      string `json:"status"`
		DBConnected bool   `json:"dbConnected"`
	}](t, rec)
	if got.Status != "healthy" || !got.DBConnected {
		t.Fatalf("health = %+v", got)
	}
	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("response carries no request id")
	}
}

func TestWebSocketNotifications(t *testing.T) {
	a := newTestAPI(t, apiOptions{})
	alice := a.register(t, "alice01")
	bob := a.register(t, "bobby01")
	group := a.createGroup(t, alice.UserID, "Team", bob.UserID)

	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?userId=" + bob.UserID
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	type envelope struct {
		Type    websocket.MessageType `json:"type"`
		Payload json.RawMessage       `json:"payload"`
	}
	read := func() envelope {
		t.Helper()
		var msg envelope
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("reading message: %v", err)
		}
		return msg
	}

	if msg := read(); msg.Type != websocket.TypeSessionReady {
		t.Fatalf("first message = %s, want %s", msg.Type, websocket.TypeSessionReady)
	}

	if err := conn.WriteJSON(websocket.NewMessage(websocket.TypePing, nil)); err != nil {
		t.Fatalf("writing ping: %v", err)
	}
	if msg := read(); msg.Type != websocket.TypePong {
		t.Fatalf("ping answered with %s", msg.Type)
	}

	rec := a.do(t, call{method: "POST", path: "/api/calendar/" + group + "/event",
		body: eventBody(alice.UserID, "Planning", nine, nine.Add(time.Hour))})
	expectStatus(t, rec, http.StatusCreated)

	msg := read()
	if msg.Type != websocket.MessageType(notify.EventCreated) {
		t.Fatalf("notification type = %s, want %s", msg.Type, notify.EventCreated)
	}
	var n notify.Notification
	if err := json.Unmarshal(msg.Payload, &n); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if n.CalendarID != group || n.ActorID != alice.UserID || n.Title != "Planning" {
		t.Fatalf("notification = %+v", n)
	}
}

func TestWebSocketRejectsUnknownUser(t *testing.T) {
	a := newTestAPI(t, apiOptions{})
	rec := a.do(t, call{method: "GET", path: "/api/ws?userId=ghost"})
	expectError(t, rec, http.StatusNotFound, "not_found")
}

func TestMinutePrecisionTimestamps(t *testing.T) {
	a := newTestAPI(t, apiOptions{})
	alice := a.register(t, "alice01")
	home := alice.HomeCalendarID
	eight := nine.Add(-time.Hour)

	rec := a.do(t, call{method: "POST", path: "/api/calendar/" + home + "/event", body: json.RawMessage(`{
		"userId": "` + alice.UserID + `",
		"title": "Standup",
		"startTime": "2025-03-10T09:00+01:00",
		"endTime": "2025-03-10T10:00+01:00"
	}`)})
	expectStatus(t, rec, http.StatusCreated)
	created := decode[struct {
		EventID string       `json:"eventId"`
		Event   models.Event `json:"event"`
	}](t, rec)
	if !created.Event.StartTime.Equal(eight) || !created.Event.EndTime.Equal(nine) {
		t.Fatalf("created %v-%v, want 08:00Z-09:00Z", created.Event.StartTime, created.Event.EndTime)
	}

	rec = a.do(t, call{method: "PUT", path: "/api/calendar/" + home + "/event/" + created.EventID + "/update",
		body: json.RawMessage(`{"userId": "` + alice.UserID + `", "endTime": "2025-03-10T10:30+01:00"}`)})
	expectStatus(t, rec, http.StatusOK)
	updated := decode[struct {
		Event models.Event `json:"event"`
	}](t, rec)
	if !updated.Event.StartTime.Equal(eight) || !updated.Event.EndTime.Equal(nine.Add(30*time.Minute)) {
		t.Fatalf("updated %v-%v, want 08:00Z-09:30Z", updated.Event.StartTime, updated.Event.EndTime)
	}

	rec = a.do(t, call{method: "POST", path: "/api/availability", body: json.RawMessage(`{
		"userId": "` + alice.UserID + `",
		"userIds": ["` + alice.UserID + `"],
		"windowStart": "2025-03-10T07:00Z",
		"windowEnd": "2025-03-10T12:00+01:00"
	}`)})
	expectStatus(t, rec, http.StatusOK)
	busy := decode[availabilityBody](t, rec).Users[alice.UserID]
	if len(busy) != 1 || !busy[0].Start.Equal(eight) || !busy[0].End.Equal(nine.Add(30*time.Minute)) {
		t.Fatalf("busy = %+v, want 08:00Z-09:30Z", busy)
	}

	// A wall-clock time without an offset is ambiguous.
	rec = a.do(t, call{method: "POST", path: "/api/calendar/" + home + "/event", body: json.RawMessage(`{
		"userId": "` + alice.UserID + `",
		"title": "Floating",
		"startTime": "2025-03-10T09:00",
		"endTime": "2025-03-10T10:00+01:00"
	}`)})
	expectError(t, rec, http.StatusBadRequest, "invalid_input")
}
