package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proged2021/Time-card-app-V2/internal/attendance"
	"github.com/Proged2021/Time-card-app-V2/internal/auth"
	"github.com/Proged2021/Time-card-app-V2/internal/model"
	"github.com/Proged2021/Time-card-app-V2/internal/queue"
	"github.com/Proged2021/Time-card-app-V2/internal/schedule"
	"github.com/Proged2021/Time-card-app-V2/internal/tally"
	"github.com/Proged2021/Time-card-app-V2/internal/token"
)

var jst = time.FixedZone("JST", 9*60*60)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

// flakyStore fails the first n inserts.
type flakyStore struct {
	attendance.RecordStore
	failures atomic.Int32
}

func (f *flakyStore) InsertRecord(ctx context.Context, rec model.AttendanceRecord) error {
	if f.failures.Add(-1) >= 0 {
		return errors.New("connection reset")
	}
	return f.RecordStore.InsertRecord(ctx, rec)
}

// courseStore fails or stalls course lookups on demand.
type courseStore struct {
	*attendance.MemoryStore
	failures atomic.Int32
	stall    atomic.Bool
}

func (s *courseStore) GetCourse(ctx context.Context, id string) (*model.Course, error) {
	if s.stall.Load() {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.failures.Add(-1) >= 0 {
		return nil, errors.New("connection reset")
	}
	return s.MemoryStore.GetCourse(ctx, id)
}

type env struct {
	t       *testing.T
	router  *gin.Engine
	store   *attendance.MemoryStore
	clock   *clock
	events  *queue.InMemory
	counter *tally.MemoryCounter
	flaky   *flakyStore
	courses *courseStore
}

func newEnv(t *testing.T, retries int) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	mem := attendance.NewMemoryStore()

	hash, err := auth.HashPassword("pw")
	require.NoError(t, err)
	owner := model.Teacher{Username: "tanaka", Name: "Tanaka", PasswordHash: hash}
	require.NoError(t, mem.UpsertTeacher(ctx, &owner))
	other := model.Teacher{Username: "suzuki", Name: "Suzuki", PasswordHash: hash}
	require.NoError(t, mem.UpsertTeacher(ctx, &other))
	root := model.Teacher{Username: "root", Name: "Admin", IsAdmin: true, PasswordHash: hash}
	require.NoError(t, mem.UpsertTeacher(ctx, &root))
	hanako := model.Student{SubjectID: "S1001", DisplayName: "Hanako", GroupTags: []string{"U"}, PasswordHash: hash}
	require.NoError(t, mem.UpsertStudent(ctx, &hanako))
	ghost := model.Student{SubjectID: "S9999", DisplayName: "Ghost", GroupTags: []string{"X"}, PasswordHash: hash}
	require.NoError(t, mem.UpsertStudent(ctx, &ghost))
	math := model.Course{ID: "math", OwnerID: owner.ID, Name: "Math", StartTime: 9 * 60, ToleranceMinutes: 10, ActiveWindowMinutes: 90, EligibleGroups: []string{"U"}}
	require.NoError(t, mem.UpsertCourse(ctx, &math))

	signer, err := token.NewSigner([]byte("qr-secret"))
	require.NoError(t, err)
	eval := schedule.NewEvaluator(jst)
	flaky := &flakyStore{RecordStore: mem}
	ledger := attendance.NewLedger(flaky, eval, time.Second)
	svc := attendance.NewService(mem, mem, ledger, signer, eval)

	e := &env{
		t:       t,
		store:   mem,
		clock:   &clock{now: time.Date(2026, 10, 19, 9, 5, 0, 0, jst)},
		events:  queue.NewInMemory(16),
		counter: tally.NewMemoryCounter(),
		flaky:   flaky,
		courses: &courseStore{MemoryStore: mem},
	}
	h := New(Deps{
		Store:        e.courses,
		Service:      svc,
		Reporter:     attendance.NewReporter(mem, eval, time.Second),
		Eval:         eval,
		Clock:        e.clock,
		Events:       e.events,
		Counter:      e.counter,
		Auth:         AuthConfig{Issuer: "test", SigningKey: "jwt-secret", AccessTTL: 12 * time.Hour},
		Health:       map[string]HealthCheck{"store": func(ctx context.Context) bool { return mem.Ping(ctx) == nil }},
		ScanRetries:  retries,
		RetryBase:    time.Millisecond,
		StoreTimeout: 50 * time.Millisecond,
	})
	e.router = gin.New()
	h.Register(e.router, nil)
	return e
}

func (e *env) do(method, path, bearer string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) login(role, username string) string {
	e.t.Helper()
	w := e.do(http.MethodPost, "/v1/auth/login", "", gin.H{"role": role, "username": username, "password": "pw"})
	require.Equal(e.t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(e.t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.AccessToken
}

func (e *env) payload(subject string) string {
	e.t.Helper()
	w := e.do(http.MethodGet, "/v1/me/token", e.login("student", subject), nil)
	require.Equal(e.t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Payload    string `json:"payload"`
		IssuedDate string `json:"issued_date"`
	}
	require.NoError(e.t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(e.t, "2026-10-19", resp.IssuedDate)
	return resp.Payload
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}

func TestLogin(t *testing.T) {
	e := newEnv(t, 0)
	assert.NotEmpty(t, e.login("teacher", "tanaka"))
	assert.NotEmpty(t, e.login("student", "S1001"))

	w := e.do(http.MethodPost, "/v1/auth/login", "", gin.H{"role": "teacher", "username": "tanaka", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = e.do(http.MethodPost, "/v1/auth/login", "", gin.H{"role": "student", "username": "S0000", "password": "pw"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = e.do(http.MethodPost, "/v1/auth/login", "", gin.H{"role": "parent", "username": "x", "password": "pw"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoutesRequireTheRightActor(t *testing.T) {
	e := newEnv(t, 0)
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/v1/courses", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/v1/courses", e.login("student", "S1001"), nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/v1/me/token", e.login("teacher", "tanaka"), nil).Code)
}

func TestAccessTokenExpiresOnHandlerClock(t *testing.T) {
	e := newEnv(t, 0)
	teacher := e.login("teacher", "tanaka")
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/v1/courses", teacher, nil).Code)

	e.clock.now = e.clock.now.Add(13 * time.Hour)
	w := e.do(http.MethodGet, "/v1/courses", teacher, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestScanRecordsAndPublishes(t *testing.T) {
	e := newEnv(t, 0)
	teacher := e.login("teacher", "tanaka")
	payload := e.payload("S1001")

	w := e.do(http.MethodPost, "/v1/courses/math/scans", teacher, gin.H{"payload": payload})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "on_time", body["classification"])

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := e.events.Consume(ctx)
	require.NoError(t, err)
	select {
	case msg := <-msgs:
		tally.NewConsumer(e.events, e.counter, nil, nil).Handle(ctx, msg)
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}

	w = e.do(http.MethodGet, "/v1/courses/math/live", teacher, nil)
	require.Equal(t, http.StatusOK, w.Code)
	live := decode(t, w)
	assert.Equal(t, float64(1), live["on_time"])
	assert.Equal(t, float64(0), live["late"])

	w = e.do(http.MethodPost, "/v1/courses/math/scans", teacher, gin.H{"payload": payload})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "duplicate_submission", decode(t, w)["error"])
}

func TestScanRejections(t *testing.T) {
	e := newEnv(t, 0)
	teacher := e.login("teacher", "tanaka")
	payload := e.payload("S1001")

	tok, err := token.Parse([]byte(payload))
	require.NoError(t, err)
	tok.SubjectID = "S9999"
	forged, err := token.Marshal(tok)
	require.NoError(t, err)

	cases := []struct {
		name   string
		path   string
		bearer string
		body   any
		status int
		reason string
	}{
		{"malformed", "/v1/courses/math/scans", teacher, gin.H{"payload": "{}"}, http.StatusBadRequest, "invalid_token"},
		{"missing body", "/v1/courses/math/scans", teacher, gin.H{}, http.StatusBadRequest, "invalid_token"},
		{"forged", "/v1/courses/math/scans", teacher, gin.H{"payload": string(forged)}, http.StatusUnauthorized, "invalid_signature"},
		{"ineligible", "/v1/courses/math/scans", teacher, gin.H{"payload": e.payload("S9999")}, http.StatusForbidden, "not_eligible"},
		{"unknown course", "/v1/courses/art/scans", teacher, gin.H{"payload": payload}, http.StatusNotFound, "unknown_course"},
		{"other teacher", "/v1/courses/math/scans", e.login("teacher", "suzuki"), gin.H{"payload": payload}, http.StatusForbidden, "forbidden"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := e.do(http.MethodPost, tc.path, tc.bearer, tc.body)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			assert.Equal(t, tc.reason, decode(t, w)["error"])
		})
	}
}

func TestScanOutsideWindow(t *testing.T) {
	e := newEnv(t, 0)
	teacher := e.login("teacher", "tanaka")
	payload := e.payload("S1001")

	e.clock.now = time.Date(2026, 10, 19, 10, 31, 0, 0, jst)
	w := e.do(http.MethodPost, "/v1/courses/math/scans", teacher, gin.H{"payload": payload})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "window_closed", decode(t, w)["error"])
}

func TestAdminMayScanAnyCourse(t *testing.T) {
	e := newEnv(t, 0)
	w := e.do(http.MethodPost, "/v1/courses/math/scans", e.login("teacher", "root"), gin.H{"payload": e.payload("S1001")})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestScanRetriesStorageFailures(t *testing.T) {
	e := newEnv(t, 2)
	e.flaky.failures.Store(1)
	w := e.do(http.MethodPost, "/v1/courses/math/scans", e.login("teacher", "tanaka"), gin.H{"payload": e.payload("S1001")})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestScanStorageUnavailable(t *testing.T) {
	e := newEnv(t, 0)
	e.flaky.failures.Store(1)
	w := e.do(http.MethodPost, "/v1/courses/math/scans", e.login("teacher", "tanaka"), gin.H{"payload": e.payload("S1001")})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "storage_unavailable", decode(t, w)["error"])
}

func TestScanChecksPayloadBeforeCourse(t *testing.T) {
	e := newEnv(t, 0)
	w := e.do(http.MethodPost, "/v1/courses/nope/scans", e.login("teacher", "tanaka"), gin.H{"payload": "not-json"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_token", decode(t, w)["error"])
}

func TestCourseLookupRetried(t *testing.T) {
	e := newEnv(t, 2)
	teacher := e.login("teacher", "tanaka")
	payload := e.payload("S1001")

	e.courses.failures.Store(1)
	w := e.do(http.MethodPost, "/v1/courses/math/scans", teacher, gin.H{"payload": payload})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestCourseLookupTimesOut(t *testing.T) {
	e := newEnv(t, 0)
	teacher := e.login("teacher", "tanaka")
	payload := e.payload("S1001")

	e.courses.stall.Store(true)
	started := time.Now()
	w := e.do(http.MethodPost, "/v1/courses/math/scans", teacher, gin.H{"payload": payload})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "storage_unavailable", decode(t, w)["error"])
	assert.Less(t, time.Since(started), 2*time.Second)
}

func TestTokenQR(t *testing.T) {
	e := newEnv(t, 0)
	w := e.do(http.MethodGet, "/v1/me/token.png", e.login("student", "S1001"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))
}

func TestCoursesAndReport(t *testing.T) {
	e := newEnv(t, 0)
	teacher := e.login("teacher", "tanaka")

	w := e.do(http.MethodGet, "/v1/courses", teacher, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["courses"], 1)

	w = e.do(http.MethodGet, "/v1/courses", e.login("teacher", "suzuki"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["courses"], 0)

	e.clock.now = time.Date(2026, 10, 19, 9, 25, 0, 0, jst)
	w = e.do(http.MethodPost, "/v1/courses/math/scans", teacher, gin.H{"payload": e.payload("S1001")})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "late", decode(t, w)["classification"])

	w = e.do(http.MethodGet, "/v1/courses/math/report?date=2026-10-19", teacher, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rep := decode(t, w)
	assert.Equal(t, "2026-10-19", rep["date"])
	assert.Equal(t, float64(1), rep["total"])
	assert.Equal(t, float64(1), rep["late"])

	w = e.do(http.MethodGet, "/v1/courses/math/report?date=19-10-2026", teacher, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthz(t *testing.T) {
	e := newEnv(t, 0)
	w := e.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["store"])
}
