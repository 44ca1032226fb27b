// v0
// internal/dashboard/handlers_test.go
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"homemon/internal/httpx"
	"homemon/internal/reading"
	"homemon/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource serves the latest stored reading and "acquires" next on
// Refresh or when the store is empty.
type fakeSource struct {
	mu        sync.Mutex
	st        store.Store
	next      reading.Reading
	err       error
	refreshes int
}

func (f *fakeSource) GetCurrent(ctx context.Context) (store.Stored, error) {
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return store.Stored{}, err
	}
	if s, ok, err := f.st.MostRecent(ctx); err != nil || ok {
		return s, err
	}
	return f.Refresh(ctx)
}

func (f *fakeSource) Refresh(ctx context.Context) (store.Stored, error) {
	f.mu.Lock()
	f.refreshes++
	next, err := f.next, f.err
	f.mu.Unlock()
	if err != nil {
		return store.Stored{}, err
	}
	return f.st.Insert(ctx, next)
}

func (f *fakeSource) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type testEnv struct {
	srv     *httptest.Server
	client  *http.Client
	store   *store.Memory
	source  *fakeSource
	users   *Users
	cals    *Calibrations
	metrics *Metrics
}

func newTestEnv(t *testing.T, opts ...func(*HandlerConfig)) *testEnv {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "site.db"))
	if err != nil {
		t.Fatalf("open site db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	users, err := NewUsers(db)
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	users.cost = bcrypt.MinCost
	cals, err := NewCalibrations(db)
	if err != nil {
		t.Fatalf("calibrations: %v", err)
	}
	mem := store.NewMemory()
	src := &fakeSource{st: mem, next: reading.Reading{RawValue: 9462, Voltage: 1.1827, Pressure: 42.5}}
	m := NewMetrics()
	log := quietLogger()
	sess := NewSessions("0123456789abcdef0123456789abcdef", users, log)
	cfg := HandlerConfig{
		OnThresholdPSI:   30,
		PlotWindow:       24 * time.Hour,
		StaleAfter:       15 * time.Minute,
		RegistrationOpen: true,
		Line:             reading.DefaultLine(),
		Location:         time.UTC,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	h := NewHandlers(src, mem, users, cals, sess, NewPruner(mem, nil, m, log), cfg, log)
	srv := httptest.NewServer(NewRouter(h, m, httpx.NewHealthState()))
	t.Cleanup(srv.Close)
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &testEnv{srv: srv, client: &http.Client{Jar: jar}, store: mem, source: src, users: users, cals: cals, metrics: m}
}

func (e *testEnv) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := e.client.Get(e.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func (e *testEnv) post(t *testing.T, path string, form url.Values) (int, string) {
	t.Helper()
	resp, err := e.client.PostForm(e.srv.URL+path, form)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	if _, err := e.users.Register(context.Background(), "admin@example.com", "Admin", "correct-horse", "correct-horse"); err != nil {
		t.Fatalf("register: %v", err)
	}
	status, body := e.post(t, "/login", url.Values{"email": {"admin@example.com"}, "password": {"correct-horse"}})
	if status != http.StatusOK || !strings.Contains(body, "Logged in successfully!") {
		t.Fatalf("expected login to land on admin, got %d %q", status, body)
	}
}

func TestHomeRendersCurrentReadingAndChart(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.get(t, "/")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	for _, want := range []string{"42.50 psi", "Water is ON", "<svg", "class=\"threshold\"", "Last day"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in home page", want)
		}
	}
	if n := env.source.refreshCount(); n != 1 {
		t.Fatalf("expected the empty store to trigger one acquisition, got %d", n)
	}
}

func TestHomeFallsBackToLastStoredReading(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.store.Insert(context.Background(), reading.Reading{Timestamp: time.Now().Add(-time.Hour), RawValue: 3000, Pressure: 12}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	env.source.setErr(fmt.Errorf("%w: node down", reading.ErrAcquisitionFailure))
	status, body := env.get(t, "/")
	if status != http.StatusOK {
		t.Fatalf("expected the page to render, got %d", status)
	}
	for _, want := range []string{"Sensor unavailable", "12.00 psi", "Water is off"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in degraded home page", want)
		}
	}
}

func TestChartSVGServesImage(t *testing.T) {
	env := newTestEnv(t)
	resp, err := env.client.Get(env.srv.URL + "/chart.svg")
	if err != nil {
		t.Fatalf("GET chart: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "image/svg+xml" {
		t.Fatalf("expected svg content type, got %q", ct)
	}
}

func TestAPIReadingEncodesObject(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.get(t, "/api/reading")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", status, body)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["pressure"] != 42.5 || got["rawvalue"] != float64(9462) || got["on"] != true {
		t.Fatalf("unexpected body %v", got)
	}
	if id, _ := got["id"].(string); id == "" {
		t.Fatalf("expected an id, got %v", got["id"])
	}
	if _, ok := got["datetime"].(string); !ok {
		t.Fatalf("expected datetime, got %v", got["datetime"])
	}
}

func TestAPIReadingMapsErrors(t *testing.T) {
	env := newTestEnv(t)
	env.source.setErr(fmt.Errorf("%w: timeout", reading.ErrAcquisitionFailure))
	if status, _ := env.get(t, "/api/reading"); status != http.StatusBadGateway {
		t.Fatalf("expected 502 for acquisition failure, got %d", status)
	}
	env.source.setErr(fmt.Errorf("%w: locked", reading.ErrStorageUnavailable))
	status, body := env.get(t, "/api/reading")
	if status != http.StatusServiceUnavailable || !strings.Contains(body, "\"error\"") {
		t.Fatalf("expected 503 json error, got %d %s", status, body)
	}
}

func TestAPIReadingsHalfOpenRange(t *testing.T) {
	env := newTestEnv(t)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		if _, err := env.store.Insert(context.Background(), reading.Reading{Timestamp: base.Add(time.Duration(i) * time.Hour), RawValue: int64(i)}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	status, body := env.get(t, "/api/readings?from=2024-05-01T01:00:00Z&to=2024-05-01T03:00:00Z")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", status, body)
	}
	var got apiHistory
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Readings) != 2 || got.Readings[0].RawValue != 1 || got.Readings[1].RawValue != 2 {
		t.Fatalf("expected raw 1 and 2, got %+v", got.Readings)
	}

	status, _ = env.get(t, "/api/readings?from=2024-05-02&to=2024-05-01")
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted range, got %d", status)
	}
	status, _ = env.get(t, "/api/readings?from=yesterday")
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad bound, got %d", status)
	}
	status, body = env.get(t, "/api/readings?from=2020-01-01&to=2020-01-02")
	if status != http.StatusOK || !strings.Contains(body, "\"readings\":[]") {
		t.Fatalf("expected empty list, got %d %s", status, body)
	}
}

func TestAdminRequiresLogin(t *testing.T) {
	env := newTestEnv(t)
	env.client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	resp, err := env.client.Get(env.srv.URL + "/admin")
	if err != nil {
		t.Fatalf("GET admin: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/login" {
		t.Fatalf("expected redirect to /login, got %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		form url.Values
		want string
	}{
		{url.Values{"email": {"a@example.com"}, "password1": {"short"}, "password2": {"short"}}, "Passwords must be at least 8 characters!"},
		{url.Values{"email": {"a@example.com"}, "password1": {"long-enough"}, "password2": {"different!"}}, "Passwords did not match!"},
	}
	for _, tc := range cases {
		status, body := env.post(t, "/register", tc.form)
		if status != http.StatusOK || !strings.Contains(body, tc.want) {
			t.Fatalf("expected %q, got %d", tc.want, status)
		}
	}

	status, body := env.post(t, "/register", url.Values{"email": {"a@example.com"}, "name": {"A"}, "password1": {"long-enough"}, "password2": {"long-enough"}})
	if status != http.StatusOK || !strings.Contains(body, "Creating Account.") || !strings.Contains(body, "<h1>Login</h1>") {
		t.Fatalf("expected redirect to login with flash, got %d", status)
	}
	_, body = env.post(t, "/register", url.Values{"email": {"a@example.com"}, "password1": {"long-enough"}, "password2": {"long-enough"}})
	if !strings.Contains(body, "Email already exists.") {
		t.Fatalf("expected duplicate email to be rejected")
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.users.Register(context.Background(), "op@example.com", "", "correct-horse", "correct-horse"); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, body := env.post(t, "/login", url.Values{"email": {"nobody@example.com"}, "password": {"x"}})
	if !strings.Contains(body, "Email not found.") {
		t.Fatalf("expected unknown email message")
	}
	_, body = env.post(t, "/login", url.Values{"email": {"op@example.com"}, "password": {"wrong-horse"}})
	if !strings.Contains(body, "Password was incorrect. Try Again.") {
		t.Fatalf("expected bad password message")
	}
	_, body = env.get(t, "/admin")
	if !strings.Contains(body, "Please log in to access this page.") {
		t.Fatalf("expected admin to stay locked")
	}
}

func TestAdminButtons(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	ctx := context.Background()

	_, body := env.post(t, "/admin", url.Values{"submit_button": {"forceReading"}})
	if !strings.Contains(body, "A reading was taken. The pressure is 42.50 psi.") {
		t.Fatalf("expected force reading flash")
	}
	// One reading from the admin page after login, one forced.
	if n, _ := env.store.Count(ctx); n != 2 {
		t.Fatalf("expected two stored readings, got %d", n)
	}

	_, body = env.post(t, "/admin", url.Values{"submit_button": {"takeAGuess"}})
	if !strings.Contains(body, "Unsure what reading to take.") {
		t.Fatalf("expected unknown button flash")
	}

	_, body = env.post(t, "/admin", url.Values{"submit_button": {"calibrateReading"}, "knownPressure": {"41.9"}})
	if !strings.Contains(body, "A calibration reading was taken.") {
		t.Fatalf("expected calibration flash")
	}
	rows, err := env.cals.List(ctx)
	if err != nil || len(rows) != 1 || rows[0].RawValue != 9462 || rows[0].Pressure != 41.9 {
		t.Fatalf("unexpected calibration rows %+v err=%v", rows, err)
	}

	_, body = env.post(t, "/admin", url.Values{"submit_button": {"calibrateReading"}, "knownPressure": {"abc"}})
	if !strings.Contains(body, "Enter the gauge pressure for the calibration reading.") {
		t.Fatalf("expected calibration validation flash")
	}

	if _, err := env.store.Insert(ctx, reading.Reading{Timestamp: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, body = env.post(t, "/admin", url.Values{"submit_button": {"pruneDatabase"}, "pruneBefore": {"2021-01-01"}})
	if !strings.Contains(body, "Deleted 1 readings before 2021-01-01.") {
		t.Fatalf("expected prune flash")
	}
	_, body = env.post(t, "/admin", url.Values{"submit_button": {"pruneDatabase"}, "pruneBefore": {"01/01/2021"}})
	if !strings.Contains(body, "Enter the prune cutoff as YYYY-MM-DD.") {
		t.Fatalf("expected prune validation flash")
	}

	env.source.setErr(errors.New("node unreachable"))
	_, body = env.post(t, "/admin", url.Values{"submit_button": {"forceReading"}})
	if !strings.Contains(body, "The reading failed: node unreachable") || !strings.Contains(body, "Sensor unavailable") {
		t.Fatalf("expected failed reading flash and degraded panel")
	}
}

func TestAdminShowsDeployedLineNextToFit(t *testing.T) {
	env := newTestEnv(t, func(c *HandlerConfig) {
		c.Line = reading.Line{Slope: 0.0071, Intercept: -22.5}
	})
	ctx := context.Background()
	for _, pair := range []struct {
		raw int64
		psi float64
	}{{5000, 13}, {9000, 41}} {
		if _, err := env.cals.Add(ctx, reading.Reading{Timestamp: time.Now().UTC(), RawValue: pair.raw}, pair.psi); err != nil {
			t.Fatalf("add calibration: %v", err)
		}
	}
	env.login(t)
	_, body := env.get(t, "/admin")
	if !strings.Contains(body, "Fitted line: pressure = 0.007000000") {
		t.Fatalf("expected the fitted line")
	}
	if !strings.Contains(body, "Deployed line (cal.slope, cal.intercept): 0.007100000 &times; raw -22.500000") {
		t.Fatalf("expected the configured line, not the compiled default")
	}
}

func TestLogoutWithoutSessionIsANoOp(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.get(t, "/logout")
	if status != http.StatusOK || !strings.Contains(body, "Water Pressure") {
		t.Fatalf("expected anonymous logout to land on home, got %d", status)
	}
	if strings.Contains(body, "Please log in to access this page.") {
		t.Fatalf("anonymous logout must not ask for a login")
	}
}

func TestLogoutEndsSession(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	if status, body := env.get(t, "/logout"); status != http.StatusOK || !strings.Contains(body, "Water Pressure") {
		t.Fatalf("expected logout to land on home, got %d", status)
	}
	if _, body := env.get(t, "/admin"); !strings.Contains(body, "Please log in to access this page.") {
		t.Fatalf("expected admin to require login again")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.metrics.CacheHit()
	env.get(t, "/about")
	status, body := env.get(t, "/metrics")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	for _, want := range []string{"cache_hits_total 1", `http_requests_total{route="/about",status="200"} 1`} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}
