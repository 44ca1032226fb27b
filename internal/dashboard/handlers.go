// v1
// internal/dashboard/handlers.go
package dashboard

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"homemon/internal/httpx"
	"homemon/internal/reading"
	"homemon/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = func() map[string]*template.Template {
	out := map[string]*template.Template{}
	for _, name := range []string{"home", "about", "admin", "login", "register"} {
		out[name] = template.Must(template.ParseFS(templateFS, "templates/base.html", "templates/"+name+".html"))
	}
	return out
}()

// chartLead extends the chart window past now so a reading stamped by a
// slightly fast node clock still shows.
const chartLead = time.Minute

// ReadingSource is the freshness cache as seen by the handlers.
type ReadingSource interface {
	GetCurrent(ctx context.Context) (store.Stored, error)
	Refresh(ctx context.Context) (store.Stored, error)
}

type HandlerConfig struct {
	OnThresholdPSI   float64
	PlotWindow       time.Duration
	StaleAfter       time.Duration
	RegistrationOpen bool
	// Line is the configured calibration line, shown next to the fitted one.
	Line reading.Line
	// Location renders page timestamps; nil means time.Local.
	Location *time.Location
}

type Handlers struct {
	source       ReadingSource
	store        store.Store
	users        *Users
	calibrations *Calibrations
	sessions     *Sessions
	pruner       *Pruner
	cfg          HandlerConfig
	log          *slog.Logger
	now          func() time.Time
}

func NewHandlers(src ReadingSource, st store.Store, users *Users, cals *Calibrations, sess *Sessions, pruner *Pruner, cfg HandlerConfig, log *slog.Logger) *Handlers {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.PlotWindow <= 0 {
		cfg.PlotWindow = 7 * 24 * time.Hour
	}
	return &Handlers{
		source:       src,
		store:        st,
		users:        users,
		calibrations: cals,
		sessions:     sess,
		pruner:       pruner,
		cfg:          cfg,
		log:          log,
		now:          time.Now,
	}
}

type currentView struct {
	Pressure  string
	Timestamp string
	OnNow     bool
	Raw       int64
	Voltage   string
}

type pageData struct {
	Title            string
	User             *User
	Flashes          []Flash
	RegistrationOpen bool

	Current     *currentView
	Unavailable bool

	Chart       template.HTML
	WindowLabel string

	StaleAfter time.Duration
	Threshold  string

	Today        string
	Calibrations []CalibrationReading
	Fit          FitResult
	FitOK        bool
	Configured   reading.Line

	Email string
	Name  string
}

func (h *Handlers) page(w http.ResponseWriter, r *http.Request, title string) pageData {
	d := pageData{
		Title:            title,
		Flashes:          h.sessions.Flashes(w, r),
		RegistrationOpen: h.cfg.RegistrationOpen,
	}
	if u, ok := h.sessions.CurrentUser(r); ok {
		d.User = &u
	}
	return d
}

func (h *Handlers) render(w http.ResponseWriter, status int, name string, d pageData) {
	var buf bytes.Buffer
	if err := pages[name].ExecuteTemplate(&buf, "base", d); err != nil {
		h.log.Error("template_failed", slog.String("page", name), slog.Any("err", err))
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (h *Handlers) view(s store.Stored) *currentView {
	return &currentView{
		Pressure:  fmt.Sprintf("%5.2f", s.Pressure),
		Timestamp: s.Timestamp.In(h.cfg.Location).Format("2006-01-02 15:04:05 MST"),
		OnNow:     s.Pressure > h.cfg.OnThresholdPSI,
		Raw:       s.RawValue,
		Voltage:   strconv.FormatFloat(s.Voltage, 'f', 4, 64),
	}
}

// current fills the reading part of a page. When the cache fails the page
// still renders, marked unavailable, with the last stored reading if any.
func (h *Handlers) current(ctx context.Context, d *pageData) {
	s, err := h.source.GetCurrent(ctx)
	if err == nil {
		d.Current = h.view(s)
		return
	}
	h.log.Warn("current_reading_unavailable", slog.Any("err", err))
	d.Unavailable = true
	last, ok, lerr := h.store.MostRecent(ctx)
	if lerr == nil && ok {
		d.Current = h.view(last)
	}
}

func (h *Handlers) chart(ctx context.Context) ([]byte, error) {
	to := h.now().Add(chartLead)
	from := to.Add(-h.cfg.PlotWindow - chartLead)
	rows, err := h.store.Between(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return RenderChart(rows, ChartOptions{
		From:         from,
		To:           to,
		ThresholdPSI: h.cfg.OnThresholdPSI,
		Location:     h.cfg.Location,
	}), nil
}

// Home renders the current reading and the history chart.
func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	d := h.page(w, r, "Home")
	h.current(r.Context(), &d)
	d.WindowLabel = windowLabel(h.cfg.PlotWindow)
	svg, err := h.chart(r.Context())
	if err != nil {
		h.log.Error("chart_failed", slog.Any("err", err))
		d.Unavailable = true
	} else {
		d.Chart = template.HTML(svg)
	}
	h.render(w, http.StatusOK, "home", d)
}

// ChartSVG serves the history chart alone.
func (h *Handlers) ChartSVG(w http.ResponseWriter, r *http.Request) {
	svg, err := h.chart(r.Context())
	if err != nil {
		httpx.Fail(w, h.log, "chart_failed", err)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(svg)
}

func (h *Handlers) About(w http.ResponseWriter, r *http.Request) {
	d := h.page(w, r, "About")
	d.StaleAfter = h.cfg.StaleAfter
	d.Threshold = strconv.FormatFloat(h.cfg.OnThresholdPSI, 'f', -1, 64)
	h.render(w, http.StatusOK, "about", d)
}

// Admin renders the admin panel.
func (h *Handlers) Admin(w http.ResponseWriter, r *http.Request) {
	d := h.page(w, r, "Admin")
	h.current(r.Context(), &d)
	d.Today = h.now().UTC().Format(time.DateOnly)
	d.Configured = h.cfg.Line
	rows, err := h.calibrations.List(r.Context())
	if err != nil {
		h.log.Error("calibration_list_failed", slog.Any("err", err))
	}
	d.Calibrations = rows
	if fit, ok, err := h.calibrations.Fit(r.Context()); err != nil {
		h.log.Error("calibration_fit_failed", slog.Any("err", err))
	} else {
		d.Fit, d.FitOK = fit, ok
	}
	h.render(w, http.StatusOK, "admin", d)
}

// AdminAction handles the admin buttons and redirects back to the panel.
func (h *Handlers) AdminAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.PostFormValue("submit_button") {
	case "forceReading":
		s, err := h.source.Refresh(ctx)
		if err != nil {
			h.log.Warn("admin_force_reading_failed", slog.Any("err", err))
			h.sessions.AddFlash(w, r, flashError, "The reading failed: "+err.Error())
			break
		}
		h.sessions.AddFlash(w, r, flashSuccess, fmt.Sprintf("A reading was taken. The pressure is %5.2f psi.", s.Pressure))

	case "calibrateReading":
		known, err := strconv.ParseFloat(strings.TrimSpace(r.PostFormValue("knownPressure")), 64)
		if err != nil || known < 0 {
			h.sessions.AddFlash(w, r, flashError, "Enter the gauge pressure for the calibration reading.")
			break
		}
		s, err := h.source.Refresh(ctx)
		if err != nil {
			h.log.Warn("admin_calibration_reading_failed", slog.Any("err", err))
			h.sessions.AddFlash(w, r, flashError, "The reading failed: "+err.Error())
			break
		}
		if _, err := h.calibrations.Add(ctx, s.Reading, known); err != nil {
			h.log.Error("calibration_store_failed", slog.Any("err", err))
			h.sessions.AddFlash(w, r, flashError, "The calibration reading could not be stored.")
			break
		}
		h.sessions.AddFlash(w, r, flashSuccess, "A calibration reading was taken.")

	case "pruneDatabase":
		cutoff, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(r.PostFormValue("pruneBefore")), time.UTC)
		if err != nil {
			h.sessions.AddFlash(w, r, flashError, "Enter the prune cutoff as YYYY-MM-DD.")
			break
		}
		res, err := h.pruner.PruneBefore(ctx, cutoff)
		if err != nil {
			h.log.Error("admin_prune_failed", slog.Any("err", err))
			h.sessions.AddFlash(w, r, flashError, "The database was not pruned: "+err.Error())
			break
		}
		h.sessions.AddFlash(w, r, flashSuccess, fmt.Sprintf("Deleted %d readings before %s.", res.Deleted, cutoff.Format(time.DateOnly)))

	default:
		h.sessions.AddFlash(w, r, flashError, "Unsure what reading to take.")
	}
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}

func (h *Handlers) LoginForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, "login", h.page(w, r, "Login"))
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	email := r.PostFormValue("email")
	u, err := h.users.Authenticate(r.Context(), email, r.PostFormValue("password"))
	if err != nil {
		d := h.page(w, r, "Login")
		d.Email = email
		d.Flashes = append(d.Flashes, Flash{Category: flashError, Message: authMessage(err)})
		if !errors.Is(err, ErrEmailNotFound) && !errors.Is(err, ErrBadPassword) {
			h.log.Error("login_failed", slog.Any("err", err))
		}
		h.render(w, http.StatusOK, "login", d)
		return
	}
	h.sessions.Login(w, r, u)
	h.sessions.AddFlash(w, r, flashSuccess, "Logged in successfully!")
	h.log.Info("user_logged_in", slog.Uint64("user_id", uint64(u.ID)))
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Logout(w, r)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handlers) RegisterForm(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.RegistrationOpen {
		http.NotFound(w, r)
		return
	}
	h.render(w, http.StatusOK, "register", h.page(w, r, "Register"))
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.RegistrationOpen {
		http.NotFound(w, r)
		return
	}
	email, name := r.PostFormValue("email"), r.PostFormValue("name")
	u, err := h.users.Register(r.Context(), email, name, r.PostFormValue("password1"), r.PostFormValue("password2"))
	if err != nil {
		d := h.page(w, r, "Register")
		d.Email, d.Name = email, name
		d.Flashes = append(d.Flashes, Flash{Category: flashError, Message: authMessage(err)})
		h.render(w, http.StatusOK, "register", d)
		return
	}
	h.log.Info("user_registered", slog.Uint64("user_id", uint64(u.ID)))
	h.sessions.AddFlash(w, r, flashSuccess, "Creating Account.")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func authMessage(err error) string {
	switch {
	case errors.Is(err, ErrEmailExists):
		return "Email already exists."
	case errors.Is(err, ErrPasswordTooShort):
		return "Passwords must be at least 8 characters!"
	case errors.Is(err, ErrPasswordMismatch):
		return "Passwords did not match!"
	case errors.Is(err, ErrEmailRequired):
		return "Email is required."
	case errors.Is(err, ErrEmailNotFound):
		return "Email not found."
	case errors.Is(err, ErrBadPassword):
		return "Password was incorrect. Try Again."
	default:
		return "Something went wrong. Try again."
	}
}

type apiReading struct {
	store.Stored
	On bool `json:"on"`
}

// APIReading serves the current reading as a JSON object.
func (h *Handlers) APIReading(w http.ResponseWriter, r *http.Request) {
	s, err := h.source.GetCurrent(r.Context())
	if err != nil {
		httpx.Fail(w, h.log, "api_reading_failed", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, apiReading{Stored: s, On: s.Pressure > h.cfg.OnThresholdPSI})
}

type apiHistory struct {
	From     time.Time      `json:"from"`
	To       time.Time      `json:"to"`
	Readings []store.Stored `json:"readings"`
}

// APIReadings serves stored readings in [from, to). Both bounds accept
// RFC 3339 or YYYY-MM-DD; to defaults to now and from to one plot window
// before to.
func (h *Handlers) APIReadings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	to := h.now().UTC()
	if v := q.Get("to"); v != "" {
		t, err := parseBound(v)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid to: "+err.Error())
			return
		}
		to = t
	}
	from := to.Add(-h.cfg.PlotWindow)
	if v := q.Get("from"); v != "" {
		t, err := parseBound(v)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid from: "+err.Error())
			return
		}
		from = t
	}
	if !from.Before(to) {
		httpx.WriteError(w, http.StatusBadRequest, "from must be before to")
		return
	}
	rows, err := h.store.Between(r.Context(), from, to)
	if err != nil {
		httpx.Fail(w, h.log, "api_readings_failed", err)
		return
	}
	if rows == nil {
		rows = []store.Stored{}
	}
	httpx.WriteJSON(w, http.StatusOK, apiHistory{From: from, To: to, Readings: rows})
}

func parseBound(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC(), nil
	}
	return time.ParseInLocation(time.DateOnly, v, time.UTC)
}

func windowLabel(d time.Duration) string {
	if d%(24*time.Hour) == 0 {
		days := int(d / (24 * time.Hour))
		if days == 1 {
			return "day"
		}
		return strconv.Itoa(days) + " days"
	}
	return d.String()
}
