// v2
// internal/node/server.go
// Package node is the sensor node service: it samples the transducer on
// demand for HTTP clients and, optionally, on a schedule.
package node

import (
	"bytes"
	"context"
	"embed"
	"encoding/csv"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"homemon/internal/httpx"
	"homemon/internal/reading"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.New("").Funcs(template.FuncMap{
	"psi": func(p float64) string { return formatFloat(p, 2) },
}).ParseFS(templateFS, "templates/*.html"))

// Sampler is the subset of sensor.Sampler the handlers need.
type Sampler interface {
	Take(ctx context.Context) (reading.Reading, error)
	Average(ctx context.Context, n int) (reading.Reading, error)
	Series(ctx context.Context, n int) ([]reading.Reading, error)
}

// HandlerConfig tunes the node handlers.
type HandlerConfig struct {
	AverageCount     int
	CalibrationCount int
	OnThresholdPSI   float64
	// Location renders page timestamps; nil means time.Local.
	Location *time.Location
}

type Handlers struct {
	sampler Sampler
	cfg     HandlerConfig
	log     *slog.Logger
}

func NewHandlers(s Sampler, cfg HandlerConfig, log *slog.Logger) *Handlers {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Handlers{sampler: s, cfg: cfg, log: log}
}

// NewRouter wires the node routes.
func NewRouter(h *Handlers, health *httpx.HealthState) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/health", httpx.LiveHandler()).Methods(http.MethodGet)
	r.Handle("/health/ready", httpx.ReadyHandler(health)).Methods(http.MethodGet)
	r.HandleFunc("/json", h.JSON).Methods(http.MethodGet)
	r.HandleFunc("/calibrate", h.Calibrate).Methods(http.MethodGet)
	r.HandleFunc("/", h.Home).Methods(http.MethodGet)
	return r
}

// JSON serves the averaged reading in wire format.
func (h *Handlers) JSON(w http.ResponseWriter, r *http.Request) {
	rd, err := h.sampler.Average(r.Context(), h.cfg.AverageCount)
	if err != nil {
		h.log.Error("sample_failed", slog.String("path", r.URL.Path), slog.Any("err", err))
		httpx.WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	body, err := reading.MarshalWire(rd)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

type homeView struct {
	Pressure  float64
	Timestamp string
	OnNow     bool
	Threshold float64
}

// Home renders the current pressure and whether the water is on.
func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	rd, err := h.sampler.Average(r.Context(), h.cfg.AverageCount)
	if err != nil {
		h.log.Error("sample_failed", slog.String("path", r.URL.Path), slog.Any("err", err))
		http.Error(w, "sensor unavailable", http.StatusServiceUnavailable)
		return
	}
	view := homeView{
		Pressure:  rd.Pressure,
		Timestamp: rd.Timestamp.In(h.cfg.Location).Format("2006-01-02 15:04:05 MST"),
		OnNow:     rd.Pressure > h.cfg.OnThresholdPSI,
		Threshold: h.cfg.OnThresholdPSI,
	}
	var buf bytes.Buffer
	if err := pageTemplates.ExecuteTemplate(&buf, "home.html", view); err != nil {
		h.log.Error("template_failed", slog.Any("err", err))
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// Calibrate returns a burst of raw readings as CSV for offline fitting.
func (h *Handlers) Calibrate(w http.ResponseWriter, r *http.Request) {
	n := h.cfg.CalibrationCount
	if v := r.URL.Query().Get("count"); v != "" {
		c, err := strconv.Atoi(v)
		if err != nil || c <= 0 || c > 1000 {
			httpx.WriteError(w, http.StatusBadRequest, "count must be between 1 and 1000")
			return
		}
		n = c
	}
	series, err := h.sampler.Series(r.Context(), n)
	if err != nil {
		h.log.Error("sample_failed", slog.String("path", r.URL.Path), slog.Any("err", err))
		httpx.WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	_ = cw.Write([]string{"Timestamp", "Raw Value", "Voltage [V]"})
	for _, rd := range series {
		_ = cw.Write([]string{
			rd.Timestamp.UTC().Format(reading.WireTimeLayout),
			strconv.FormatInt(rd.RawValue, 10),
			strconv.FormatFloat(rd.Voltage, 'f', 5, 64),
		})
	}
	cw.Flush()
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="calibration.csv"`)
	_, _ = buf.WriteTo(w)
}

func formatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}
