// v2
// internal/dashboard/router.go
// Package dashboard is the web application: it polls the sensor node through
// the freshness cache, keeps the reading history and serves the pages, the
// JSON API and the admin panel.
package dashboard

import (
	"net/http"

	"github.com/gorilla/mux"

	"homemon/internal/httpx"
)

// NewRouter wires the dashboard routes. Every route is counted in m.
func NewRouter(h *Handlers, m *Metrics, health *httpx.HealthState) *mux.Router {
	r := mux.NewRouter()
	route := func(path string, handler http.Handler, methods ...string) {
		r.Handle(path, m.WrapHandler(path, handler)).Methods(methods...)
	}
	auth := h.sessions.RequireLogin

	route("/health", httpx.LiveHandler(), http.MethodGet)
	route("/health/ready", httpx.ReadyHandler(health), http.MethodGet)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	route("/", http.HandlerFunc(h.Home), http.MethodGet)
	route("/chart.svg", http.HandlerFunc(h.ChartSVG), http.MethodGet)
	route("/about", http.HandlerFunc(h.About), http.MethodGet)

	route("/admin", auth(http.HandlerFunc(h.Admin)), http.MethodGet)
	route("/admin", auth(http.HandlerFunc(h.AdminAction)), http.MethodPost)

	route("/login", http.HandlerFunc(h.LoginForm), http.MethodGet)
	route("/login", http.HandlerFunc(h.Login), http.MethodPost)
	route("/register", http.HandlerFunc(h.RegisterForm), http.MethodGet)
	route("/register", http.HandlerFunc(h.Register), http.MethodPost)
	route("/logout", http.HandlerFunc(h.Logout), http.MethodGet)

	route("/api/reading", http.HandlerFunc(h.APIReading), http.MethodGet)
	route("/api/readings", http.HandlerFunc(h.APIReadings), http.MethodGet)
	return r
}
