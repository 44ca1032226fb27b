// v0
// internal/dashboard/chart_test.go
package dashboard

import (
	"math"
	"strings"
	"testing"
	"time"

	"homemon/internal/reading"
	"homemon/internal/store"
)

func chartRow(ts time.Time, psi float64) store.Stored {
	return store.Stored{ID: ts.String(), Reading: reading.Reading{Timestamp: ts, Pressure: psi}}
}

func TestRenderChartPlotsOnlyTheWindow(t *testing.T) {
	to := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	from := to.Add(-24 * time.Hour)
	rows := []store.Stored{
		chartRow(from.Add(-time.Hour), 50),
		chartRow(from, 40),
		chartRow(from.Add(12*time.Hour), 20),
		chartRow(to, 45),
	}
	svg := string(RenderChart(rows, ChartOptions{Width: 848, Height: 448, From: from, To: to, ThresholdPSI: 30, Location: time.UTC}))
	if !strings.HasPrefix(svg, "<svg") || !strings.HasSuffix(svg, "</svg>") {
		t.Fatalf("expected a complete svg document")
	}
	start := strings.Index(svg, `points="`)
	if start < 0 {
		t.Fatalf("expected a pressure polyline")
	}
	points := strings.Fields(svg[start+len(`points="`) : start+strings.Index(svg[start:], `"/>`)])
	if len(points) != 2 {
		t.Fatalf("expected the two in-window points, got %v", points)
	}
	// Plot area is 788x400 starting at (48,12); y axis tops out at 50 psi.
	if points[0] != "48.0,92.0" || points[1] != "442.0,252.0" {
		t.Fatalf("unexpected coordinates %v", points)
	}
	if !strings.Contains(svg, `class="threshold" x1="48" y1="172.0"`) {
		t.Fatalf("expected the threshold at 30 psi")
	}
}

func TestRenderChartEmpty(t *testing.T) {
	to := time.Now()
	svg := string(RenderChart(nil, ChartOptions{From: to.Add(-7 * 24 * time.Hour), To: to, ThresholdPSI: 30}))
	if !strings.Contains(svg, "No readings") || strings.Contains(svg, "<polyline") {
		t.Fatalf("expected the empty placeholder")
	}
}

func TestRenderChartScalesToHighPressure(t *testing.T) {
	to := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	svg := string(RenderChart([]store.Stored{chartRow(to.Add(-time.Hour), 140)}, ChartOptions{From: to.Add(-2 * time.Hour), To: to}))
	// 140*1.1 rounds up to 160, labelled every 20 psi.
	for _, want := range []string{">160</text>", ">20</text>"} {
		if !strings.Contains(svg, want) {
			t.Fatalf("expected %q in axis labels", want)
		}
	}
	if strings.Contains(svg, ">10</text>") {
		t.Fatalf("expected 10 psi labels to be skipped")
	}
}

func TestChartTick(t *testing.T) {
	if chartTick(6*time.Hour) != time.Hour || chartTick(24*time.Hour) != 4*time.Hour || chartTick(7*24*time.Hour) != 24*time.Hour {
		t.Fatalf("unexpected tick selection")
	}
}

func TestRenderChartSkipsOutOfRangePressure(t *testing.T) {
	to := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	rows := []store.Stored{
		chartRow(to.Add(-4*time.Hour), 1.7e308),
		chartRow(to.Add(-3*time.Hour), math.Inf(1)),
		chartRow(to.Add(-2*time.Hour), math.NaN()),
		chartRow(to.Add(-time.Hour), 42),
	}
	done := make(chan string, 1)
	go func() {
		done <- string(RenderChart(rows, ChartOptions{From: to.Add(-6 * time.Hour), To: to, ThresholdPSI: math.Inf(1)}))
	}()
	var svg string
	select {
	case svg = <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("render did not finish")
	}
	start := strings.Index(svg, `points="`)
	if start < 0 {
		t.Fatalf("expected a pressure polyline")
	}
	points := strings.Fields(svg[start+len(`points="`) : start+strings.Index(svg[start:], `"/>`)])
	if len(points) != 1 {
		t.Fatalf("expected only the in-range point, got %v", points)
	}
	if strings.Contains(svg, `class="threshold"`) {
		t.Fatalf("expected no threshold line for a non-finite threshold")
	}
	if !strings.Contains(svg, ">50</text>") || strings.Contains(svg, ">60</text>") {
		t.Fatalf("expected the axis to top out at 50 psi")
	}
}
