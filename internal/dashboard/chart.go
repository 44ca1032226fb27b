// v2
// internal/dashboard/chart.go
package dashboard

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"homemon/internal/reading"
	"homemon/internal/store"
)

// ChartOptions frames the pressure history chart.
type ChartOptions struct {
	Width, Height int
	From, To      time.Time
	ThresholdPSI  float64
	Location      *time.Location
}

const (
	chartMarginLeft   = 48
	chartMarginRight  = 12
	chartMarginTop    = 12
	chartMarginBottom = 36
	chartLineColor    = "#17B897"
	chartLimitColor   = "#d62728"
)

// RenderChart draws the readings in [From, To) as an SVG line chart with the
// on-threshold as a dashed line. The y axis starts at zero and grows in
// 10 psi steps to fit the data and the threshold.
func RenderChart(rows []store.Stored, opts ChartOptions) []byte {
	if opts.Width <= 0 {
		opts.Width = 800
	}
	if opts.Height <= 0 {
		opts.Height = 400
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if !opts.To.After(opts.From) {
		opts.From = opts.To.Add(-24 * time.Hour)
	}

	inWindow := make([]store.Stored, 0, len(rows))
	maxPSI := 0.0
	if reading.ValidPressure(opts.ThresholdPSI) {
		maxPSI = opts.ThresholdPSI
	}
	for _, r := range rows {
		if r.Timestamp.Before(opts.From) || !r.Timestamp.Before(opts.To) {
			continue
		}
		// Rows stored before the wire bounds existed may be out of range.
		if !reading.ValidPressure(r.Pressure) {
			continue
		}
		inWindow = append(inWindow, r)
		maxPSI = math.Max(maxPSI, r.Pressure)
	}
	top := math.Max(10, math.Ceil(maxPSI*1.1/10)*10)
	step := 10.0
	for top/step > 10 {
		step *= 2
	}

	plotW := float64(opts.Width - chartMarginLeft - chartMarginRight)
	plotH := float64(opts.Height - chartMarginTop - chartMarginBottom)
	span := opts.To.Sub(opts.From).Seconds()

	psiToY := func(p float64) float64 {
		return chartMarginTop + plotH - p/top*plotH
	}
	timeToX := func(t time.Time) float64 {
		return chartMarginLeft + t.Sub(opts.From).Seconds()/span*plotW
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "<svg xmlns=\"http://www.w3.org/2000/svg\" width=\"%d\" height=\"%d\" viewBox=\"0 0 %d %d\" font-family=\"sans-serif\" font-size=\"11\">\n",
		opts.Width, opts.Height, opts.Width, opts.Height)
	fmt.Fprintf(&buf, "<rect width=\"%d\" height=\"%d\" fill=\"white\"/>\n", opts.Width, opts.Height)

	buf.WriteString("<g stroke=\"#ddd\" stroke-width=\"1\">\n")
	for p := 0.0; p <= top; p += step {
		y := psiToY(p)
		fmt.Fprintf(&buf, "<line x1=\"%d\" y1=\"%.1f\" x2=\"%.1f\" y2=\"%.1f\"/>\n", chartMarginLeft, y, chartMarginLeft+plotW, y)
	}
	tick := chartTick(opts.To.Sub(opts.From))
	for t := opts.From.Truncate(tick).Add(tick); t.Before(opts.To); t = t.Add(tick) {
		x := timeToX(t)
		fmt.Fprintf(&buf, "<line x1=\"%.1f\" y1=\"%d\" x2=\"%.1f\" y2=\"%.1f\"/>\n", x, chartMarginTop, x, chartMarginTop+plotH)
	}
	buf.WriteString("</g>\n")

	buf.WriteString("<g fill=\"#444\">\n")
	for p := 0.0; p <= top; p += step {
		fmt.Fprintf(&buf, "<text x=\"%d\" y=\"%.1f\" text-anchor=\"end\">%.0f</text>\n", chartMarginLeft-6, psiToY(p)+4, p)
	}
	layout := "Jan 2"
	if tick < 24*time.Hour {
		layout = "15:04"
	}
	for t := opts.From.Truncate(tick).Add(tick); t.Before(opts.To); t = t.Add(tick) {
		fmt.Fprintf(&buf, "<text x=\"%.1f\" y=\"%.1f\" text-anchor=\"middle\">%s</text>\n", timeToX(t), chartMarginTop+plotH+16, t.In(opts.Location).Format(layout))
	}
	fmt.Fprintf(&buf, "<text x=\"12\" y=\"%.1f\" transform=\"rotate(-90 12 %.1f)\" text-anchor=\"middle\">Pressure [psi]</text>\n",
		chartMarginTop+plotH/2, chartMarginTop+plotH/2)
	buf.WriteString("</g>\n")

	if opts.ThresholdPSI > 0 && opts.ThresholdPSI <= top {
		y := psiToY(opts.ThresholdPSI)
		fmt.Fprintf(&buf, "<line class=\"threshold\" x1=\"%d\" y1=\"%.1f\" x2=\"%.1f\" y2=\"%.1f\" stroke=\"%s\" stroke-dasharray=\"6 4\"/>\n",
			chartMarginLeft, y, chartMarginLeft+plotW, y, chartLimitColor)
	}

	var points bytes.Buffer
	n := 0
	for _, r := range inWindow {
		if n > 0 {
			points.WriteByte(' ')
		}
		fmt.Fprintf(&points, "%.1f,%.1f", timeToX(r.Timestamp), psiToY(r.Pressure))
		n++
	}
	if n > 0 {
		fmt.Fprintf(&buf, "<polyline class=\"pressure\" fill=\"none\" stroke=\"%s\" stroke-width=\"2\" points=\"%s\"/>\n", chartLineColor, points.String())
	} else {
		fmt.Fprintf(&buf, "<text x=\"%.1f\" y=\"%.1f\" text-anchor=\"middle\" fill=\"#888\">No readings</text>\n",
			chartMarginLeft+plotW/2, chartMarginTop+plotH/2)
	}

	buf.WriteString("</svg>")
	return buf.Bytes()
}

func chartTick(window time.Duration) time.Duration {
	switch {
	case window <= 12*time.Hour:
		return time.Hour
	case window <= 2*24*time.Hour:
		return 4 * time.Hour
	default:
		return 24 * time.Hour
	}
}
