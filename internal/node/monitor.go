// v1
// internal/node/monitor.go
package node

import (
	"context"
	"log/slog"
	"time"

	"homemon/internal/reading"
)

type taker interface {
	Take(ctx context.Context) (reading.Reading, error)
}

// Monitor samples on a fixed interval, appends each reading to the CSV log
// and publishes it. A failed cycle is logged and the loop carries on.
type Monitor struct {
	sampler  taker
	csv      *CSVLog
	pub      Publisher
	interval time.Duration
	log      *slog.Logger
}

// NewMonitor builds a monitor. csv and pub may be nil.
func NewMonitor(s taker, csv *CSVLog, pub Publisher, interval time.Duration, log *slog.Logger) *Monitor {
	return &Monitor{sampler: s, csv: csv, pub: pub, interval: interval, log: log.With("component", "monitor")}
}

// Run takes a reading immediately and then once per interval.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		_, _ = m.Once(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Once runs a single sample/log/publish cycle.
func (m *Monitor) Once(ctx context.Context) (reading.Reading, error) {
	r, err := m.sampler.Take(ctx)
	if err != nil {
		m.log.Warn("monitor_sample_failed", slog.Any("err", err))
		return reading.Reading{}, err
	}
	m.log.Info("monitor_reading",
		slog.Time("datetime", r.Timestamp),
		slog.Int64("rawvalue", r.RawValue),
		slog.String("voltage", formatFloat(r.Voltage, 3)),
		slog.String("pressure", formatFloat(r.Pressure, 2)),
	)
	if m.csv != nil {
		if err := m.csv.Append(r); err != nil {
			m.log.Error("monitor_csv_failed", slog.String("path", m.csv.Path()), slog.Any("err", err))
		}
	}
	if m.pub != nil {
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := m.pub.Publish(pctx, r)
		cancel()
		if err != nil {
			m.log.Error("monitor_publish_failed", slog.Any("err", err))
		}
	}
	return r, nil
}
