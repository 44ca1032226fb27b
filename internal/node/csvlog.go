// v1
// internal/node/csvlog.go
package node

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"homemon/internal/reading"
)

var csvHeader = []string{"Timestamp", "Raw Value", "Voltage [V]", "Pressure [psi]"}

// CSVLog appends readings to a CSV file, writing the header when the file
// is created.
type CSVLog struct {
	mu   sync.Mutex
	path string
}

func NewCSVLog(path string) *CSVLog {
	return &CSVLog{path: path}
}

func (c *CSVLog) Path() string { return c.path }

func (c *CSVLog) Append(r reading.Reading) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create csv dir: %w", err)
	}
	_, err := os.Stat(c.path)
	fresh := errors.Is(err, fs.ErrNotExist)
	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	w := csv.NewWriter(f)
	if fresh {
		_ = w.Write(csvHeader)
	}
	_ = w.Write(csvRow(r))
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write csv: %w", err)
	}
	return f.Close()
}

func csvRow(r reading.Reading) []string {
	return []string{
		r.Timestamp.UTC().Format(reading.WireTimeLayout),
		strconv.FormatInt(r.RawValue, 10),
		strconv.FormatFloat(r.Voltage, 'f', 5, 64),
		strconv.FormatFloat(r.Pressure, 'f', 2, 64),
	}
}
