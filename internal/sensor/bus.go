// v0
// internal/sensor/bus.go
package sensor

import (
	"fmt"
	"io"

	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/host"
	"tinygo.org/x/drivers"
)

// Bus is an opened host I2C bus usable by tinygo-style drivers.
type Bus interface {
	drivers.I2C
	io.Closer
}

// OpenBus initialises the periph host drivers and opens the named I2C bus.
// An empty name selects the first bus found.
func OpenBus(name string) (Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	b, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", name, err)
	}
	return b, nil
}
