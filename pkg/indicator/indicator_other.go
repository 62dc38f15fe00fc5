//go:build !linux

package indicator

import (
	"errors"
	"time"
)

// Open is only available on Linux.
func Open(chip string, ledLine, buttonLine int, hold time.Duration, onPress func()) (*Indicator, error) {
	return nil, errors.New("GPIO indicator requires linux")
}
