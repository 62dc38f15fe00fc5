//go:build linux

package indicator

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

const buttonDebounce = 50 * time.Millisecond

// Open requests the LED line on chip. When buttonLine is not negative, a falling
// edge on that input calls onPress.
func Open(chip string, ledLine, buttonLine int, hold time.Duration, onPress func()) (*Indicator, error) {
	led, err := gpiocdev.RequestLine(chip, ledLine, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("failed to request LED line %d on %s: %w", ledLine, chip, err)
	}
	ind := newIndicator(led, hold)

	if buttonLine >= 0 {
		button, err := gpiocdev.RequestLine(chip, buttonLine,
			gpiocdev.AsInput,
			gpiocdev.WithPullUp,
			gpiocdev.WithFallingEdge,
			gpiocdev.WithDebounce(buttonDebounce),
			gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
				slog.Info("Stop button pressed", "line", evt.Offset)
				if onPress != nil {
					onPress()
				}
			}),
		)
		if err != nil {
			led.Close()
			return nil, fmt.Errorf("failed to request button line %d on %s: %w", buttonLine, chip, err)
		}
		ind.button = button
	}

	slog.Info("Indicator ready", "chip", chip, "led", ledLine, "button", buttonLine)
	return ind, nil
}
