package pulse

import (
	"fmt"

	gpiod "github.com/warthog618/go-gpiocdev"
)

// GPIOLine is a [Line] on a Linux GPIO character device. Drive and Release
// reconfigure the requested line in place, so the offset is held for the
// lifetime of the GPIOLine.
type GPIOLine struct {
	line *gpiod.Line
}

// OpenGPIO requests offset on chip (e.g. "gpiochip0") as an input with the
// pull-up enabled, which is the idle state of the sensor bus.
func OpenGPIO(chip string, offset int) (*GPIOLine, error) {
	l, err := gpiod.RequestLine(chip, offset,
		gpiod.AsInput,
		gpiod.WithPullUp,
		gpiod.WithConsumer("dhtlink"),
	)
	if err != nil {
		return nil, fmt.Errorf("request %s line %d: %w", chip, offset, err)
	}
	return &GPIOLine{line: l}, nil
}

// Drive switches the line to output and holds level.
func (g *GPIOLine) Drive(level Level) error {
	v := 0
	if level {
		v = 1
	}
	if err := g.line.Reconfigure(gpiod.AsOutput(v)); err != nil {
		return fmt.Errorf("drive %s: %w", level, err)
	}
	return nil
}

// Release switches the line back to a pulled-up input.
func (g *GPIOLine) Release() error {
	if err := g.line.Reconfigure(gpiod.AsInput, gpiod.WithPullUp); err != nil {
		return fmt.Errorf("release: %w", err)
	}
	return nil
}

// Level samples the line. A failed read reports high, which the decoder
// sees as the bus idling and times out on.
func (g *GPIOLine) Level() Level {
	v, err := g.line.Value()
	if err != nil {
		return High
	}
	return v != 0
}

// Close releases the line back to the kernel.
func (g *GPIOLine) Close() error {
	return g.line.Close()
}
