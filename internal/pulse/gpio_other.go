//go:build !linux

package pulse

import "errors"

// ErrGPIOUnsupported is returned by [OpenGPIO] off Linux.
var ErrGPIOUnsupported = errors.New("gpio character devices require linux")

// GPIOLine is only available on Linux.
type GPIOLine struct{}

// OpenGPIO always fails off Linux.
func OpenGPIO(chip string, offset int) (*GPIOLine, error) {
	return nil, ErrGPIOUnsupported
}

func (g *GPIOLine) Drive(Level) error { return ErrGPIOUnsupported }
func (g *GPIOLine) Release() error    { return ErrGPIOUnsupported }
func (g *GPIOLine) Level() Level      { return High }
func (g *GPIOLine) Close() error      { return nil }
