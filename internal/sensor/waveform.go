package sensor

import (
	"time"

	"github.com/jpalmerr/dhtlink/internal/pulse"
)

// Nominal DHT11 pulse widths, used to synthesise waveforms for simulation.
const (
	releaseWidth  = 30 * time.Microsecond
	presenceWidth = 80 * time.Microsecond
	readyWidth    = 80 * time.Microsecond
	gapWidth      = 50 * time.Microsecond
	zeroWidth     = 26 * time.Microsecond
	oneWidth      = 70 * time.Microsecond
)

// Frame builds the five bytes a sensor sends for the given reading,
// including a valid checksum.
func Frame(humidity, temperature uint8) [5]byte {
	return [5]byte{humidity, 0, temperature, 0, humidity + temperature}
}

// Waveform returns the line levels a sensor produces after the host releases
// the line, for the given frame bytes.
func Waveform(data [5]byte) []pulse.Segment {
	segs := make([]pulse.Segment, 0, 3+2*FrameBits+1)
	segs = append(segs,
		pulse.Segment{Level: pulse.High, Duration: releaseWidth},
		pulse.Segment{Level: pulse.Low, Duration: presenceWidth},
		pulse.Segment{Level: pulse.High, Duration: readyWidth},
	)

	for i := 0; i < FrameBits; i++ {
		width := zeroWidth
		if data[i/8]&(0x80>>(i%8)) != 0 {
			width = oneWidth
		}
		segs = append(segs,
			pulse.Segment{Level: pulse.Low, Duration: gapWidth},
			pulse.Segment{Level: pulse.High, Duration: width},
		)
	}

	// end-of-frame low before the sensor lets the line float high
	return append(segs, pulse.Segment{Level: pulse.Low, Duration: gapWidth})
}
