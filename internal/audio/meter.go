// Package audio measures microphone loudness from raw PCM.
package audio

import (
	"context"
	"encoding/binary"
	"io"
	"math"

	"highwayhub/voice/internal/errors"
)

const ErrRead errors.Code = "pcm read failed"

// DefaultWindow is 20ms of 16kHz mono audio.
const DefaultWindow = 320

// RMS returns the root mean square of 16-bit little-endian mono samples,
// normalized so a full-scale square wave is 1. A trailing odd byte is ignored.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
		sum += s * s
	}
	v := math.Sqrt(sum/float64(n)) / 32768
	if v > 1 {
		return 1
	}
	return v
}

// Meter reads PCM in fixed windows and reports the level of each.
type Meter struct {
	// Window is the number of samples per level, DefaultWindow when zero.
	Window int
}

// Run reports one level per full window read from r until r is exhausted
// or ctx is done. A final partial window is reported as well.
func (m Meter) Run(ctx context.Context, r io.Reader, report func(level float64)) error {
	window := m.Window
	if window <= 0 {
		window = DefaultWindow
	}
	buf := make([]byte, 2*window)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			report(RMS(buf[:n]))
		}
		switch {
		case err == nil:
		case err == io.EOF || err == io.ErrUnexpectedEOF:
			return nil
		default:
			return errors.Wrap(ErrRead, err, "read pcm")
		}
	}
}
