// package rotator drives the stepper that sweeps the dual-antenna
// receiver between ranging rounds.
//
// The driver expects one pulse per degree on the STEP line, 40 ms high
// and 40 ms low; the DIR line low selects positive rotation.
package rotator

import (
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Mode selects how the sweep progresses.
type Mode uint8

const (
	// Wrap rotates continuously in one direction, counting full
	// revolutions.
	Wrap Mode = iota
	// Sweep rotates to 360 degrees and back to zero.
	Sweep
)

// Rotator advances the antenna one degree at a time.
type Rotator struct {
	step gpio.PinOut
	dir  gpio.PinOut
	mode Mode

	sleep func(time.Duration)

	angle         int
	direction     int
	fullRotations uint8
}

func New(step, dir gpio.PinOut, mode Mode) *Rotator {
	return &Rotator{
		step:      step,
		dir:       dir,
		mode:      mode,
		sleep:     time.Sleep,
		direction: 1,
	}
}

// Angle returns the current sweep position in degrees.
func (r *Rotator) Angle() uint16 {
	return uint16(r.angle)
}

// FullRotations returns the number of completed revolutions.
func (r *Rotator) FullRotations() uint8 {
	return r.fullRotations
}

// Advance moves the sweep by one degree according to the mode.
func (r *Rotator) Advance() error {
	switch r.mode {
	case Wrap:
		if r.angle > 0 && r.angle%360 == 0 {
			r.fullRotations++
		}
		r.angle += r.direction
	case Sweep:
		switch r.angle {
		case 0:
			r.direction = 1
			r.angle++
		case 360:
			r.direction = -1
			r.angle--
			r.fullRotations++
		default:
			r.angle += r.direction
		}
	}
	return r.Rotate(r.direction)
}

// Rotate turns the given number of degrees; negative values reverse
// the direction.
func (r *Rotator) Rotate(degrees int) error {
	if degrees == 0 {
		return nil
	}
	level := gpio.Low
	if degrees < 0 {
		level = gpio.High
		degrees = -degrees
	}
	if err := r.dir.Out(level); err != nil {
		return err
	}
	for i := 0; i < degrees; i++ {
		if err := r.step.Out(gpio.High); err != nil {
			return err
		}
		r.sleep(40 * time.Millisecond)
		if err := r.step.Out(gpio.Low); err != nil {
			return err
		}
		r.sleep(40 * time.Millisecond)
	}
	return nil
}
