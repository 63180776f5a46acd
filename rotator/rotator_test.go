package rotator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

type fakePin struct {
	name   string
	levels []gpio.Level
}

func (p *fakePin) String() string   { return p.name }
func (p *fakePin) Halt() error      { return nil }
func (p *fakePin) Name() string     { return p.name }
func (p *fakePin) Number() int      { return 0 }
func (p *fakePin) Function() string { return "Out" }
func (p *fakePin) Out(l gpio.Level) error {
	p.levels = append(p.levels, l)
	return nil
}
func (p *fakePin) PWM(gpio.Duty, physic.Frequency) error { return nil }

func newTestRotator(mode Mode) (*Rotator, *fakePin, *fakePin, *[]time.Duration) {
	step := &fakePin{name: "STEP"}
	dir := &fakePin{name: "DIR"}
	r := New(step, dir, mode)
	var slept []time.Duration
	r.sleep = func(d time.Duration) { slept = append(slept, d) }
	return r, step, dir, &slept
}

func TestRotatePulses(t *testing.T) {
	r, step, dir, slept := newTestRotator(Wrap)

	if err := r.Rotate(2); err != nil {
		t.Fatal(err)
	}
	// DIR low selects positive rotation; one 40ms/40ms pulse per
	// degree.
	assert.Equal(t, []gpio.Level{gpio.Low}, dir.levels)
	assert.Equal(t, []gpio.Level{gpio.High, gpio.Low, gpio.High, gpio.Low}, step.levels)
	assert.Len(t, *slept, 4)
	for _, d := range *slept {
		assert.Equal(t, 40*time.Millisecond, d)
	}
}

func TestRotateNegative(t *testing.T) {
	r, step, dir, _ := newTestRotator(Wrap)

	if err := r.Rotate(-1); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, []gpio.Level{gpio.High}, dir.levels)
	assert.Len(t, step.levels, 2)
}

func TestRotateZero(t *testing.T) {
	r, step, dir, _ := newTestRotator(Wrap)
	if err := r.Rotate(0); err != nil {
		t.Fatal(err)
	}
	assert.Empty(t, step.levels)
	assert.Empty(t, dir.levels)
}

func TestWrapMode(t *testing.T) {
	r, _, _, _ := newTestRotator(Wrap)

	for i := 0; i < 720; i++ {
		if err := r.Advance(); err != nil {
			t.Fatal(err)
		}
	}
	// The angle grows monotonically; the revolution counter is bumped
	// by the step that leaves a positive multiple of 360, so at 720 it
	// has counted only the first revolution.
	assert.Equal(t, uint16(720), r.Angle())
	assert.Equal(t, uint8(1), r.FullRotations())

	if err := r.Advance(); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, uint16(721), r.Angle())
	assert.Equal(t, uint8(2), r.FullRotations())
}

func TestSweepMode(t *testing.T) {
	r, _, dir, _ := newTestRotator(Sweep)

	for i := 0; i < 360; i++ {
		if err := r.Advance(); err != nil {
			t.Fatal(err)
		}
	}
	assert.Equal(t, uint16(360), r.Angle())
	assert.Equal(t, uint8(0), r.FullRotations())

	// The direction reverses at 360 degrees.
	if err := r.Advance(); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, uint16(359), r.Angle())
	assert.Equal(t, uint8(1), r.FullRotations())
	assert.Equal(t, gpio.High, dir.levels[len(dir.levels)-1])

	for i := 0; i < 359; i++ {
		if err := r.Advance(); err != nil {
			t.Fatal(err)
		}
	}
	assert.Equal(t, uint16(0), r.Angle())

	// And turns positive again at zero.
	if err := r.Advance(); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, uint16(1), r.Angle())
	assert.Equal(t, gpio.Low, dir.levels[len(dir.levels)-1])
}
