// package node wires the radio, the event inbox, the telemetry link
// and the ranging engine into the runnable applications.
package node

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tarm/serial"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"

	"github.com/ETH-PBL/UWB-DualAntenna-AoA/dw3000"
	"github.com/ETH-PBL/UWB-DualAntenna-AoA/dwtime"
	"github.com/ETH-PBL/UWB-DualAntenna-AoA/rotator"
	"github.com/ETH-PBL/UWB-DualAntenna-AoA/telemetry"
	"github.com/ETH-PBL/UWB-DualAntenna-AoA/twr"
)

// Node is one brought-up radio board with its telemetry link.
type Node struct {
	Dev     *dw3000.Device
	Console *telemetry.Emitter
	Inbox   *twr.Inbox
	Log     *log.Logger

	uart io.Closer
}

// bringUp claims the serial link and the radio and takes the chip
// through reset, IDLE_RC, init and configure.
func bringUp(cfg Config, banner string) (*Node, error) {
	lg := log.Default()

	var w io.Writer = os.Stdout
	var uart io.Closer
	if cfg.Serial.Port != "" {
		s, err := serial.OpenPort(&serial.Config{Name: cfg.Serial.Port, Baud: cfg.Serial.Baud})
		if err != nil {
			return nil, fmt.Errorf("node: %w", err)
		}
		w = s
		uart = s
	}
	console := telemetry.New(w)
	console.Printf("%s\n", banner)

	dev, err := dw3000.Open(dw3000.Options{
		SPIPort:  cfg.SPI.Port,
		SPISpeed: physic.Frequency(cfg.SPI.SpeedMHz) * physic.MegaHertz,
		IRQ:      cfg.Pins.IRQ,
		Reset:    cfg.Pins.Reset,
		Log:      lg,
	})
	if err != nil {
		if uart != nil {
			uart.Close()
		}
		return nil, err
	}

	n := &Node{Dev: dev, Console: console, Inbox: &twr.Inbox{}, Log: lg, uart: uart}

	if err := dev.Reset(); err != nil {
		n.Close()
		return nil, err
	}
	if err := dev.Init(); err != nil {
		console.Printf("INIT FAILED\n")
		n.Close()
		return nil, err
	}
	console.Printf("INITIALIZED\n")

	// Blink on every receiver enable, visible on the eval shield.
	if err := dev.SetLEDs(dw3000.LEDsEnable | dw3000.LEDsInitBlink); err != nil {
		n.Close()
		return nil, err
	}

	if err := dev.Configure(cfg.Radio); err != nil {
		console.Printf("CONFIG FAILED\n")
		n.Close()
		return nil, err
	}
	console.Printf("CONFIGURED\n")
	return n, nil
}

// Open runs the full one-shot bring-up for a ranging role: bringUp,
// then callbacks, interrupt enable, latched-status clear, interrupt
// service and diagnostics logging.
func Open(cfg Config, role twr.Role, banner string) (*Node, error) {
	n, err := bringUp(cfg, banner)
	if err != nil {
		return nil, err
	}
	dev := n.Dev

	// Receive errors and timeouts restart reception directly; the
	// engine only learns of the lost reply through the round timeout.
	rxErr := func() {
		dev.ForceTRXOff()
		dev.EnableRx()
	}
	if role == twr.Anchor {
		rxErr = func() { dev.EnableRx() }
	}
	dev.SetCallbacks(n.Inbox.PostTxDone, n.Inbox.PostRx, rxErr)

	if err := dev.SetInterrupts(dw3000.EvtRanging); err != nil {
		n.Close()
		return nil, err
	}
	if err := dev.ClearSPIReady(); err != nil {
		n.Close()
		return nil, err
	}
	dev.StartInterrupts()

	if err := dev.ConfigCIADiag(dw3000.CIADiagLogAll); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

func (n *Node) Close() {
	n.Dev.Close()
	if n.uart != nil {
		n.uart.Close()
	}
}

func (n *Node) engine(cfg Config, role twr.Role) *twr.Engine {
	e := twr.New(role, n.Dev, n.Inbox)
	e.Console = n.Console
	e.Log = n.Log
	e.ReplyDelay = dwtime.Microseconds(cfg.Ranging.ReplyDelayUS)
	e.Timeout = time.Duration(cfg.Ranging.TimeoutMS) * time.Millisecond
	e.ErrorPause = time.Duration(cfg.Ranging.ErrorPauseMS) * time.Millisecond
	e.RoundPause = time.Duration(cfg.Ranging.RoundPauseMS) * time.Millisecond
	e.CollectMeasurements = cfg.Collect
	return e
}

// RunTag ranges as the dual-antenna initiator until the context is
// cancelled.
func RunTag(ctx context.Context, cfg Config) error {
	n, err := Open(cfg, twr.Tag, "DW3000 TEST TWR Tag")
	if err != nil {
		return err
	}
	defer n.Close()

	e := n.engine(cfg, twr.Tag)

	if cfg.Rotate.Enabled {
		step := gpioreg.ByName(cfg.Pins.MotorStep)
		dir := gpioreg.ByName(cfg.Pins.MotorDir)
		if step == nil || dir == nil {
			return fmt.Errorf("node: rotator pins %q/%q not found", cfg.Pins.MotorStep, cfg.Pins.MotorDir)
		}
		mode := rotator.Sweep
		if cfg.Rotate.Wrap {
			mode = rotator.Wrap
		}
		e.Rotator = rotator.New(step, dir, mode)
		e.RoundsPerDegree = cfg.Rotate.RoundsPerDegree
	}

	if cfg.Ranging.SettleMS > 0 {
		n.Console.Printf("Wait %ds before starting...", cfg.Ranging.SettleMS/1000)
		time.Sleep(time.Duration(cfg.Ranging.SettleMS) * time.Millisecond)
	}
	if cfg.Rotate.Enabled {
		n.Console.Printf("Config: twr/angle: %d\n", cfg.Rotate.RoundsPerDegree)
	} else {
		n.Console.Printf("Config: twr/angle: -\n")
	}

	return e.Run(ctx)
}

// RunAnchor responds to ranging exchanges until the context is
// cancelled.
func RunAnchor(ctx context.Context, cfg Config) error {
	n, err := Open(cfg, twr.Anchor, "DW3000 TEST TWR Anchor")
	if err != nil {
		return err
	}
	defer n.Close()

	return n.engine(cfg, twr.Anchor).Run(ctx)
}
