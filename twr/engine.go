package twr

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ETH-PBL/UWB-DualAntenna-AoA/cir"
	"github.com/ETH-PBL/UWB-DualAntenna-AoA/dw3000"
	"github.com/ETH-PBL/UWB-DualAntenna-AoA/dwtime"
	"github.com/ETH-PBL/UWB-DualAntenna-AoA/rotator"
	"github.com/ETH-PBL/UWB-DualAntenna-AoA/telemetry"
)

// Radio is the driver surface the engine needs. *dw3000.Device
// implements it.
type Radio interface {
	SendNow(frame []byte, responseExpected bool) error
	SendDelayed(frame []byte, at dwtime.Ticks, responseExpected bool) error
	EnableRx() error
	ForceTRXOff()
	ReadRxData(dst []byte) error
	TxTimestamp() (dwtime.Ticks, error)
	RxTimestamp() (dwtime.Ticks, error)
	STSQuality() (score int32, index int16)
	ReadDiagnostics() (dw3000.Diagnostics, error)
	ReadAccumulator(dst []byte, sampleOffset int) error
}

type state uint8

const (
	stateSync state = iota
	statePollResponse
	stateFinal
	stateError
)

// Engine drives the four-frame ranging exchange for one role. All
// state is owned by the main loop; the only data shared with interrupt
// context is the inbox.
//
// Exactly one round is in flight at any time. A round is atomic: no
// individual frame is ever retried, every failure abandons the round
// and restarts from Sync.
type Engine struct {
	role  Role
	radio Radio
	inbox *Inbox

	// Console carries the protocol debug lines and, on the tag, the
	// measurement stream. The host parser ignores everything that is
	// not a BLOB header.
	Console *telemetry.Emitter
	Log     *log.Logger

	// CollectMeasurements enables per-frame diagnostics, CIR and
	// per-round record emission (the data-collection tag build).
	CollectMeasurements bool

	// Rotator, when set, advances the antenna sweep one degree every
	// RoundsPerDegree completed rounds.
	Rotator         *rotator.Rotator
	RoundsPerDegree int

	// ReplyDelay is the fixed turn-around of delayed transmissions,
	// measured from the receive timestamp of the frame being answered.
	ReplyDelay dwtime.Ticks
	// Timeout abandons the in-flight round once this much time has
	// passed since the last sync, whatever progress the round made.
	Timeout time.Duration
	// ErrorPause is the delay after an abandoned round, breaking the
	// symmetric failure loops two nodes can otherwise fall into.
	ErrorPause time.Duration
	// RoundPause is the tag's pause between successful rounds. It is
	// skipped after a round that advances the rotator.
	RoundPause time.Duration

	now   func() time.Time
	sleep func(time.Duration)

	state    state
	nextSeq  uint8
	lastSync time.Time
	count    uint16

	// Timestamps of the current round. Tag side.
	rxTPoll     dwtime.Ticks
	txTResponse dwtime.Ticks
	rxTFinal    dwtime.Ticks
	// Anchor side.
	txTPoll     dwtime.Ticks
	rxTResponse dwtime.Ticks
	txTFinal    dwtime.Ticks

	rxBuf  [FinalFrameLen + FCSLen]byte
	rxLen  int
	cirBuf [cir.AccumBytes + 1]byte
}

// New returns an engine with a 10 ms reply delay, a 1 s round timeout,
// a 5 ms round pause and an error pause of 200 ms (tag) or 500 ms
// (anchor).
func New(role Role, radio Radio, inbox *Inbox) *Engine {
	e := &Engine{
		role:       role,
		radio:      radio,
		inbox:      inbox,
		Log:        log.Default(),
		ReplyDelay: dwtime.Microseconds(10_000),
		Timeout:    time.Second,
		ErrorPause: 200 * time.Millisecond,
		RoundPause: 5 * time.Millisecond,
		now:        time.Now,
		sleep:      time.Sleep,
	}
	if role == Anchor {
		e.ErrorPause = 500 * time.Millisecond
	}
	return e
}

// Run executes ranging rounds until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.lastSync = e.now()
	if e.role == Anchor {
		if err := e.radio.EnableRx(); err != nil {
			return err
		}
		e.debugf("Waiting for frames\n")
	}
	for {
		select {
		case <-ctx.Done():
			e.radio.ForceTRXOff()
			return ctx.Err()
		default:
		}
		e.step()
		runtime.Gosched()
	}
}

// step runs one main-loop iteration: the liveness check, then the
// state handler of the current role.
func (e *Engine) step() {
	if e.now().Sub(e.lastSync) > e.Timeout {
		e.timeoutReset()
		return
	}
	switch e.role {
	case Tag:
		e.stepTag()
	case Anchor:
		e.stepAnchor()
	}
}

func (e *Engine) stepTag() {
	switch e.state {
	case stateSync:
		// Send sync frame (1/4).
		e.lastSync = e.now()
		f := MakeBase(Tag, FnSync, e.nextSeq)
		e.nextSeq++
		// Enter the next state before arming the radio so the
		// transmit-done interrupt lands in the new state.
		e.state = statePollResponse
		if err := e.radio.SendNow(f[:], true); err != nil {
			e.debugf("TX ERR: could not send sync frame\n")
			e.state = stateError
		}

	case statePollResponse:
		if e.inbox.TxLevel() == EventPosted {
			e.inbox.SetTxLevel(EventAccepted)
			e.debugf("TX: Sync frame\n")
		}

		// Wait for poll frame (2/4).
		if e.inbox.RxLevel() == EventPosted {
			e.inbox.SetRxLevel(EventIdle)
			if !e.acceptRx(BaseFrameLen, FnPoll, "Poll", true) {
				return
			}
			ts, err := e.radio.RxTimestamp()
			if err != nil {
				e.fail(err)
				return
			}
			e.rxTPoll = ts
			e.collect()
			e.nextSeq++
			e.inbox.SetRxLevel(EventAccepted)
		}

		if e.inbox.TxLevel() == EventAccepted && e.inbox.RxLevel() == EventAccepted {
			e.inbox.Clear()

			// Send response frame (3/4) at a fixed delay after the
			// poll arrived.
			f := MakeBase(Tag, FnResponse, e.nextSeq)
			e.nextSeq++
			e.state = stateFinal
			if err := e.radio.SendDelayed(f[:], e.rxTPoll.Add(e.ReplyDelay), true); err != nil {
				e.debugf("TX ERR: delayed send time missed\n")
				e.state = stateError
			}
		}

	case stateFinal:
		if e.inbox.TxLevel() == EventPosted {
			e.inbox.SetTxLevel(EventAccepted)
			e.debugf("TX: Response frame\n")
			ts, err := e.radio.TxTimestamp()
			if err != nil {
				e.fail(err)
				return
			}
			e.txTResponse = ts
		}

		// Wait for final frame (4/4).
		if e.inbox.RxLevel() == EventPosted {
			e.inbox.SetRxLevel(EventIdle)
			if !e.acceptRx(FinalFrameLen, FnFinal, "Final", true) {
				return
			}
			ts, err := e.radio.RxTimestamp()
			if err != nil {
				e.fail(err)
				return
			}
			e.rxTFinal = ts
			e.collect()
			e.nextSeq++
			e.inbox.SetRxLevel(EventAccepted)
		}

		if e.inbox.TxLevel() == EventAccepted && e.inbox.RxLevel() == EventAccepted {
			e.finishRound()
		}

	case stateError:
		e.errorReset()
	}
}

func (e *Engine) stepAnchor() {
	switch e.state {
	case stateSync:
		// Wait for sync frame (1/4).
		if e.inbox.RxLevel() != EventPosted {
			return
		}
		e.inbox.SetRxLevel(EventIdle)
		if !e.acceptRx(BaseFrameLen, FnSync, "Sync", false) {
			return
		}
		e.lastSync = e.now()

		// Send poll frame (2/4).
		f := MakeBase(Anchor, FnPoll, e.nextSeq)
		e.nextSeq++
		e.state = statePollResponse
		if err := e.radio.SendNow(f[:], true); err != nil {
			e.debugf("TX ERR: could not send poll frame\n")
			e.state = stateError
		}

	case statePollResponse:
		if e.inbox.TxLevel() == EventPosted {
			e.inbox.SetTxLevel(EventAccepted)
			e.debugf("TX: Poll frame\n")
			ts, err := e.radio.TxTimestamp()
			if err != nil {
				e.fail(err)
				return
			}
			e.txTPoll = ts
		}

		// Wait for response frame (3/4).
		if e.inbox.RxLevel() == EventPosted {
			e.inbox.SetRxLevel(EventIdle)
			if !e.acceptRx(BaseFrameLen, FnResponse, "Response", true) {
				return
			}
			ts, err := e.radio.RxTimestamp()
			if err != nil {
				e.fail(err)
				return
			}
			e.rxTResponse = ts
			e.nextSeq++
			e.inbox.SetRxLevel(EventAccepted)
		}

		if e.inbox.TxLevel() == EventAccepted && e.inbox.RxLevel() == EventAccepted {
			e.inbox.Clear()

			// Send final frame (4/4) at the time embedded into it.
			// The transmit timestamp is known in advance: the radio
			// starts the frame exactly at the delayed time.
			e.txTFinal = e.rxTResponse.Add(e.ReplyDelay)
			tround1 := e.rxTResponse.Sub(e.txTPoll)
			treply2 := e.txTFinal.Sub(e.rxTResponse)
			f := MakeFinal(e.nextSeq, tround1, treply2)
			e.nextSeq++
			e.state = stateFinal
			if err := e.radio.SendDelayed(f[:], e.txTFinal, true); err != nil {
				e.debugf("TX ERR: delayed send time missed\n")
				e.state = stateError
			}
		}

	case stateFinal:
		if e.inbox.TxLevel() == EventPosted {
			e.inbox.SetTxLevel(EventIdle)
			e.debugf("TX: Final frame\n")
			e.state = stateSync
		}

	case stateError:
		e.errorReset()
	}
}

// acceptRx validates the frame the receive interrupt announced and
// reads it into the receive buffer. Any failure abandons the round.
func (e *Engine) acceptRx(wantLen int, wantFn byte, name string, checkSeq bool) bool {
	n := e.inbox.RxFrameLen()
	if n != wantLen+FCSLen {
		e.debugf("RX ERR: wrong frame length\n")
		e.state = stateError
		return false
	}
	if score, _ := e.radio.STSQuality(); score < 0 {
		e.debugf("RX ERR: bad STS quality\n")
		e.state = stateError
		return false
	}
	if err := e.radio.ReadRxData(e.rxBuf[:n]); err != nil {
		e.fail(err)
		return false
	}
	e.rxLen = n
	seq, err := CheckBase(e.rxBuf[:n], wantFn)
	if err != nil {
		if err == ErrFunctionCode {
			e.debugf("RX ERR: wrong frame (expected %s)\n", strings.ToLower(name))
		} else {
			e.debugf("RX ERR: wrong frame control\n")
		}
		e.state = stateError
		return false
	}
	if checkSeq {
		if seq != e.nextSeq {
			e.debugf("RX ERR: wrong sequence number\n")
			e.state = stateError
			return false
		}
	} else {
		// The sync frame seeds the sequence counter for this round.
		e.nextSeq = seq + 1
	}
	e.debugf("RX: %s frame\n", name)
	return true
}

// collect emits the per-frame measurement set: the marker line for the
// host parsing script, the diagnostics records and the raw CIR.
func (e *Engine) collect() {
	if !e.CollectMeasurements || e.Console == nil {
		return
	}
	e.Console.Printf("New Frame: poll: %d\n", e.nextSeq)
	diag, err := e.radio.ReadDiagnostics()
	if err != nil {
		e.Log.Error("diagnostics read failed", "err", err)
		return
	}
	score, index := e.radio.STSQuality()
	if err := e.Console.EmitDiagnostics(&diag, score, index); err != nil {
		e.Log.Error("telemetry write failed", "err", err)
		return
	}
	if err := e.radio.ReadAccumulator(e.cirBuf[:], 0); err != nil {
		e.Log.Error("accumulator read failed", "err", err)
		return
	}
	if err := e.Console.EmitCIR(e.cirBuf[1:]); err != nil {
		e.Log.Error("telemetry write failed", "err", err)
	}
}

// finishRound derives the range from the four intervals of the
// completed exchange and emits the round record. Tag only.
func (e *Engine) finishRound() {
	treply1 := e.txTResponse.Sub(e.rxTPoll)
	tround2 := e.rxTFinal.Sub(e.txTResponse)
	tround1, treply2 := FinalTimes(e.rxBuf[:e.rxLen])
	dist := DistanceMM(tround1, tround2, treply1, treply2)

	var rotation uint16
	var fullRotations uint8
	if e.Rotator != nil {
		rotation = e.Rotator.Angle()
		fullRotations = e.Rotator.FullRotations()
	}

	if e.CollectMeasurements && e.Console != nil {
		rec := telemetry.TWRRecord{
			Treply1:     uint64(treply1),
			Treply2:     uint64(treply2),
			Tround1:     uint64(tround1),
			Tround2:     uint64(tround2),
			DistMM:      dist,
			Count:       e.count,
			RotationDeg: rotation,
		}
		if err := e.Console.EmitTWR(&rec); err != nil {
			e.Log.Error("telemetry write failed", "err", err)
		}
		e.debugf("twr_count: %d, dist_mm: %d\n", e.count, dist)
		e.debugf("rotation: %d, 360_count: %d\n", rotation, fullRotations)
	} else {
		e.debugf("dist_mm: %d\n", dist)
	}

	e.count++
	if e.Rotator != nil && e.RoundsPerDegree > 0 && e.count%uint16(e.RoundsPerDegree) == 0 {
		if err := e.Rotator.Advance(); err != nil {
			e.Log.Error("rotator failed", "err", err)
		}
	} else {
		e.sleep(e.RoundPause)
	}

	// Begin the next ranging exchange.
	e.inbox.Clear()
	e.state = stateSync
}

// timeoutReset abandons the in-flight round: transceiver off, flags and
// timestamps cleared, back to Sync.
func (e *Engine) timeoutReset() {
	e.radio.ForceTRXOff()
	e.lastSync = e.now()
	e.debugf("Timeout -> reset\n")
	e.state = stateSync
	e.clearRound()
	if e.role == Anchor {
		if err := e.radio.EnableRx(); err != nil {
			e.Log.Error("rx enable failed", "err", err)
		}
	}
}

// errorReset leaves the error state: log, pause long enough to break a
// symmetric failure loop with the peer, restart from Sync.
func (e *Engine) errorReset() {
	if e.role == Tag {
		e.radio.ForceTRXOff()
	}
	e.debugf("Ranging error -> reset\n")
	e.clearRound()
	e.state = stateSync
	e.sleep(e.ErrorPause)
	if e.role == Anchor {
		if err := e.radio.EnableRx(); err != nil {
			e.Log.Error("rx enable failed", "err", err)
		}
	}
	e.lastSync = e.now()
}

func (e *Engine) clearRound() {
	e.rxTPoll, e.txTResponse, e.rxTFinal = 0, 0, 0
	e.txTPoll, e.rxTResponse, e.txTFinal = 0, 0, 0
	e.inbox.Clear()
}

func (e *Engine) fail(err error) {
	e.Log.Error("radio access failed", "err", err)
	e.state = stateError
}

// debugf writes a protocol debug line to the serial console, falling
// back to the logger when no console is attached.
func (e *Engine) debugf(format string, args ...any) {
	if e.Console != nil {
		e.Console.Printf(format, args...)
		return
	}
	e.Log.Print(strings.TrimSuffix(fmt.Sprintf(format, args...), "\n"))
}
