package twr

import "sync/atomic"

// Event levels of the inbox flags.
//
// A flag moves 0 -> 1 when the interrupt service posts an event,
// 1 -> 2 when the main loop accepts it while waiting for the paired
// event, and back to 0 when both events of a protocol step have been
// consumed. The intermediate level is what lets the engine require both
// "transmission finished" and "reply arrived" without losing either
// event if they land in the opposite order.
const (
	EventIdle     = 0
	EventPosted   = 1
	EventAccepted = 2
)

// Inbox carries radio events from the interrupt context to the engine.
// It is single-producer, single-consumer: the interrupt side only posts,
// the engine side only reads and rewrites levels. The atomics provide
// the release/acquire ordering the two sides need; there is at most one
// un-consumed event per kind.
//
// Receive errors never post an event. The error callback restarts the
// receiver directly and the engine learns of the lost reply only
// through the round timeout.
type Inbox struct {
	txDone atomic.Uint32
	rxDone atomic.Uint32
	rxLen  atomic.Uint32
}

// PostTxDone signals a completed transmission. Interrupt side.
func (in *Inbox) PostTxDone() {
	in.txDone.Store(EventPosted)
}

// PostRx signals a good received frame of n bytes (FCS included).
// Interrupt side.
func (in *Inbox) PostRx(n int) {
	in.rxLen.Store(uint32(n))
	in.rxDone.Store(EventPosted)
}

// TxLevel returns the current level of the transmit-done flag.
func (in *Inbox) TxLevel() uint32 {
	return in.txDone.Load()
}

// RxLevel returns the current level of the receive-done flag.
func (in *Inbox) RxLevel() uint32 {
	return in.rxDone.Load()
}

// RxFrameLen returns the length posted with the last receive event.
// Only valid while the receive flag is not idle.
func (in *Inbox) RxFrameLen() int {
	return int(in.rxLen.Load())
}

// SetTxLevel rewrites the transmit-done flag. Engine side.
func (in *Inbox) SetTxLevel(v uint32) {
	in.txDone.Store(v)
}

// SetRxLevel rewrites the receive-done flag. Engine side.
func (in *Inbox) SetRxLevel(v uint32) {
	in.rxDone.Store(v)
}

// Clear resets both flags to idle.
func (in *Inbox) Clear() {
	in.txDone.Store(EventIdle)
	in.rxDone.Store(EventIdle)
}
