package node

import (
	"context"
	"runtime"
	"time"

	"github.com/ETH-PBL/UWB-DualAntenna-AoA/cir"
	"github.com/ETH-PBL/UWB-DualAntenna-AoA/dw3000"
	"github.com/ETH-PBL/UWB-DualAntenna-AoA/twr"
)

// The demo roles exercise the radio facade one concern at a time and
// are useful when bringing up a new board: reception, the accumulator
// path, the diagnostics set and transmission scheduling.

// RunRxDemo receives frames by polling the status register, without
// interrupts, and reports each good frame.
func RunRxDemo(ctx context.Context, cfg Config) error {
	n, err := bringUp(cfg, "DW3000 TEST RX")
	if err != nil {
		return err
	}
	defer n.Close()
	dev := n.Dev

	var rxBuf [127]byte
	for ctx.Err() == nil {
		if err := dev.EnableRx(); err != nil {
			return err
		}
		var status uint32
		for ctx.Err() == nil {
			status, err = dev.ReadStatus()
			if err != nil {
				return err
			}
			if status&(dw3000.StatusRxGood|dw3000.StatusRxError) != 0 {
				break
			}
		}
		if status&dw3000.StatusRxGood != 0 {
			n2, err := dev.RxFrameLength()
			if err != nil {
				return err
			}
			if n2 <= len(rxBuf) && n2 > twr.FCSLen {
				// No need to read the FCS.
				if err := dev.ReadRxData(rxBuf[:n2-twr.FCSLen]); err != nil {
					return err
				}
			}
			dev.ClearStatus(dw3000.StatusRxGood)
			n.Console.Printf("Frame Received\n")
		} else {
			dev.ClearStatus(dw3000.StatusRxError)
		}
	}
	return ctx.Err()
}

// demoRxSetup wires the inbox for the interrupt-driven receive demos.
func demoRxSetup(n *Node) error {
	dev := n.Dev
	dev.SetCallbacks(nil, n.Inbox.PostRx, func() { dev.EnableRx() })
	if err := dev.SetInterrupts(dw3000.EvtRxOK | dw3000.EvtRxError); err != nil {
		return err
	}
	if err := dev.ClearSPIReady(); err != nil {
		return err
	}
	dev.StartInterrupts()
	if err := dev.ConfigCIADiag(dw3000.CIADiagLogAll); err != nil {
		return err
	}
	n.Console.Printf("Waiting for frames\n")
	return dev.EnableRx()
}

// RunCIRDump prints the decoded Ipatov accumulator after every
// received frame.
func RunCIRDump(ctx context.Context, cfg Config) error {
	n, err := bringUp(cfg, "DW3000 TEST CIR")
	if err != nil {
		return err
	}
	defer n.Close()
	dev := n.Dev
	if err := demoRxSetup(n); err != nil {
		return err
	}

	var buf [cir.IPSamples*cir.SampleSize + 1]byte
	for ctx.Err() == nil {
		if n.Inbox.RxLevel() != twr.EventPosted {
			runtime.Gosched()
			continue
		}
		n.Inbox.SetRxLevel(twr.EventIdle)
		n.Console.Printf("Frame Received\n")

		if err := dev.ReadAccumulator(buf[:], cir.IPIndex); err != nil {
			return err
		}
		diag, err := dev.ReadDiagnostics()
		if err != nil {
			return err
		}

		n.Console.Printf("CIR v3:\n")
		// Integer part of the Q10.6 first-path index.
		n.Console.Printf("ip_fp: %d\n", diag.IP.FpIndex>>6)
		for i, s := range cir.DecodeSamples(buf[:], cir.IPSamples) {
			n.Console.Printf("%d r %d i %d\n", i, s.I, s.Q)
		}
		n.Console.Printf("cir done")

		if err := dev.EnableRx(); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// RunPDoADump prints the full diagnostics set and all three CIR
// segments as text after every received frame.
func RunPDoADump(ctx context.Context, cfg Config) error {
	n, err := bringUp(cfg, "DW3000 TEST PDOA")
	if err != nil {
		return err
	}
	defer n.Close()
	dev := n.Dev
	if err := demoRxSetup(n); err != nil {
		return err
	}

	var buf [cir.IPSamples*cir.SampleSize + 1]byte
	frames := 0
	for ctx.Err() == nil {
		if n.Inbox.RxLevel() != twr.EventPosted {
			runtime.Gosched()
			continue
		}
		n.Inbox.SetRxLevel(twr.EventIdle)
		frames++
		n.Console.Printf("Frame Received (v5)\n")
		n.Console.Printf("count: %d\n", frames)

		d, err := dev.ReadDiagnostics()
		if err != nil {
			return err
		}
		qual, qualIndex := dev.STSQuality()

		n.Console.Printf("ip_toa: 0x%02X%02X%02X%02X%02X\n",
			d.IPTOA[4], d.IPTOA[3], d.IPTOA[2], d.IPTOA[1], d.IPTOA[0])
		n.Console.Printf("ip_toast: 0x%X\n", d.IPTOAStatus)
		n.Console.Printf("ip_poa: %d\n", d.IPPOA)
		n.Console.Printf("ip_fp: %d\n", d.IP.FpIndex>>6)

		n.Console.Printf("sts1_toa: 0x%02X%02X%02X%02X%02X\n",
			d.STS1TOA[4], d.STS1TOA[3], d.STS1TOA[2], d.STS1TOA[1], d.STS1TOA[0])
		n.Console.Printf("sts1_toast: 0x%X\n", d.STS1TOAStatus)
		n.Console.Printf("sts1_poa: %d\n", d.STS1POA)
		n.Console.Printf("sts1_fp: %d\n", d.STS1.FpIndex>>6)

		n.Console.Printf("sts2_toa: 0x%02X%02X%02X%02X%02X\n",
			d.STS2TOA[4], d.STS2TOA[3], d.STS2TOA[2], d.STS2TOA[1], d.STS2TOA[0])
		n.Console.Printf("sts2_toast: 0x%X\n", d.STS2TOAStatus)
		n.Console.Printf("sts2_poa: %d\n", d.STS2POA)
		n.Console.Printf("sts2_fp: %d\n", d.STS2.FpIndex>>6)

		n.Console.Printf("xtaloffset: %d\n", d.XtalOffset)
		// The TDoA is a 41-bit value with bit 40 as the sign.
		n.Console.Printf("tdoa: 0x%02X%02X%02X%02X%02X%02X\n",
			d.TDoA[5]&0x01, d.TDoA[4], d.TDoA[3], d.TDoA[2], d.TDoA[1], d.TDoA[0])
		n.Console.Printf("pdoa: %d\n", d.PDoA)
		n.Console.Printf("fpth: %d\n", d.FPThresholdMD)
		if qual >= 0 {
			n.Console.Printf("sts qual: good (%d)\n", qualIndex)
		} else {
			n.Console.Printf("sts qual: bad (%d)\n", qualIndex)
		}

		for _, seg := range []struct {
			name    string
			index   int
			samples int
		}{
			{"IP", cir.IPIndex, cir.IPSamples},
			{"STS1", cir.STS1Index, cir.STS1Samples},
			{"STS2", cir.STS2Index, cir.STS2Samples},
		} {
			n.Console.Printf("CIR %s: ", seg.name)
			if err := dev.ReadAccumulator(buf[:seg.samples*cir.SampleSize+1], seg.index); err != nil {
				return err
			}
			for i, s := range cir.DecodeSamples(buf[:], seg.samples) {
				n.Console.Printf("%d r %d i %d | ", i, s.I, s.Q)
			}
			n.Console.Printf("END CIR %s\n", seg.name)
		}

		if err := dev.EnableRx(); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// RunTxTest sends one sync frame every two seconds and reports the
// transceiver state around the transmission. The force-off before each
// send matters: a previous transmission with response expected leaves
// the receiver running and blocks new transmissions.
func RunTxTest(ctx context.Context, cfg Config) error {
	n, err := bringUp(cfg, "DW3000 TEST")
	if err != nil {
		return err
	}
	defer n.Close()
	dev := n.Dev

	dev.SetCallbacks(n.Inbox.PostTxDone, n.Inbox.PostRx, func() { dev.EnableRx() })
	if err := dev.SetInterrupts(dw3000.EvtTxDone); err != nil {
		return err
	}
	if err := dev.ClearSPIReady(); err != nil {
		return err
	}
	dev.StartInterrupts()

	var seq uint8
	last := time.Now()
	for ctx.Err() == nil {
		if time.Since(last) > 2*time.Second {
			n.Inbox.Clear()
			last = time.Now()

			state, _ := dev.SysState()
			n.Console.Printf("sys_state pre: 0x%X\n", state)
			dev.ForceTRXOff()
			state, _ = dev.SysState()
			n.Console.Printf("sys_state off: 0x%X\n", state)

			n.Console.Printf("start tx\n")
			f := twr.MakeBase(twr.Tag, twr.FnSync, seq)
			seq++
			if err := dev.SendNow(f[:], true); err != nil {
				n.Console.Printf("tx error\n")
			} else {
				n.Console.Printf("tx success\n")
			}
			state, _ = dev.SysState()
			n.Console.Printf("sys_state post: 0x%X\n", state)
		}
		if n.Inbox.TxLevel() == twr.EventPosted {
			n.Inbox.SetTxLevel(twr.EventIdle)
			n.Console.Printf("TX: Interrupt\n")
		}
		runtime.Gosched()
	}
	return ctx.Err()
}
