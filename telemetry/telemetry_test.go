package telemetry

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ETH-PBL/UWB-DualAntenna-AoA/dw3000"
)

func TestBlobFraming(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf)
	payload := []byte{1, 2, 3, 4}
	require.NoError(t, e.Blob("toa", 3, payload))

	want := append([]byte("BLOB / toa / v3 / 4\n"), payload...)
	want = append(want, '\n')
	assert.Equal(t, want, buf.Bytes())
}

func TestEmitTWRLayout(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf)
	rec := TWRRecord{
		Treply1:     0x0102030405,
		Treply2:     0x1112131415,
		Tround1:     0x2122232425,
		Tround2:     0x3132333435,
		DistMM:      1234,
		Count:       7,
		RotationDeg: 359,
	}
	require.NoError(t, e.EmitTWR(&rec))

	s := buf.Bytes()
	header := []byte("BLOB / twr / v2 / 40\n")
	require.True(t, bytes.HasPrefix(s, header))
	body := s[len(header) : len(header)+TWRSize]
	assert.Equal(t, rec.Treply1, binary.LittleEndian.Uint64(body[0:]))
	assert.Equal(t, rec.Treply2, binary.LittleEndian.Uint64(body[8:]))
	assert.Equal(t, rec.Tround1, binary.LittleEndian.Uint64(body[16:]))
	assert.Equal(t, rec.Tround2, binary.LittleEndian.Uint64(body[24:]))
	assert.Equal(t, rec.DistMM, binary.LittleEndian.Uint32(body[32:]))
	assert.Equal(t, rec.Count, binary.LittleEndian.Uint16(body[36:]))
	assert.Equal(t, rec.RotationDeg, binary.LittleEndian.Uint16(body[38:]))
	assert.Equal(t, byte('\n'), s[len(header)+TWRSize])
}

func TestEmitDiagnosticsLayout(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf)
	d := dw3000.Diagnostics{
		CIADiag1:      0xab,
		IPPOA:         0x1234,
		STS1POA:       0x2345,
		STS2POA:       0x3456,
		PDoA:          -100,
		XtalOffset:    -7,
		TDoA:          [6]byte{1, 2, 3, 4, 5, 0xff},
		IPTOA:         [5]byte{0x10, 0x11, 0x12, 0x13, 0x14},
		IPTOAStatus:   0x20,
		STS1TOA:       [5]byte{0x30, 0x31, 0x32, 0x33, 0x34},
		STS1TOAStatus: 0x40,
		STS2TOA:       [5]byte{0x50, 0x51, 0x52, 0x53, 0x54},
		STS2TOAStatus: 0x60,
		FPThresholdMD: 1,
		DGCDecision:   5,
	}
	d.IP = dw3000.SegmentDiag{Peak: 1, Power: 2, F1: 3, F2: 4, F3: 5, FpIndex: 6, AccumCount: 7}
	d.STS1 = d.IP
	d.STS2 = d.IP
	require.NoError(t, e.EmitDiagnostics(&d, -5, 42))

	s := buf.Bytes()
	header := []byte("BLOB / toa / v3 / 43\n")
	require.True(t, bytes.HasPrefix(s, header))
	body := s[len(header) : len(header)+TimePOASize]

	assert.Equal(t, uint8(0xab), body[0])
	assert.Equal(t, uint16(0x1234), binary.LittleEndian.Uint16(body[1:]))
	assert.Equal(t, int16(-100), int16(binary.LittleEndian.Uint16(body[7:])))
	assert.Equal(t, int32(-5), int32(binary.LittleEndian.Uint32(body[11:])))
	assert.Equal(t, int16(42), int16(binary.LittleEndian.Uint16(body[15:])))
	// The TDoA sign byte keeps only bit 40 of the 41-bit value.
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, body[17:22])
	assert.Equal(t, byte(1), body[22])
	assert.Equal(t, byte(0x20), body[28])
	assert.Equal(t, byte(0x40), body[34])
	assert.Equal(t, byte(0x60), body[40])
	assert.Equal(t, byte(1), body[41])
	assert.Equal(t, byte(5), body[42])

	// All three analysis records follow.
	rest := string(s)
	assert.Contains(t, rest, "BLOB / cir analysis ip / v1 / 24\n")
	assert.Contains(t, rest, "BLOB / cir analysis sts1 / v1 / 24\n")
	assert.Contains(t, rest, "BLOB / cir analysis sts2 / v1 / 24\n")
}

// readBlobs is a minimal host-side parser: lines starting with
// "BLOB / " announce a payload of the declared size.
func readBlobs(t *testing.T, r io.Reader) map[string]int {
	br := bufio.NewReader(r)
	blobs := make(map[string]int)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return blobs
		}
		if !strings.HasPrefix(line, "BLOB / ") {
			continue
		}
		parts := strings.Split(strings.TrimSuffix(line, "\n"), " / ")
		require.Len(t, parts, 4)
		size, err := strconv.Atoi(parts[3])
		require.NoError(t, err)
		payload := make([]byte, size)
		_, err = io.ReadFull(br, payload)
		require.NoError(t, err)
		blobs[parts[1]] += size
	}
}

func TestInterleavedDebugLinesIgnorable(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf)
	e.Printf("RX: Poll frame\n")
	require.NoError(t, e.Blob("toa", 3, make([]byte, TimePOASize)))
	e.Printf("New Frame: poll: 3\n")
	// A binary payload full of fake header bytes must not confuse the
	// parser since it reads exactly the declared count.
	payload := bytes.Repeat([]byte("BLOB / x / v1 / 9\n"), 10)[:100]
	require.NoError(t, e.Blob("cir", 1, payload))
	e.Printf("dist_mm: 1000\n")

	blobs := readBlobs(t, &buf)
	assert.Equal(t, map[string]int{"toa": TimePOASize, "cir": 100}, blobs)
}
