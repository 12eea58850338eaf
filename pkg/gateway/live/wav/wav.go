// Package wav wraps headerless linear PCM in a canonical 44-byte RIFF/WAVE
// container. The upstream streams raw PCM tagged only by a MIME descriptor such
// as "audio/L16;rate=24000"; browsers need a real container to play it.
package wav

import (
	"encoding/binary"
	"strconv"
	"strings"
)

// HeaderSize is the size of the canonical PCM WAV header.
const HeaderSize = 44

const (
	DefaultChannels      = 1
	DefaultSampleRateHz  = 24000
	DefaultBitsPerSample = 16

	formatPCM     = 1
	fmtChunkSize  = 16
	riffSizeExtra = 36
)

// Params describes the PCM stream carried in a container.
type Params struct {
	Channels      int
	SampleRateHz  int
	BitsPerSample int
}

// DefaultParams returns mono 24kHz 16-bit.
func DefaultParams() Params {
	return Params{
		Channels:      DefaultChannels,
		SampleRateHz:  DefaultSampleRateHz,
		BitsPerSample: DefaultBitsPerSample,
	}
}

func (p Params) ByteRate() int {
	return p.SampleRateHz * p.Channels * p.BitsPerSample / 8
}

func (p Params) BlockAlign() int {
	return p.Channels * p.BitsPerSample / 8
}

// ParseDescriptor extracts container parameters from a MIME descriptor like
// "audio/L16;rate=24000". Anything it cannot interpret keeps its default.
// Channel count is not read from the descriptor and stays at 1.
func ParseDescriptor(descriptor string) Params {
	p := DefaultParams()

	parts := strings.Split(descriptor, ";")
	primary := strings.TrimSpace(parts[0])
	slash := strings.IndexByte(primary, '/')
	if slash < 0 {
		return p
	}

	subtype := strings.TrimSpace(primary[slash+1:])
	if len(subtype) > 1 && subtype[0] == 'L' {
		if bits, err := strconv.Atoi(subtype[1:]); err == nil && bits > 0 {
			p.BitsPerSample = bits
		}
	}

	for _, param := range parts[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok {
			continue
		}
		if strings.TrimSpace(key) != "rate" {
			continue
		}
		if rate, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && rate > 0 {
			p.SampleRateHz = rate
		}
	}

	return p
}

// SynthesizeHeader returns the 44-byte header for a payload of payloadLen bytes.
func SynthesizeHeader(payloadLen int, p Params) []byte {
	if payloadLen < 0 {
		payloadLen = 0
	}

	h := make([]byte, HeaderSize)
	le := binary.LittleEndian

	copy(h[0:4], "RIFF")
	le.PutUint32(h[4:8], uint32(riffSizeExtra+payloadLen))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	le.PutUint32(h[16:20], fmtChunkSize)
	le.PutUint16(h[20:22], formatPCM)
	le.PutUint16(h[22:24], uint16(p.Channels))
	le.PutUint32(h[24:28], uint32(p.SampleRateHz))
	le.PutUint32(h[28:32], uint32(p.ByteRate()))
	le.PutUint16(h[32:34], uint16(p.BlockAlign()))
	le.PutUint16(h[34:36], uint16(p.BitsPerSample))
	copy(h[36:40], "data")
	le.PutUint32(h[40:44], uint32(payloadLen))

	return h
}

// Container returns header followed by payload.
func Container(payload []byte, p Params) []byte {
	out := make([]byte, 0, HeaderSize+len(payload))
	out = append(out, SynthesizeHeader(len(payload), p)...)
	return append(out, payload...)
}

// DataLen reads the data chunk length from a synthesized container.
func DataLen(container []byte) (int, bool) {
	if len(container) < HeaderSize || string(container[36:40]) != "data" {
		return 0, false
	}
	return int(binary.LittleEndian.Uint32(container[40:44])), true
}
