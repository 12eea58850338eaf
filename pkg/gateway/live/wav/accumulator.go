package wav

import (
	"encoding/base64"
	"fmt"
)

// Accumulator collects the PCM fragments of one response turn. Fragments are
// decoded as they arrive so a flush only has to concatenate.
//
// An Accumulator is not safe for concurrent use.
type Accumulator struct {
	fragments [][]byte
	size      int
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Append decodes a base64 fragment and stores it. A fragment that does not
// decode is rejected and the accumulated audio is left untouched.
func (a *Accumulator) Append(fragmentB64 string) error {
	raw, err := base64.StdEncoding.DecodeString(fragmentB64)
	if err != nil {
		return fmt.Errorf("decode audio fragment: %w", err)
	}
	a.AppendBytes(raw)
	return nil
}

func (a *Accumulator) AppendBytes(raw []byte) {
	if len(raw) == 0 {
		return
	}
	a.fragments = append(a.fragments, raw)
	a.size += len(raw)
}

// Fragments reports how many fragments have been stored since the last Clear.
func (a *Accumulator) Fragments() int {
	return len(a.fragments)
}

// Size reports the accumulated payload size in bytes.
func (a *Accumulator) Size() int {
	return a.size
}

func (a *Accumulator) Clear() {
	a.fragments = nil
	a.size = 0
}

// Flush returns a complete container for the accumulated payload using the
// parameters in descriptor. It does not clear the accumulator.
func (a *Accumulator) Flush(descriptor string) []byte {
	p := ParseDescriptor(descriptor)
	out := make([]byte, 0, HeaderSize+a.size)
	out = append(out, SynthesizeHeader(a.size, p)...)
	for _, frag := range a.fragments {
		out = append(out, frag...)
	}
	return out
}
