package wav

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"testing"
)

func TestParseDescriptor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		descriptor string
		want       Params
	}{
		{name: "bits and rate", descriptor: "audio/L16;rate=16000", want: Params{Channels: 1, SampleRateHz: 16000, BitsPerSample: 16}},
		{name: "8 bit", descriptor: "audio/L8; rate=8000", want: Params{Channels: 1, SampleRateHz: 8000, BitsPerSample: 8}},
		{name: "rate omitted", descriptor: "audio/L24", want: Params{Channels: 1, SampleRateHz: 24000, BitsPerSample: 24}},
		{name: "non numeric bits", descriptor: "audio/Lxx;rate=44100", want: Params{Channels: 1, SampleRateHz: 44100, BitsPerSample: 16}},
		{name: "not L subtype", descriptor: "audio/pcm;rate=22050", want: Params{Channels: 1, SampleRateHz: 22050, BitsPerSample: 16}},
		{name: "invalid rate", descriptor: "audio/L16;rate=fast", want: DefaultParams()},
		{name: "unknown params ignored", descriptor: "audio/L16;channels=2;codec=x", want: DefaultParams()},
		{name: "lowercase l prefix", descriptor: "audio/l8", want: DefaultParams()},
		{name: "rate key is case sensitive", descriptor: "audio/pcm;RATE=8000", want: DefaultParams()},
		{name: "lowercase l and upper rate", descriptor: "audio/l8;RATE=8000", want: DefaultParams()},
		{name: "no slash", descriptor: "garbage;rate=8000", want: DefaultParams()},
		{name: "empty", descriptor: "", want: DefaultParams()},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ParseDescriptor(tc.descriptor); got != tc.want {
				t.Fatalf("ParseDescriptor(%q)=%+v, want %+v", tc.descriptor, got, tc.want)
			}
		})
	}
}

func TestSynthesizeHeader_Layout(t *testing.T) {
	t.Parallel()

	p := Params{Channels: 1, SampleRateHz: 24000, BitsPerSample: 16}
	h := SynthesizeHeader(1000, p)
	if len(h) != HeaderSize {
		t.Fatalf("len=%d, want %d", len(h), HeaderSize)
	}

	le := binary.LittleEndian
	if string(h[0:4]) != "RIFF" || string(h[8:12]) != "WAVE" || string(h[12:16]) != "fmt " || string(h[36:40]) != "data" {
		t.Fatalf("unexpected chunk ids in %q", h)
	}
	if got := le.Uint32(h[4:8]); got != 1036 {
		t.Fatalf("riff size=%d, want 1036", got)
	}
	if got := le.Uint32(h[16:20]); got != 16 {
		t.Fatalf("fmt size=%d, want 16", got)
	}
	if got := le.Uint16(h[20:22]); got != 1 {
		t.Fatalf("format=%d, want 1", got)
	}
	if got := le.Uint32(h[28:32]); got != 48000 {
		t.Fatalf("byte rate=%d, want 48000", got)
	}
	if got := le.Uint16(h[32:34]); got != 2 {
		t.Fatalf("block align=%d, want 2", got)
	}
	if got := le.Uint32(h[40:44]); got != 1000 {
		t.Fatalf("data len=%d, want 1000", got)
	}
}

func TestSynthesizeHeader_AlwaysHeaderSize(t *testing.T) {
	t.Parallel()

	for _, n := range []int{-5, 0, 1, 4095, 1 << 20} {
		for _, p := range []Params{DefaultParams(), {Channels: 1, SampleRateHz: 8000, BitsPerSample: 8}} {
			h := SynthesizeHeader(n, p)
			if len(h) != HeaderSize {
				t.Fatalf("len(SynthesizeHeader(%d))=%d", n, len(h))
			}
			le := binary.LittleEndian
			if int(le.Uint32(h[28:32])) != p.SampleRateHz*p.Channels*p.BitsPerSample/8 {
				t.Fatalf("byte rate inconsistent for %+v", p)
			}
			if int(le.Uint16(h[32:34])) != p.Channels*p.BitsPerSample/8 {
				t.Fatalf("block align inconsistent for %+v", p)
			}
		}
	}
}

func TestContainer_DataLenMatchesPayload(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte{0x01, 0x02}, 333)
	c := Container(payload, DefaultParams())
	n, ok := DataLen(c)
	if !ok || n != len(payload) {
		t.Fatalf("DataLen=%d ok=%v, want %d", n, ok, len(payload))
	}
	if !bytes.Equal(c[HeaderSize:], payload) {
		t.Fatalf("payload not preserved after header")
	}
}

func TestAccumulator_FlushThreeFragments(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator()
	for _, n := range []int{10, 20, 30} {
		frag := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{byte(n)}, n))
		if err := acc.Append(frag); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	out := acc.Flush("audio/L16;rate=16000")
	if len(out) != 104 {
		t.Fatalf("len=%d, want 104", len(out))
	}
	if got := binary.LittleEndian.Uint32(out[24:28]); got != 16000 {
		t.Fatalf("sample rate=%d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint16(out[34:36]); got != 16 {
		t.Fatalf("bits=%d, want 16", got)
	}
	if n, _ := DataLen(out); n != 60 {
		t.Fatalf("data len=%d, want 60", n)
	}
	if out[HeaderSize] != 10 || out[HeaderSize+10] != 20 || out[HeaderSize+30] != 30 {
		t.Fatalf("fragments not concatenated in order")
	}
}

func TestAccumulator_EmptyFlushIsHeaderOnly(t *testing.T) {
	t.Parallel()

	out := NewAccumulator().Flush("audio/L16;rate=24000")
	if len(out) != HeaderSize {
		t.Fatalf("len=%d, want %d", len(out), HeaderSize)
	}
	if n, _ := DataLen(out); n != 0 {
		t.Fatalf("data len=%d, want 0", n)
	}
}

func TestAccumulator_RejectsInvalidBase64(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator()
	acc.AppendBytes([]byte{1, 2, 3, 4})
	if err := acc.Append("not base64!!"); err == nil {
		t.Fatalf("expected decode error")
	}
	if acc.Fragments() != 1 || acc.Size() != 4 {
		t.Fatalf("fragments=%d size=%d, want 1/4", acc.Fragments(), acc.Size())
	}
}

func TestAccumulator_ClearStartsFresh(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator()
	acc.AppendBytes(make([]byte, 128))
	acc.Clear()
	acc.AppendBytes(make([]byte, 8))

	if n, _ := DataLen(acc.Flush("audio/L16")); n != 8 {
		t.Fatalf("data len=%d, want 8", n)
	}
}
