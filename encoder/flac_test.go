package encoder

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/mewkiz/flac"
)

var _ Encoder = (*FlacEncoder)(nil)

func tone(n int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(12000 * math.Sin(2*math.Pi*300*float64(i)/SampleRate))
	}
	return samples
}

func TestFlacEncoder(t *testing.T) {
	samples := tone(SampleRate * 2)

	enc, err := NewFlac()
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}

	var totalFed uint64
	for i := 0; i < len(samples); i += BlockSize {
		end := min(i+BlockSize, len(samples))
		block := samples[i:end]
		if err := enc.EncodeBlock(block); err != nil {
			t.Fatalf("EncodeBlock at offset %d: %v", i, err)
		}
		totalFed += uint64(len(block))
	}

	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if enc.TotalFrames() != totalFed {
		t.Errorf("TotalFrames = %d, want %d", enc.TotalFrames(), totalFed)
	}
	if got := Duration(enc.TotalFrames()); got != 2*time.Second {
		t.Errorf("Duration = %v, want 2s", got)
	}

	flacData := enc.Bytes()
	if len(flacData) < 4 || string(flacData[:4]) != "fLaC" {
		t.Fatal("output does not start with FLAC magic")
	}

	stream, err := flac.New(bytes.NewReader(flacData))
	if err != nil {
		t.Fatalf("decode stream: %v", err)
	}
	if stream.Info.SampleRate != SampleRate || stream.Info.NChannels != Channels {
		t.Errorf("stream info = %+v", stream.Info)
	}
}

func TestFlacEncoderEmpty(t *testing.T) {
	enc, err := NewFlac()
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close on empty encoder: %v", err)
	}
	if enc.TotalFrames() != 0 {
		t.Errorf("TotalFrames = %d, want 0", enc.TotalFrames())
	}
	if len(enc.Bytes()) == 0 {
		t.Error("expected non-empty FLAC output (at least header)")
	}
}

func TestFlacEncoderPartialBlock(t *testing.T) {
	enc, err := NewFlac()
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}

	partial := make([]int16, BlockSize/4)
	for i := range partial {
		partial[i] = int16(i % 1000)
	}

	if err := enc.EncodeBlock(partial); err != nil {
		t.Fatalf("EncodeBlock partial: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if enc.TotalFrames() != uint64(len(partial)) {
		t.Errorf("TotalFrames = %d, want %d", enc.TotalFrames(), len(partial))
	}
}

func TestFlacEncoderSplitsLongBlocks(t *testing.T) {
	enc, err := NewFlac()
	if err != nil {
		t.Fatal(err)
	}
	if err := enc.EncodeBlock(tone(BlockSize*2 + 100)); err != nil {
		t.Fatalf("EncodeBlock: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	if enc.TotalFrames() != BlockSize*2+100 {
		t.Errorf("TotalFrames = %d", enc.TotalFrames())
	}
	if err := enc.EncodeBlock(tone(10)); err == nil {
		t.Error("EncodeBlock after Close succeeded")
	}
	if err := enc.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestFlacEncoderFloat(t *testing.T) {
	enc, err := NewFlac()
	if err != nil {
		t.Fatal(err)
	}
	if err := enc.EncodeFloat([]float32{0, 0.5, -0.5, 1.5}); err != nil {
		t.Fatal(err)
	}
	if enc.TotalFrames() != 4 {
		t.Errorf("TotalFrames = %d, want 4", enc.TotalFrames())
	}
}

func TestInt16(t *testing.T) {
	got := Int16([]float32{0, 1, -1, 2, -2})
	want := []int16{0, 32767, -32768, 32767, -32768}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}
