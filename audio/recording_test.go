package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
	"time"
)

func pcm16(samples ...int16) []byte {
	buf := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(s))
	}
	return buf
}

func TestRecordingFrames(t *testing.T) {
	rec := NewRecording(2, 1, nil)
	rec.WritePCM16(pcm16(16384, -16384, 0))
	rec.WritePCM16(pcm16(8192))

	var got [][]float32
	for frame := range rec.Frames() {
		got = append(got, frame)
		if len(got) == 2 {
			break
		}
	}
	want := [][]float32{{0.5, -0.5}, {0, 0.25}}
	for i := range want {
		for j := range want[i] {
			if got[i][j] != want[i][j] {
				t.Fatalf("frame %d = %v, want %v", i, got[i], want[i])
			}
		}
	}
}

func TestRecordingDownmix(t *testing.T) {
	rec := NewRecording(1, 2, nil)
	rec.WritePCM16(pcm16(16384, 0))
	for frame := range rec.Frames() {
		if frame[0] != 0.25 {
			t.Errorf("downmixed sample = %v, want 0.25", frame[0])
		}
		break
	}
}

func TestRecordingCloseReleasesOnce(t *testing.T) {
	calls := 0
	rec := NewRecording(4, 1, func() { calls++ })
	rec.Close()
	rec.Close()
	if calls != 1 {
		t.Errorf("release called %d times, want 1", calls)
	}
	select {
	case <-rec.Done():
	default:
		t.Error("Done not closed")
	}

	// writes after close are ignored and Frames ends immediately
	rec.WritePCM16(pcm16(1, 2, 3, 4))
	for range rec.Frames() {
		t.Fatal("frame yielded after Close")
	}
}

func TestRecordingCloseStopsQueuedFrames(t *testing.T) {
	rec := NewRecording(1, 1, nil)
	rec.WritePCM16(pcm16(make([]int16, recordingQueue)...))

	n := 0
	for range rec.Frames() {
		n++
		rec.Close()
	}
	if n != 1 {
		t.Errorf("yielded %d frames, want 1 after Close", n)
	}
}

func TestRecordingDropsWhenFull(t *testing.T) {
	rec := NewRecording(1, 1, nil)
	samples := make([]int16, recordingQueue+10)
	rec.WritePCM16(pcm16(samples...))
	if n := rec.dropped.Load(); n != 10 {
		t.Errorf("dropped = %d, want 10", n)
	}
}

func TestDeviceOpenerWithFake(t *testing.T) {
	fake := NewFakeContextPCM(pcm16(make([]int16, 4096)...), false)
	rec, err := DeviceOpener{Ctx: fake}.Open(context.Background(), SpeechConfig(), 512)
	if err != nil {
		t.Fatal(err)
	}
	defer rec.Close()

	n := 0
	for frame := range rec.Frames() {
		if len(frame) != 512 {
			t.Fatalf("frame length = %d", len(frame))
		}
		if n++; n == 4 {
			break
		}
	}
}

func TestDeviceOpenerCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := DeviceOpener{Ctx: NewFakeContextPCM(nil, false)}.Open(ctx, SpeechConfig(), 512)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestFakeCaptureAudioDone(t *testing.T) {
	fake := NewFakeContextPCM(pcm16(make([]int16, 2048)...), false)
	dev, err := fake.NewCapture(nil, SpeechConfig())
	if err != nil {
		t.Fatal(err)
	}
	dev.SetCallback(func([]byte, uint32) {})
	if err := dev.Start(); err != nil {
		t.Fatal(err)
	}
	defer dev.Stop()

	select {
	case <-dev.(*FakeCapture).AudioDone():
	case <-time.After(2 * time.Second):
		t.Fatal("source audio never finished")
	}
}

func TestNewFakeContextRejectsNonWAV(t *testing.T) {
	path := t.TempDir() + "/x.wav"
	if err := writeFile(path, bytes.Repeat([]byte{0}, 64)); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFakeContext(path, false); err == nil || !strings.Contains(err.Error(), "not a WAV") {
		t.Errorf("err = %v", err)
	}
}

func TestCaptureStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	pcm, err := Capture(ctx, DeviceOpener{Ctx: NewFakeContextPCM(nil, false)}, 256, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Capture ignored context cancellation")
	}
	if len(pcm)%256 != 0 {
		t.Errorf("captured %d samples, want whole frames", len(pcm))
	}
}

func TestCaptureStopsAfterDuration(t *testing.T) {
	pcm, err := Capture(context.Background(), DeviceOpener{Ctx: NewFakeContextPCM(nil, false)}, 256, 30*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if len(pcm) == 0 {
		t.Error("no audio captured")
	}
}
