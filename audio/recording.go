package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"scribe/log"
)

const recordingQueue = 64

// Opener acquires a capture source for the lifetime of one Recording.
type Opener interface {
	Open(ctx context.Context, cfg CaptureConfig, frameSize int) (*Recording, error)
}

// Recording is a scoped capture: frames flow until Close releases the
// underlying device. Frames are mono float32 in [-1, 1], frameSize samples
// each.
type Recording struct {
	frameSize int
	channels  int
	release   func()

	mu      sync.Mutex
	pending []float32

	frames    chan []float32
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
}

// NewRecording returns a Recording fed through WritePCM16. release is called
// once by Close.
func NewRecording(frameSize, channels int, release func()) *Recording {
	if channels < 1 {
		channels = 1
	}
	return &Recording{
		frameSize: frameSize,
		channels:  channels,
		release:   release,
		frames:    make(chan []float32, recordingQueue),
		done:      make(chan struct{}),
	}
}

// WritePCM16 appends interleaved little-endian PCM16 samples. Multi-channel
// input is averaged down to mono. It never blocks: frames that the consumer
// has not picked up in time are dropped.
func (r *Recording) WritePCM16(data []byte) {
	select {
	case <-r.done:
		return
	default:
	}

	r.mu.Lock()
	step := 2 * r.channels
	for i := 0; i+step <= len(data); i += step {
		var sum float32
		for ch := 0; ch < r.channels; ch++ {
			s := int16(binary.LittleEndian.Uint16(data[i+2*ch:]))
			sum += float32(s) / 32768
		}
		r.pending = append(r.pending, sum/float32(r.channels))
	}
	var ready [][]float32
	for len(r.pending) >= r.frameSize {
		frame := make([]float32, r.frameSize)
		copy(frame, r.pending[:r.frameSize])
		r.pending = r.pending[r.frameSize:]
		ready = append(ready, frame)
	}
	r.mu.Unlock()

	for _, frame := range ready {
		select {
		case r.frames <- frame:
		default:
			r.dropped.Add(1)
		}
	}
}

// Frames yields captured frames until the recording is closed or the
// consumer stops.
func (r *Recording) Frames() iter.Seq[[]float32] {
	return func(yield func([]float32) bool) {
		for {
			// Close wins over frames still queued.
			select {
			case <-r.done:
				return
			default:
			}
			select {
			case <-r.done:
				return
			case frame := <-r.frames:
				if !yield(frame) {
					return
				}
			}
		}
	}
}

// Done is closed once the recording has been closed.
func (r *Recording) Done() <-chan struct{} { return r.done }

// Close releases the capture device. Safe to call more than once.
func (r *Recording) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
		if r.release != nil {
			r.release()
		}
		if n := r.dropped.Load(); n > 0 {
			log.Warnf("recording: dropped %d frames", n)
		}
	})
	return nil
}

// DeviceOpener opens Device (nil for the system default) on Ctx.
type DeviceOpener struct {
	Ctx    Context
	Device *DeviceInfo
}

func (o DeviceOpener) Open(ctx context.Context, cfg CaptureConfig, frameSize int) (*Recording, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dev, err := o.Ctx.NewCapture(o.Device, cfg)
	if err != nil {
		return nil, fmt.Errorf("open capture device: %w", err)
	}

	rec := NewRecording(frameSize, int(cfg.Channels), func() {
		dev.ClearCallback()
		dev.Stop()
		dev.Close()
	})
	dev.SetCallback(func(data []byte, _ uint32) { rec.WritePCM16(data) })

	if err := dev.Start(); err != nil {
		dev.ClearCallback()
		dev.Close()
		return nil, fmt.Errorf("start capture: %w", err)
	}
	log.Info("recording_device: " + dev.DeviceName())
	return rec, nil
}

// Capture records from opener until maxDur elapses (when positive) or ctx
// ends, and returns the concatenated frames.
func Capture(ctx context.Context, opener Opener, frameSize int, maxDur time.Duration) ([]float32, error) {
	rec, err := opener.Open(ctx, SpeechConfig(), frameSize)
	if err != nil {
		return nil, err
	}
	defer rec.Close()
	if maxDur > 0 {
		timer := time.AfterFunc(maxDur, func() { rec.Close() })
		defer timer.Stop()
	}
	stop := context.AfterFunc(ctx, func() { rec.Close() })
	defer stop()

	var pcm []float32
	for frame := range rec.Frames() {
		pcm = append(pcm, frame...)
	}
	return pcm, nil
}
