// Package encoder compresses captured speech for upload.
package encoder

import "time"

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
	EncodeTime() time.Duration
	// Filename is the upload file name, with an extension the server
	// recognizes.
	Filename() string
}

// Duration is the length of audio that frames samples represent.
func Duration(frames uint64) time.Duration {
	return time.Duration(frames) * time.Second / SampleRate
}

// Int16 converts float samples in [-1, 1] to 16-bit, clamping out-of-range
// values.
func Int16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := max(-1, min(1, s))
		if v < 0 {
			out[i] = int16(v * 32768)
		} else {
			out[i] = int16(v * 32767)
		}
	}
	return out
}
