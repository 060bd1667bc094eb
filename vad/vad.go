// Package vad decides, frame by frame, whether captured audio carries voice.
package vad

import (
	"encoding/binary"
	"math"
)

// DefaultThreshold is the RMS level, on samples in [-1, 1], above which a
// frame counts as voice. About 330 on the int16 scale.
const DefaultThreshold = 0.01

// Action tells the caller what to do with its silence timer.
type Action int

const (
	// None leaves the timer as it is.
	None Action = iota
	// Speech means voice resumed while the timer was armed: cancel it.
	Speech
	// Silence means a quiet frame arrived with no timer armed: arm it.
	Silence
)

func (a Action) String() string {
	switch a {
	case Speech:
		return "speech"
	case Silence:
		return "silence"
	default:
		return "none"
	}
}

// Gate tracks whether a silence timer is armed. It is not safe for
// concurrent use; one goroutine feeds it frames in order.
type Gate struct {
	threshold float64
	armed     bool

	frames      int
	voiceFrames int
}

func NewGate(threshold float64) *Gate {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Gate{threshold: threshold}
}

// Process classifies frame. Frames that start out quiet arm the timer
// straight away, so a session nobody speaks into still ends.
func (g *Gate) Process(frame []float32) Action {
	g.frames++
	if RMS(frame) > g.threshold {
		g.voiceFrames++
		if g.armed {
			g.armed = false
			return Speech
		}
		return None
	}
	if !g.armed {
		g.armed = true
		return Silence
	}
	return None
}

// Stats returns the number of frames seen and how many of them had voice.
func (g *Gate) Stats() (frames, voice int) {
	return g.frames, g.voiceFrames
}

// RMS is the root-mean-square level of frame; zero for an empty frame.
func RMS(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// ToPCM16 converts float samples to little-endian signed 16-bit PCM,
// clamping to [-1, 1] first.
func ToPCM16(frame []float32) []byte {
	out := make([]byte, len(frame)*2)
	for i, s := range frame {
		v := max(-1, min(1, float64(s)))
		var sample int16
		if v < 0 {
			sample = int16(math.Round(v * 32768))
		} else {
			sample = int16(math.Round(v * 32767))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out
}
