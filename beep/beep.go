// Package beep plays short audible cues when capture starts and stops.
package beep

import (
	"math"
	"sync"
	"sync/atomic"
)

var disabled atomic.Bool

// Disable silences every cue for the rest of the process.
func Disable() { disabled.Store(true) }

const (
	sampleRate = 44100

	// start: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// end: medium pitch, slightly longer
	endFreq   = 900
	endVolume = 0.5
	endDecay  = 40

	// error: low pitch double beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30
)

var (
	startSamples []int16
	endSamples   []int16
	errorSamples []int16
	soundOnce    sync.Once
	playing      sync.WaitGroup
)

func initSound() {
	startSamples = tick(startFreq, 0.2, startVolume, startDecay)
	endSamples = tick(endFreq, 0.2, endVolume, endDecay)
	errorSamples = doubleBeep(errorFreq, 0.08, 0.05, errorVolume, errorDecay)
}

// tick is a decaying mono sine burst.
func tick(freq, duration, volume, decay float64) []int16 {
	n := int(sampleRate * duration)
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / sampleRate
		envelope := math.Exp(-t * decay)
		samples[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return samples
}

func doubleBeep(freq, beepDur, gapDur, volume, decay float64) []int16 {
	b := tick(freq, beepDur, volume, decay)
	gap := make([]int16, int(sampleRate*gapDur))
	result := make([]int16, 0, len(b)*2+len(gap))
	result = append(result, b...)
	result = append(result, gap...)
	result = append(result, b...)
	return result
}

func playAsync(samples []int16) {
	if disabled.Load() {
		return
	}
	playing.Add(1)
	go func() {
		defer playing.Done()
		play(samples)
	}()
}

func PlayStart() {
	soundOnce.Do(initSound)
	playAsync(startSamples)
}

func PlayEnd() {
	soundOnce.Do(initSound)
	playAsync(endSamples)
}

func PlayError() {
	soundOnce.Do(initSound)
	playAsync(errorSamples)
}

// Wait blocks until queued cues have finished playing, so the last one is
// not cut off when the process exits.
func Wait() {
	playing.Wait()
}
