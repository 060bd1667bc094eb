package beep

import (
	"math"
	"testing"
)

func TestTick(t *testing.T) {
	s := tick(1000, 0.1, 0.5, 40)
	if len(s) != sampleRate/10 {
		t.Fatalf("len = %d, want %d", len(s), sampleRate/10)
	}
	var peak int16
	for _, v := range s {
		if v > peak {
			peak = v
		}
	}
	if peak > int16(32767/2)+1 || peak < 8000 {
		t.Errorf("peak = %d, want about half scale", peak)
	}

	// the envelope decays
	head, tail := rms(s[:len(s)/4]), rms(s[3*len(s)/4:])
	if tail >= head {
		t.Errorf("tail rms %.0f >= head rms %.0f", tail, head)
	}
}

func TestDoubleBeep(t *testing.T) {
	b := tick(errorFreq, 0.08, errorVolume, errorDecay)
	d := doubleBeep(errorFreq, 0.08, 0.05, errorVolume, errorDecay)
	gap := int(sampleRate * 0.05)
	if len(d) != 2*len(b)+gap {
		t.Fatalf("len = %d, want %d", len(d), 2*len(b)+gap)
	}
	for i := len(b); i < len(b)+gap; i++ {
		if d[i] != 0 {
			t.Fatalf("gap sample %d = %d, want 0", i, d[i])
		}
	}
}

func TestDisabledPlaysNothing(t *testing.T) {
	Disable()
	PlayStart()
	PlayEnd()
	PlayError()
	Wait()
}

func rms(s []int16) float64 {
	var sum float64
	for _, v := range s {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(s)))
}
