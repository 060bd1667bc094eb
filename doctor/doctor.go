// Package doctor runs interactive environment checks: API reachability,
// model availability, microphone level, a transcription round trip and the
// clipboard.
package doctor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"scribe/audio"
	"scribe/clipboard"
	"scribe/encoder"
	"scribe/transcriber"
	"scribe/vad"
)

const (
	defaultRecordFor = 3 * time.Second
	levelFrameSize   = 1024
)

// Doctor holds what the checks need. In may be nil, in which case the
// checks that need a human answer are skipped.
type Doctor struct {
	Client    *transcriber.Client
	Opener    audio.Opener
	Out       io.Writer
	In        io.Reader
	RecordFor time.Duration
	Clipboard bool

	reader *bufio.Reader
	step   int
	steps  int
}

// Run executes the checks in order and returns an exit code (0=all pass,
// 1=any fail). Later checks depend on earlier ones and are skipped after a
// failure.
func (d *Doctor) Run(ctx context.Context) int {
	if d.RecordFor <= 0 {
		d.RecordFor = defaultRecordFor
	}
	if d.In != nil {
		resetTerminal()
		d.reader = bufio.NewReader(d.In)
	}
	d.steps = 4
	if d.Clipboard {
		d.steps++
	}

	d.printf("scribe doctor - environment diagnostics\n")
	d.printf("=======================================\n")

	allPass := d.checkAPI(ctx) && d.checkModels(ctx)

	var pcm []float32
	if allPass {
		pcm, allPass = d.checkMicrophone(ctx)
	}
	if allPass {
		allPass = d.checkTranscription(ctx, pcm)
	}
	if allPass && d.Clipboard {
		allPass = d.checkClipboard()
	}

	d.printf("\n")
	if allPass {
		d.printf("All checks passed!\n")
		return 0
	}
	d.printf("Some checks failed. See details above.\n")
	return 1
}

func (d *Doctor) printf(format string, args ...any) {
	fmt.Fprintf(d.Out, format, args...)
}

func (d *Doctor) header(title string) {
	d.step++
	d.printf("\n[%d/%d] %s\n", d.step, d.steps, title)
}

func (d *Doctor) checkAPI(ctx context.Context) bool {
	d.header("API reachability")
	if !d.Client.Probe(ctx) {
		d.printf("  FAIL: server not reachable (see diagnostics log)\n")
		d.printf("  Set the endpoint with: scribe config -url <base url>\n")
		return false
	}
	d.printf("  PASS: server answered\n")
	return true
}

func (d *Doctor) checkModels(ctx context.Context) bool {
	d.header("Models")
	models, err := d.Client.Models(ctx)
	if err != nil {
		d.printf("  FAIL: %v\n", err)
		return false
	}
	if len(models) == 0 {
		d.printf("  FAIL: server lists no models\n")
		return false
	}
	d.printf("  PASS: %d models available\n", len(models))
	if !slices.Contains(models, transcriber.DefaultModel) {
		d.printf("  Warning: default model %s not listed; pass -model\n", transcriber.DefaultModel)
	}
	return true
}

func (d *Doctor) checkMicrophone(ctx context.Context) ([]float32, bool) {
	d.header("Microphone level")
	if d.reader != nil {
		d.printf("Press Enter and speak for %s...", d.RecordFor)
		d.reader.ReadString('\n')
	}

	pcm, err := audio.Capture(ctx, d.Opener, levelFrameSize, d.RecordFor)
	if err != nil {
		d.printf("  FAIL: recording error: %v\n", err)
		return nil, false
	}
	if len(pcm) == 0 {
		d.printf("  FAIL: no audio captured\n")
		return nil, false
	}

	peak, voiced := Level(pcm, levelFrameSize)
	d.printf("  Captured %.1fs, peak RMS %.4f, %d%% of frames above threshold\n",
		float64(len(pcm))/audio.DefaultSampleRate, peak, voiced)
	if peak <= vad.DefaultThreshold {
		d.printf("  FAIL: input is silent; check the selected device and its gain\n")
		return nil, false
	}
	d.printf("  PASS: microphone picks up sound\n")
	return pcm, true
}

func (d *Doctor) checkTranscription(ctx context.Context, pcm []float32) bool {
	d.header("Transcription round trip")

	enc, err := encoder.NewFlac()
	if err != nil {
		d.printf("  FAIL: %v\n", err)
		return false
	}
	if err := enc.EncodeFloat(pcm); err != nil {
		d.printf("  FAIL: encode: %v\n", err)
		return false
	}
	if err := enc.Close(); err != nil {
		d.printf("  FAIL: encode: %v\n", err)
		return false
	}
	d.printf("  Encoded %.1f KB, transcribing...\n", float64(len(enc.Bytes()))/1024)

	res, err := d.Client.Submit(ctx, transcriber.Request{Audio: enc.Bytes(), Filename: enc.Filename()}, nil)
	if err != nil {
		d.printf("  FAIL: transcription error: %v\n", err)
		return false
	}

	text := strings.TrimSpace(res.Text)
	if text == "" {
		text = "(no speech detected)"
	}
	d.printf("\n  Transcribed text: %s\n\n", text)

	if d.reader == nil {
		d.printf("  PASS: transcription returned\n")
		return true
	}
	d.printf("Is this correct? [y/n]: ")
	confirm, _ := d.reader.ReadString('\n')
	confirm = strings.TrimSpace(strings.ToLower(confirm))
	if confirm == "y" || confirm == "yes" {
		d.printf("  PASS: transcription verified by user\n")
		return true
	}
	d.printf("  FAIL: transcription not confirmed\n")
	return false
}

func (d *Doctor) checkClipboard() bool {
	d.header("Clipboard copy")
	probe := fmt.Sprintf("scribe-doctor-%d", time.Now().UnixNano())
	if err := clipboard.Verify(probe, 3*time.Second); err != nil {
		d.printf("  FAIL: %v\n", err)
		return false
	}
	d.printf("  PASS: clipboard write/read verified\n")
	return true
}

// Level returns the loudest frame RMS and the share of frames, in percent,
// above the voice threshold.
func Level(pcm []float32, frameSize int) (peak float64, voicedPct int) {
	var frames, voiced int
	for start := 0; start < len(pcm); start += frameSize {
		rms := vad.RMS(pcm[start:min(start+frameSize, len(pcm))])
		frames++
		if rms > vad.DefaultThreshold {
			voiced++
		}
		peak = max(peak, rms)
	}
	if frames == 0 {
		return 0, 0
	}
	return peak, voiced * 100 / frames
}
