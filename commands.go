package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"scribe/audio"
	"scribe/beep"
	"scribe/clipboard"
	"scribe/config"
	"scribe/doctor"
	"scribe/encoder"
	"scribe/history"
	"scribe/log"
	"scribe/transcriber"
)

const (
	copyTimeout     = 3 * time.Second
	recordFrameSize = 4096
)

func cmdProbe(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "probe", "")
	if err := parseFlags(fs, args, 0); err != nil {
		return err
	}
	base := a.conf.Get().BaseURL
	if !a.client.Probe(ctx) {
		fmt.Fprintf(a.stdout, "%s: not reachable\n", base)
		return exitCode(1)
	}
	fmt.Fprintf(a.stdout, "%s: connected\n", base)
	return nil
}

func cmdModels(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "models", "")
	if err := parseFlags(fs, args, 0); err != nil {
		return err
	}
	models, err := a.client.Models(ctx)
	if err != nil {
		return err
	}
	for _, m := range models {
		marker := " "
		if m == transcriber.DefaultModel {
			marker = "*"
		}
		fmt.Fprintf(a.stdout, "%s %s\n", marker, m)
	}
	return nil
}

// requestFlags are the submission options shared by transcribe and record.
type requestFlags struct {
	task   string
	lang   string
	model  string
	temp   float64
	stream bool
	json   bool
	copy   bool
}

func (r *requestFlags) register(fs *flag.FlagSet, stream bool) {
	fs.StringVar(&r.task, "task", string(transcriber.TaskTranscribe), "transcribe or translate (to English)")
	fs.StringVar(&r.lang, "lang", "", "Language code of the audio (e.g., en, es, fr). Empty = auto-detect")
	fs.StringVar(&r.model, "model", "", "Model identifier (default "+transcriber.DefaultModel+")")
	fs.Float64Var(&r.temp, "temp", 0, "Sampling temperature; 0 uses the server default")
	fs.BoolVar(&r.stream, "stream", stream, "Print partial results as they arrive")
	fs.BoolVar(&r.json, "json", false, "Print the full result as JSON")
	fs.BoolVar(&r.copy, "copy", false, "Copy the final text to the clipboard")
}

func (r *requestFlags) request(data []byte, filename string) (transcriber.Request, error) {
	task, err := parseTask(r.task)
	if err != nil {
		return transcriber.Request{}, err
	}
	return transcriber.Request{
		Audio:       data,
		Filename:    filename,
		Task:        task,
		Language:    r.lang,
		Model:       r.model,
		Temperature: r.temp,
		Stream:      r.stream,
	}, nil
}

func parseTask(s string) (transcriber.Task, error) {
	switch t := transcriber.Task(strings.ToLower(strings.TrimSpace(s))); t {
	case "", transcriber.TaskTranscribe:
		return transcriber.TaskTranscribe, nil
	case transcriber.TaskTranslate:
		return t, nil
	}
	return "", usageError{fmt.Sprintf("unknown task %q (use transcribe or translate)", s)}
}

func cmdTranscribe(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "transcribe", "<audio file>")
	var rf requestFlags
	rf.register(fs, a.conf.Get().Stream)
	if err := parseFlags(fs, args, 1); err != nil {
		return err
	}

	path := fs.Arg(0)
	req, err := rf.request(nil, filepath.Base(path))
	if err != nil {
		return err
	}
	if req.Audio, err = os.ReadFile(path); err != nil {
		return fmt.Errorf("read audio: %w", err)
	}
	return a.submit(ctx, req, &rf)
}

// submit runs a batch submission, prints the result and records it in the
// history.
func (a *app) submit(ctx context.Context, req transcriber.Request, rf *requestFlags) error {
	var onPartial func(transcriber.Result)
	out := &partialPrinter{w: a.stdout}
	if req.Stream && !rf.json {
		onPartial = func(r transcriber.Result) { out.update(r.Text) }
	} else if req.Stream {
		onPartial = func(transcriber.Result) {}
	}

	res, err := a.client.Submit(ctx, req, onPartial)
	if err != nil {
		return err
	}
	log.TranscriptionText(res.Text)

	if rf.json {
		if err := writeJSON(a.stdout, res); err != nil {
			return err
		}
	} else if onPartial != nil {
		out.finish(res.Text)
	} else {
		fmt.Fprintln(a.stdout, strings.TrimSpace(res.Text))
	}

	if _, err := a.hist.Add(history.Summarize(req), *res); err != nil {
		fmt.Fprintf(a.stderr, "Warning: could not save history: %v\n", err)
	}
	if rf.copy {
		a.copyText(res.Text)
	}
	return nil
}

func (a *app) copyText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if err := clipboard.CopyTimeout(text, copyTimeout); err != nil {
		fmt.Fprintf(a.stderr, "Warning: copy failed: %v\n", err)
		log.Warnf("clipboard copy: %v", err)
		return
	}
	fmt.Fprintln(a.stderr, "(copied to clipboard)")
}

// partialPrinter writes a growing transcript incrementally. Partials are
// normally supersets of their predecessors; when one is not, the new text is
// printed on a fresh line.
type partialPrinter struct {
	w       io.Writer
	printed string
}

func (p *partialPrinter) update(text string) {
	if strings.HasPrefix(text, p.printed) {
		io.WriteString(p.w, text[len(p.printed):])
	} else {
		io.WriteString(p.w, "\n"+text)
	}
	p.printed = text
}

func (p *partialPrinter) finish(text string) {
	p.update(text)
	io.WriteString(p.w, "\n")
}

// deviceFlags choose the capture source.
type deviceFlags struct {
	device string
	pick   bool
	wav    string
}

func (d *deviceFlags) register(fs *flag.FlagSet, wav bool) {
	fs.StringVar(&d.device, "device", "", "Use named microphone device")
	fs.BoolVar(&d.pick, "pick", false, "Select microphone device interactively")
	if wav {
		fs.StringVar(&d.wav, "wav", "", "Play a 16 kHz mono WAV file in real time instead of the microphone")
	}
}

// opener resolves the flags to a capture source. The returned func releases
// the audio backend.
func (d *deviceFlags) opener() (audio.Opener, string, func(), error) {
	if d.wav != "" {
		ctx, err := audio.NewFakeContext(d.wav, true)
		if err != nil {
			return nil, "", nil, err
		}
		return audio.DeviceOpener{Ctx: ctx}, filepath.Base(d.wav), ctx.Close, nil
	}

	ctx, err := audio.NewContext()
	if err != nil {
		return nil, "", nil, fmt.Errorf("initialize audio: %w", err)
	}
	dev, err := d.resolve(ctx)
	if err != nil {
		ctx.Close()
		return nil, "", nil, err
	}
	name := "system default"
	if dev != nil {
		name = dev.Name
	}
	return audio.DeviceOpener{Ctx: ctx, Device: dev}, name, ctx.Close, nil
}

func (d *deviceFlags) resolve(ctx audio.Context) (*audio.DeviceInfo, error) {
	switch {
	case d.device != "":
		devices, err := ctx.Devices()
		if err != nil {
			return nil, fmt.Errorf("enumerating devices: %w", err)
		}
		for i := range devices {
			if devices[i].Name == d.device {
				return &devices[i], nil
			}
		}
		return nil, fmt.Errorf("no capture device named %q", d.device)
	case d.pick:
		return audio.SelectDevice(ctx)
	}
	return nil, nil
}

func cmdRecord(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "record", "")
	var rf requestFlags
	var df deviceFlags
	rf.register(fs, a.conf.Get().Stream)
	df.register(fs, false)
	maxDur := fs.Duration("for", 0, "Stop after this long (default: until Enter or Ctrl+C)")
	if err := parseFlags(fs, args, 0); err != nil {
		return err
	}
	req, err := rf.request(nil, "")
	if err != nil {
		return err
	}

	opener, name, closeAudio, err := df.opener()
	if err != nil {
		return err
	}
	defer closeAudio()

	recCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		bufio.NewReader(a.stdin).ReadString('\n')
		stop()
	}()

	fmt.Fprintf(a.stderr, "Recording from %s... press Enter to stop\n", name)
	start := time.Now()
	beep.PlayStart()
	pcm, err := audio.Capture(recCtx, opener, recordFrameSize, *maxDur)
	if err != nil {
		beep.PlayError()
		return err
	}
	beep.PlayEnd()
	if len(pcm) == 0 {
		return transcriber.ErrNoAudio
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	enc, err := encoder.NewFlac()
	if err != nil {
		return err
	}
	if err := enc.EncodeFloat(pcm); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	log.Infof("recorded %s in %s, %d bytes flac (encode %s)",
		encoder.Duration(enc.TotalFrames()), time.Since(start).Round(time.Millisecond), len(enc.Bytes()), enc.EncodeTime())
	fmt.Fprintf(a.stderr, "Recorded %.1fs, transcribing...\n", encoder.Duration(enc.TotalFrames()).Seconds())

	req.Audio = enc.Bytes()
	req.Filename = enc.Filename()
	return a.submit(ctx, req, &rf)
}

func cmdLive(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "live", "")
	var df deviceFlags
	df.register(fs, true)
	lang := fs.String("lang", "en", "Language code for transcription")
	tui := fs.Bool("tui", false, "Show the running transcript in a full-screen view")
	copyFlag := fs.Bool("copy", false, "Copy the final text to the clipboard")
	if err := parseFlags(fs, args, 0); err != nil {
		return err
	}

	opener, name, closeAudio, err := df.opener()
	if err != nil {
		return err
	}
	defer closeAudio()

	sess, err := a.client.NewRealtime(opener)
	if err != nil {
		return err
	}

	var final transcriber.Event
	if *tui {
		final, err = runLiveTUI(ctx, a, sess, *lang, name)
	} else {
		final, err = runLivePlain(ctx, a, sess, *lang, name)
	}
	if err != nil {
		return err
	}
	if final.Error != "" {
		return fmt.Errorf("live session ended: %s", final.Error)
	}

	text := strings.TrimSpace(final.Text)
	log.TranscriptionText(text)
	if text == "" {
		return nil
	}
	req := history.Request{FileName: "live", Language: *lang, Task: transcriber.TaskTranscribe, Stream: true}
	if _, err := a.hist.Add(req, transcriber.Result{Text: text, Language: *lang}); err != nil {
		fmt.Fprintf(a.stderr, "Warning: could not save history: %v\n", err)
	}
	if *copyFlag {
		a.copyText(text)
	}
	return nil
}

// runLivePlain prints each update on one rewritten line and returns the
// terminal event. Enter or Ctrl+C stops the session.
func runLivePlain(ctx context.Context, a *app, sess *transcriber.RealtimeSession, lang, device string) (transcriber.Event, error) {
	finalCh := make(chan transcriber.Event, 1)
	onEvent := func(ev transcriber.Event) {
		if ev.Final {
			fmt.Fprintf(a.stdout, "\r\x1b[K%s\n", strings.TrimSpace(ev.Text))
			finalCh <- ev
			return
		}
		fmt.Fprintf(a.stdout, "\r\x1b[K%s", lastLine(ev.Text, 120))
	}

	fmt.Fprintf(a.stderr, "Listening on %s (%s)... press Enter to stop\n", device, lang)
	if err := sess.Start(ctx, onEvent, lang); err != nil {
		// a device failure has already delivered the terminal event
		select {
		case <-finalCh:
		default:
		}
		beep.PlayError()
		return transcriber.Event{}, err
	}
	beep.PlayStart()
	defer beep.PlayEnd()

	go func() {
		bufio.NewReader(a.stdin).ReadString('\n')
		sess.Stop()
	}()
	stopOnCancel := context.AfterFunc(ctx, sess.Stop)
	defer stopOnCancel()

	<-sess.Done()
	select {
	case ev := <-finalCh:
		return ev, nil
	default:
		return transcriber.Event{Final: true}, nil
	}
}

// lastLine returns at most width trailing characters of text, on one line.
func lastLine(text string, width int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) > width {
		return "…" + string(r[len(r)-width+1:])
	}
	return text
}

func cmdConfig(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "config", "")
	url := fs.String("url", "", "Base URL of the transcription server")
	key := fs.String("key", "", "Admin API key (use - to clear)")
	stream := fs.Bool("stream", true, "Stream partial results by default")
	if err := parseFlags(fs, args, 0); err != nil {
		return err
	}

	cfg := a.conf.Get()
	changed := false
	fs.Visit(func(f *flag.Flag) {
		changed = true
		switch f.Name {
		case "url":
			cfg.BaseURL = *url
		case "key":
			cfg.AdminKey = *key
			if *key == "-" {
				cfg.AdminKey = ""
			}
		case "stream":
			cfg.Stream = *stream
		}
	})
	if changed {
		if err := a.conf.Save(cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		cfg = a.conf.Get()
	}

	fmt.Fprintf(a.stdout, "base_url:  %s\n", cfg.BaseURL)
	fmt.Fprintf(a.stdout, "admin_key: %s\n", maskKey(cfg.AdminKey))
	fmt.Fprintf(a.stdout, "stream:    %t\n", cfg.Stream)
	fmt.Fprintf(a.stdout, "file:      %s\n", config.NewFileStore(a.dir).Path())
	return nil
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "(none)"
	case len(key) <= 4:
		return "****"
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

func cmdHistory(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "history", "[show <id> | rm <id> | clear]")
	limit := fs.Int("n", 20, "Number of tasks to list (0 = all)")
	asJSON := fs.Bool("json", false, "Print tasks as JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	rest := fs.Args()
	sub := ""
	if len(rest) > 0 {
		sub = rest[0]
	}
	switch {
	case sub == "" && len(rest) == 0:
		tasks := a.hist.List(*limit)
		if *asJSON {
			return writeJSON(a.stdout, tasks)
		}
		if len(tasks) == 0 {
			fmt.Fprintln(a.stdout, "No transcriptions yet")
		}
		for _, t := range tasks {
			fmt.Fprintln(a.stdout, historyLine(t, 60))
		}
		return nil

	case sub == "show" && len(rest) == 2:
		t, ok := a.hist.Get(rest[1])
		if !ok {
			return fmt.Errorf("no task with id %s", rest[1])
		}
		if *asJSON {
			return writeJSON(a.stdout, t)
		}
		fmt.Fprintln(a.stdout, historyLine(t, 0))
		fmt.Fprintln(a.stdout)
		fmt.Fprintln(a.stdout, strings.TrimSpace(t.Result.Text))
		return nil

	case sub == "rm" && len(rest) == 2:
		ok, err := a.hist.Delete(rest[1])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no task with id %s", rest[1])
		}
		return nil

	case sub == "clear" && len(rest) == 1:
		return a.hist.Clear()
	}
	fs.Usage()
	return usageError{}
}

// historyLine is the one-line listing of t. A positive width truncates the
// text preview.
func historyLine(t history.Task, width int) string {
	task := t.Request.Task
	if task == "" {
		task = transcriber.TaskTranscribe
	}
	line := fmt.Sprintf("%s  %s  %-10s %s", t.ID, t.Time().Format("2006-01-02 15:04"), task, t.Request.FileName)
	if width <= 0 {
		return line
	}
	text := strings.Join(strings.Fields(t.Result.Text), " ")
	if r := []rune(text); len(r) > width {
		text = string(r[:width-1]) + "…"
	}
	return line + "  " + text
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cmdDoctor(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "doctor", "")
	var df deviceFlags
	df.register(fs, true)
	recordFor := fs.Duration("for", 3*time.Second, "Microphone check duration")
	clip := fs.Bool("clipboard", true, "Also check clipboard access")
	if err := parseFlags(fs, args, 0); err != nil {
		return err
	}

	opener, _, closeAudio, err := df.opener()
	if err != nil {
		return err
	}
	defer closeAudio()

	d := &doctor.Doctor{
		Client:    a.client,
		Opener:    opener,
		Out:       a.stdout,
		In:        a.stdin,
		RecordFor: *recordFor,
		Clipboard: *clip,
	}
	if code := d.Run(ctx); code != 0 {
		return exitCode(code)
	}
	return nil
}
