package transcriber

import (
	"bytes"
	"encoding/json"
	"regexp"
	"slices"
	"strings"

	"scribe/log"
)

const (
	doneMarker  = "[DONE]"
	errorPrefix = "[Error:"
)

var trailingDone = regexp.MustCompile(`(?i)\s*\[DONE\]\s*$`)

// stripTrailingDone removes one trailing [DONE] marker, in any case.
func stripTrailingDone(text string) string {
	return trailingDone.ReplaceAllString(text, "")
}

type wireEvent struct {
	Text     *string           `json:"text"`
	Language string            `json:"language"`
	Chunks   []json.RawMessage `json:"chunks"`
	Speakers []string          `json:"speakers"`
	Error    json.RawMessage   `json:"error"`
}

type wireChunk struct {
	Text      string `json:"text"`
	Timestamp []any  `json:"timestamp"`
	Speaker   string `json:"speaker"`
}

// streamDecoder turns an incremental response body into a running Result.
// Lines may arrive split across writes; the trailing partial line is held
// until its newline arrives or the stream is closed.
type streamDecoder struct {
	onPartial func(Result)

	pending    []byte
	raw        bytes.Buffer
	text       strings.Builder
	result     Result
	recognized int
	skipped    int
}

func newStreamDecoder(onPartial func(Result)) *streamDecoder {
	return &streamDecoder{onPartial: onPartial}
}

// Write consumes the next piece of the body. It fails only with a
// *RemoteError, which ends the stream.
func (d *streamDecoder) Write(p []byte) error {
	if d.recognized == 0 {
		d.raw.Write(p)
	}

	data := append(d.pending, p...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		line := string(data[:i])
		data = data[i+1:]
		if err := d.handleLine(line); err != nil {
			return err
		}
	}
	d.pending = append([]byte(nil), data...)

	if d.recognized > 0 && d.raw.Len() > 0 {
		d.raw = bytes.Buffer{}
	}
	return nil
}

// Close processes a final line that had no trailing newline.
func (d *streamDecoder) Close() error {
	if len(d.pending) == 0 {
		return nil
	}
	line := string(d.pending)
	d.pending = nil
	return d.handleLine(line)
}

func (d *streamDecoder) handleLine(line string) error {
	line = strings.TrimSuffix(line, "\r")

	payload, prefixed := strings.CutPrefix(line, "data:")
	if prefixed {
		payload = strings.TrimPrefix(payload, " ")
		d.recognized++
	}

	if payload == "" {
		return nil
	}
	if strings.TrimSpace(payload) == doneMarker {
		return nil
	}
	if strings.HasPrefix(payload, errorPrefix) {
		return &RemoteError{Message: errorMessage(payload)}
	}

	// Only objects are events; null and other scalars are text like any other.
	var fields map[string]json.RawMessage
	if json.Unmarshal([]byte(payload), &fields) != nil || fields == nil {
		d.appendText(payload)
		return nil
	}
	if !prefixed {
		d.recognized++
	}

	var ev wireEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		d.skipped++
		log.Warn((&StreamDecodeError{Payload: payload, Err: err}).Error())
		return nil
	}
	if msg := remoteErrorMessage(ev.Error); msg != "" {
		return &RemoteError{Message: msg}
	}
	if ev.Text == nil || *ev.Text == "" {
		return nil
	}

	if ev.Language != "" {
		d.result.Language = ev.Language
	}
	if len(ev.Speakers) > 0 {
		d.result.Speakers = ev.Speakers
	}
	for _, raw := range ev.Chunks {
		chunk, ok := validChunk(raw)
		if !ok {
			d.skipped++
			continue
		}
		d.result.Chunks = append(d.result.Chunks, chunk)
	}
	d.appendText(*ev.Text)
	return nil
}

func (d *streamDecoder) appendText(s string) {
	d.text.WriteString(s)
	d.result.Text = d.text.String()
	log.StreamChunk(len(d.result.Text), len(d.result.Chunks), d.result.Language)
	if d.onPartial != nil {
		d.onPartial(d.snapshot())
	}
}

func (d *streamDecoder) snapshot() Result {
	r := d.result
	r.Chunks = slices.Clone(d.result.Chunks)
	r.Speakers = slices.Clone(d.result.Speakers)
	return r
}

// Result returns the final transcript. A body with no recognizable event
// lines is parsed once more as a single JSON response.
func (d *streamDecoder) Result() Result {
	if d.recognized == 0 {
		var whole Result
		body := bytes.TrimSpace(d.raw.Bytes())
		if len(body) > 0 && json.Unmarshal(body, &whole) == nil {
			whole.Text = stripTrailingDone(whole.Text)
			return whole
		}
		log.Warnf("stream contained no events (%d bytes), returning partial text", d.raw.Len())
	}
	if d.skipped > 0 {
		log.Warnf("stream: skipped %d malformed events or chunks", d.skipped)
	}

	text := stripTrailingDone(d.text.String())
	if !d.result.structured() {
		return Result{Text: text}
	}
	r := d.snapshot()
	r.Text = text
	return r
}

func errorMessage(payload string) string {
	msg := strings.TrimPrefix(payload, errorPrefix)
	msg = strings.TrimSpace(msg)
	msg = strings.TrimSuffix(msg, "]")
	return strings.TrimSpace(msg)
}

// remoteErrorMessage accepts "error": "msg" and "error": {"message": "msg"}.
func remoteErrorMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.Message
	}
	return ""
}

func validChunk(raw json.RawMessage) (Chunk, bool) {
	var wc wireChunk
	if json.Unmarshal(raw, &wc) != nil {
		return Chunk{}, false
	}
	if wc.Text == "" || len(wc.Timestamp) != 2 {
		return Chunk{}, false
	}
	start, ok1 := wc.Timestamp[0].(float64)
	end, ok2 := wc.Timestamp[1].(float64)
	if !ok1 || !ok2 {
		return Chunk{}, false
	}
	return Chunk{Text: wc.Text, Timestamp: [2]float64{start, end}, Speaker: wc.Speaker}, true
}
