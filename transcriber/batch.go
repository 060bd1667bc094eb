package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"scribe/log"
)

const (
	transcriptionsPath = "/v1/audio/transcriptions"
	translationsPath   = "/v1/audio/translations"

	streamReadSize = 4096
	maxErrorBody   = 1 << 20
)

// Submit uploads req and returns the final transcript. When onPartial is
// non-nil the server is asked to stream and every merged partial result is
// passed to onPartial, in arrival order, before Submit returns.
func (c *Client) Submit(ctx context.Context, req Request, onPartial func(Result)) (*Result, error) {
	if len(req.Audio) == 0 {
		return nil, ErrNoAudio
	}

	cfg := c.config()
	stream := onPartial != nil

	body, contentType, err := buildForm(&req, stream)
	if err != nil {
		return nil, err
	}

	url := cfg.BaseURL + endpointPath(req.Task)
	log.Submit(url, req.Filename, len(req.Audio), req.model(), req.Language, string(req.taskOrDefault()), stream)

	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("build transcription request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	c.setHeaders(httpReq.Header, cfg)

	resp, metrics, err := c.client.Open(httpReq)
	if err != nil {
		return nil, c.networkError(ctx, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		terr := transmissionError(resp.StatusCode, resp.Status, errBody)
		log.Errorf("transcription failed: status=%d message=%q", resp.StatusCode, terr.Message)
		return nil, terr
	}

	var result *Result
	if stream {
		result, err = c.readStream(ctx, resp.Body, onPartial)
	} else {
		result, err = c.readJSON(ctx, resp.Body)
	}
	if err != nil {
		return nil, err
	}

	resp.Body.Close()
	result.Metrics = metrics
	mode := "batch"
	if stream {
		mode = "batch_stream"
	}
	log.TranscriptionMetrics(log.Metrics{
		DNSTimeMs:   float64(metrics.DNS.Milliseconds()),
		TLSTimeMs:   float64(metrics.TLS.Milliseconds()),
		TTFBMs:      float64(metrics.TTFB.Milliseconds()),
		TotalTimeMs: float64(metrics.Total.Milliseconds()),
		ConnReused:  metrics.ConnReused,
	}, mode, len(result.Text), len(result.Chunks), result.Language)

	return result, nil
}

func (r *Request) taskOrDefault() Task {
	if r.Task == "" {
		return TaskTranscribe
	}
	return r.Task
}

func endpointPath(task Task) string {
	if task == TaskTranslate {
		return translationsPath
	}
	return transcriptionsPath
}

func buildForm(req *Request, stream bool) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	filename := strings.TrimSpace(req.Filename)
	if filename == "" {
		filename = "audio"
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("create file form field: %w", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, "", fmt.Errorf("write audio data: %w", err)
	}

	fields := [][2]string{{"model", req.model()}}
	if stream {
		fields = append(fields, [2]string{"stream", "true"})
	}
	if req.Language != "" {
		fields = append(fields, [2]string{"language", req.Language})
	}
	if req.Task == TaskTranslate {
		fields = append(fields, [2]string{"task", string(TaskTranslate)})
	}
	// zero is the server default and is not sent
	if req.Temperature != 0 {
		fields = append(fields, [2]string{"temperature", strconv.FormatFloat(req.Temperature, 'f', -1, 64)})
	}

	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write %s field: %w", f[0], err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

func (c *Client) networkError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		log.Errorf("transcription upload exceeded %s", c.uploadTimeout)
		return fmt.Errorf("%w after %s", ErrUploadTimeout, c.uploadTimeout)
	}
	log.Errorf("transcription request failed: %v", err)
	return fmt.Errorf("transcription request failed: %w", err)
}

func (c *Client) readJSON(ctx context.Context, body io.Reader) (*Result, error) {
	var result Result
	if err := json.NewDecoder(body).Decode(&result); err != nil {
		if ctx.Err() != nil {
			return nil, c.networkError(ctx, err)
		}
		return nil, fmt.Errorf("decode transcription response: %w", err)
	}
	return &result, nil
}

func (c *Client) readStream(ctx context.Context, body io.Reader, onPartial func(Result)) (*Result, error) {
	dec := newStreamDecoder(onPartial)
	buf := make([]byte, streamReadSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if werr := dec.Write(buf[:n]); werr != nil {
				log.Errorf("remote error in stream: %v", werr)
				return nil, werr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, c.networkError(ctx, err)
		}
	}
	if err := dec.Close(); err != nil {
		log.Errorf("remote error in stream: %v", err)
		return nil, err
	}
	result := dec.Result()
	return &result, nil
}

type errorEnvelope struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
}

// transmissionError resolves the message of a failed response from the known
// error body shapes, falling back to "HTTP <status>: <statusText>".
func transmissionError(code int, status string, body []byte) *TransmissionError {
	statusText := strings.TrimSpace(strings.TrimPrefix(status, strconv.Itoa(code)))
	if statusText == "" {
		statusText = http.StatusText(code)
	}
	msg := fmt.Sprintf("HTTP %d: %s", code, statusText)

	var env errorEnvelope
	if len(bytes.TrimSpace(body)) > 0 && json.Unmarshal(body, &env) == nil {
		switch {
		case env.Error != nil && env.Error.Message != "":
			msg = env.Error.Message
		case detailMessage(env.Detail) != "":
			msg = detailMessage(env.Detail)
		case env.Message != "":
			msg = env.Message
		}
	}
	return &TransmissionError{StatusCode: code, Message: msg}
}

// detailMessage accepts a plain string detail or any other JSON value, which
// is rendered compactly (FastAPI sends validation failures as a list).
func detailMessage(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var compact bytes.Buffer
	if json.Compact(&compact, raw) != nil {
		return ""
	}
	return compact.String()
}
