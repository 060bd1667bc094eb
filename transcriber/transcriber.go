package transcriber

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"scribe/config"
)

const (
	DefaultModel = "Systran/faster-distil-whisper-large-v3"

	adminKeyHeader = "x-admin-api-key"

	probeTimeout  = 10 * time.Second
	uploadTimeout = 5 * time.Minute
)

type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

type NetworkMetrics struct {
	DNS        time.Duration
	ConnWait   time.Duration
	TCP        time.Duration
	TLS        time.Duration
	ReqHeaders time.Duration
	ReqBody    time.Duration
	TTFB       time.Duration
	Download   time.Duration
	Total      time.Duration
	ConnReused bool
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}

// Request describes one batch submission.
type Request struct {
	Audio       []byte
	Filename    string
	Task        Task
	Language    string
	Model       string
	Temperature float64
	Stream      bool
}

func (r *Request) model() string {
	if r.Model == "" {
		return DefaultModel
	}
	return r.Model
}

// Chunk is a timestamped span of the transcript. Timestamp is [start, end] in seconds.
type Chunk struct {
	Text      string     `json:"text"`
	Timestamp [2]float64 `json:"timestamp"`
	Speaker   string     `json:"speaker,omitempty"`
}

type Result struct {
	Text     string   `json:"text"`
	Language string   `json:"language,omitempty"`
	Chunks   []Chunk  `json:"chunks,omitempty"`
	Speakers []string `json:"speakers,omitempty"`

	Metrics *NetworkMetrics `json:"-"`
}

func (r Result) structured() bool {
	return len(r.Chunks) > 0 || r.Language != "" || len(r.Speakers) > 0
}

// Event is one realtime update. Final marks the terminal event of a session.
type Event struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
	Error string `json:"error,omitempty"`
}

var (
	// ErrNoAudio is returned before any network call when the request has no payload.
	ErrNoAudio = errors.New("no audio file provided")

	// ErrUploadTimeout is returned when a batch submission exceeds its upload bound.
	ErrUploadTimeout = errors.New("upload timed out")

	ErrSessionActive = errors.New("a realtime session is already active")
)

// ConnectionError reports that the realtime channel could not be established.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransmissionError is a non-2xx HTTP response with its resolved message.
type TransmissionError struct {
	StatusCode int
	Message    string
}

func (e *TransmissionError) Error() string { return e.Message }

// RemoteError is an error reported by the server inside an event stream.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

// StreamDecodeError is a single malformed stream event. It is logged and
// skipped, never returned from Submit.
type StreamDecodeError struct {
	Payload string
	Err     error
}

func (e *StreamDecodeError) Error() string {
	return fmt.Sprintf("decode stream event %q: %v", truncate(e.Payload, 80), e.Err)
}

func (e *StreamDecodeError) Unwrap() error { return e.Err }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Client talks to one transcription API endpoint. The configuration is read
// on every call so that a saved config takes effect without rebuilding.
type Client struct {
	conf   func() config.ApiConfig
	client *TracedClient

	probeTimeout  time.Duration
	uploadTimeout time.Duration
	dial          dialFunc

	mu       sync.Mutex
	realtime *RealtimeSession
}

// New returns a client reading its configuration from conf.
func New(conf func() config.ApiConfig) *Client {
	return &Client{
		conf:          conf,
		client:        NewTracedClient(),
		probeTimeout:  probeTimeout,
		uploadTimeout: uploadTimeout,
		dial:          dialWebSocket,
	}
}

// NewStatic returns a client bound to a fixed configuration.
func NewStatic(cfg config.ApiConfig) *Client {
	cfg = cfg.Normalize()
	return New(func() config.ApiConfig { return cfg })
}

func (c *Client) config() config.ApiConfig {
	return c.conf().Normalize()
}

func (c *Client) setHeaders(h http.Header, cfg config.ApiConfig) {
	if cfg.AdminKey != "" {
		h.Set(adminKeyHeader, cfg.AdminKey)
	}
}

func (c *Client) Warm() {
	go c.client.WarmConnection(c.config().BaseURL)
}
