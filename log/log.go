package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog        zerolog.Logger
	diagFile       *os.File
	transcribeFile *os.File
	logMu          sync.Mutex
	logReady       bool
	pid            int
	dir            string
)

// ResolveDir picks the log directory: flag first, then SCRIBE_LOG_PATH,
// then the OS default.
func ResolveDir(flagPath string) (string, error) {
	if flagPath != "" {
		return absPath(flagPath)
	}

	if envPath := os.Getenv("SCRIBE_LOG_PATH"); envPath != "" {
		return absPath(envPath)
	}

	return getDefaultDir()
}

func absPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	transcribePath := filepath.Join(dir, "transcribe_log.txt")
	transcribeFile, err = os.OpenFile(transcribePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if transcribeFile != nil {
		transcribeFile.Close()
		transcribeFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

// Submit records an outbound batch submission. The file size is logged, never its contents.
func Submit(url, file string, sizeBytes int, model, language, task string, stream bool) {
	if !logReady {
		return
	}
	if language == "" {
		language = "auto-detect"
	}
	diagLog.Info().
		Str("url", url).
		Str("file", file).
		Float64("size_kb", float64(sizeBytes)/1024).
		Str("model", model).
		Str("language", language).
		Str("task", task).
		Bool("stream", stream).
		Msg("submit")
}

func Probe(url string, status int, connected bool, dur time.Duration) {
	if !logReady {
		return
	}
	ev := diagLog.Info()
	if !connected {
		ev = diagLog.Warn()
	}
	ev.Str("url", url).
		Int("status", status).
		Bool("connected", connected).
		Dur("took", dur).
		Msg("probe")
}

type Metrics struct {
	DNSTimeMs   float64
	TLSTimeMs   float64
	TTFBMs      float64
	TotalTimeMs float64
	ConnReused  bool
}

func TranscriptionMetrics(m Metrics, mode string, textLen, chunks int, language string) {
	if !logReady {
		return
	}

	connStatus := "new"
	if m.ConnReused {
		connStatus = "reused"
	}

	diagLog.Info().
		Str("mode", mode).
		Str("conn", connStatus).
		Str("language", language).
		Int("text_len", textLen).
		Int("chunks", chunks).
		Float64("dns_ms", m.DNSTimeMs).
		Float64("tls_ms", m.TLSTimeMs).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("total_ms", m.TotalTimeMs).
		Msg("transcription")
}

func StreamChunk(textLen, chunks int, language string) {
	if !logReady {
		return
	}
	diagLog.Debug().
		Int("text_len", textLen).
		Int("chunks", chunks).
		Str("language", language).
		Msg("stream_chunk")
}

func TranscriptionText(text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	line := fmt.Sprintf("%s\t[%d]\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, text)
	transcribeFile.WriteString(line)
}

type RealtimeMetricsData struct {
	ConnectMs    float64
	TotalMs      float64
	AudioS       float64
	SentFrames   int
	SentKB       float64
	RecvMessages int
	Skipped      int
	Synthetic    bool
}

func RealtimeMetrics(m RealtimeMetricsData) {
	if !logReady {
		return
	}
	diagLog.Info().
		Float64("connect_ms", m.ConnectMs).
		Float64("total_ms", m.TotalMs).
		Float64("audio_s", m.AudioS).
		Int("sent_frames", m.SentFrames).
		Float64("sent_kb", m.SentKB).
		Int("recv_messages", m.RecvMessages).
		Int("skipped", m.Skipped).
		Bool("synthetic_final", m.Synthetic).
		Msg("realtime_session")
}

func SessionStart(mode, language string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("mode", mode).
		Str("language", language).
		Msg("session_start")
}

func SessionEnd(reason string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("reason", reason).
		Msg("session_end")
}
