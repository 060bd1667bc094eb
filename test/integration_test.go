//go:build integration

package test_test

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"scribe/clipboard"
)

const transcript = "the quick brown fox"

var testBinary string

func TestMain(m *testing.M) {
	testBinary = os.Getenv("SCRIBE_TEST_BIN")
	if testBinary == "" {
		fmt.Fprintln(os.Stderr, "SCRIBE_TEST_BIN not set; build scribe and point SCRIBE_TEST_BIN at it")
		os.Exit(1)
	}
	os.Exit(m.Run())
}

func writeToneWAV(t *testing.T, sampleRate int, durationS float64) string {
	t.Helper()
	const headerSize = 44
	numSamples := int(float64(sampleRate) * durationS)
	dataSize := numSamples * 2

	buf := make([]byte, headerSize+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(headerSize-8+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)  // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16) // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i := 0; i < numSamples; i++ {
		v := int16(12000 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		binary.LittleEndian.PutUint16(buf[headerSize+2*i:], uint16(v))
	}

	path := filepath.Join(t.TempDir(), "tone.wav")
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// fakeServer speaks the subset of the API scribe uses.
func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"id":"Systran/faster-distil-whisper-large-v3"},{"id":"tiny"}]}`)
	})
	mux.HandleFunc("POST /v1/audio/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("stream") == "true" {
			for _, word := range strings.Fields(transcript) {
				fmt.Fprintf(w, "data: {\"text\":%q}\n\n", word+" ")
				w.(http.Flusher).Flush()
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"text": transcript, "language": "en"})
	})
	mux.HandleFunc("/v1/audio/transcriptions/stream", func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()
		frames := 0
		for {
			typ, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				if frames++; frames == 5 {
					c.Write(ctx, websocket.MessageText, []byte(`{"text":"the quick","final":false}`))
				}
				continue
			}
			if strings.Contains(string(data), "stop") {
				c.Write(ctx, websocket.MessageText, []byte(`{"text":"`+transcript+`","final":true}`))
				c.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type env struct {
	url, configDir, logDir string
}

func newEnv(t *testing.T) env {
	return env{url: fakeServer(t).URL, configDir: t.TempDir(), logDir: t.TempDir()}
}

func (e env) run(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	cmdArgs := append([]string{"-logpath", e.logDir, "-quiet"}, args...)
	cmd := exec.Command(testBinary, cmdArgs...)
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Env = append(os.Environ(),
		"SCRIBE_API_URL="+e.url,
		"SCRIBE_CONFIG_DIR="+e.configDir,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("scribe %s: %v\noutput: %s", strings.Join(args, " "), err, out)
	}
	return string(out)
}

func (e env) readLog(t *testing.T, filename string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(e.logDir, filename))
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("failed to read %s: %v", filename, err)
	}
	return string(data)
}

func TestProbeAndModels(t *testing.T) {
	e := newEnv(t)
	if out := e.run(t, "", "probe"); !strings.Contains(out, "connected") {
		t.Errorf("probe output: %s", out)
	}
	out := e.run(t, "", "models")
	if !strings.Contains(out, "* Systran/faster-distil-whisper-large-v3") || !strings.Contains(out, "tiny") {
		t.Errorf("models output: %s", out)
	}
	if diag := e.readLog(t, "diagnostics_log.txt"); !strings.Contains(diag, "probe") {
		t.Error("expected probe entry in diagnostics")
	}
}

func TestTranscribeBatch(t *testing.T) {
	e := newEnv(t)
	wav := writeToneWAV(t, 16000, 1)

	out := e.run(t, "", "transcribe", "-stream=false", wav)
	if !strings.Contains(out, transcript) {
		t.Errorf("output: %s", out)
	}
	if !strings.Contains(e.readLog(t, "transcribe_log.txt"), transcript) {
		t.Error("transcript not logged")
	}

	hist := e.run(t, "", "history")
	if !strings.Contains(hist, "tone.wav") {
		t.Errorf("history output: %s", hist)
	}
}

func TestTranscribeStream(t *testing.T) {
	e := newEnv(t)
	out := e.run(t, "", "transcribe", "-stream", writeToneWAV(t, 16000, 1))
	if !strings.Contains(out, transcript) {
		t.Errorf("output: %s", out)
	}
	if !strings.Contains(e.readLog(t, "diagnostics_log.txt"), "stream_chunk") {
		t.Error("expected stream_chunk entries in diagnostics")
	}
}

func TestLiveFromWAV(t *testing.T) {
	e := newEnv(t)
	wav := writeToneWAV(t, 16000, 2)

	start := time.Now()
	out := e.run(t, "", "live", "-wav", wav)
	if !strings.Contains(out, transcript) {
		t.Errorf("output: %s", out)
	}
	if time.Since(start) > 15*time.Second {
		t.Error("live session took too long to stop")
	}
	diag := e.readLog(t, "diagnostics_log.txt")
	for _, want := range []string{"session_start", "realtime_session", "session_end"} {
		if !strings.Contains(diag, want) {
			t.Errorf("expected %s in diagnostics", want)
		}
	}
}

func TestConfigRoundTrip(t *testing.T) {
	e := newEnv(t)
	out := e.run(t, "", "config", "-key", "secret-1234", "-stream=false")
	if !strings.Contains(out, "*******1234") || !strings.Contains(out, "stream:    false") {
		t.Errorf("config output: %s", out)
	}
	if _, err := os.Stat(filepath.Join(e.configDir, "config.yaml")); err != nil {
		t.Errorf("config not saved: %v", err)
	}
}

func TestCopyToClipboard(t *testing.T) {
	sentinel := fmt.Sprintf("scribe-test-sentinel-%d", time.Now().UnixNano())
	if err := clipboard.Copy(sentinel); err != nil {
		t.Skip("clipboard not available")
	}

	e := newEnv(t)
	e.run(t, "", "transcribe", "-stream=false", "-copy", writeToneWAV(t, 16000, 1))
	clip, err := clipboard.Read()
	if err != nil {
		t.Skip("clipboard not readable")
	}
	if clip != transcript {
		t.Errorf("clipboard = %q, want %q", clip, transcript)
	}
}
