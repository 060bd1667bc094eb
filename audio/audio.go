package audio

import "strings"

const WAVHeaderSize = 44

// Defaults for speech capture: 16 kHz mono.
const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
)

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// DataCallback receives interleaved little-endian PCM16 samples.
type DataCallback func(data []byte, frameCount uint32)

// CaptureConfig describes the requested capture format. EchoCancel and
// NoiseSuppress are requests; a backend that cannot honor them logs a warning
// and captures unprocessed audio.
type CaptureConfig struct {
	SampleRate    uint32
	Channels      uint32
	EchoCancel    bool
	NoiseSuppress bool
}

// SpeechConfig is the capture format used for transcription.
func SpeechConfig() CaptureConfig {
	return CaptureConfig{
		SampleRate:    DefaultSampleRate,
		Channels:      DefaultChannels,
		EchoCancel:    true,
		NoiseSuppress: true,
	}
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}
