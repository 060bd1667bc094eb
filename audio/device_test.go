package audio

import (
	"errors"
	"io"
	"os"
	"testing"
)

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0600)
}

// keyReader returns one key press per Read.
type keyReader struct{ keys [][]byte }

func (k *keyReader) Read(p []byte) (int, error) {
	if len(k.keys) == 0 {
		return 0, io.EOF
	}
	n := copy(p, k.keys[0])
	k.keys = k.keys[1:]
	return n, nil
}

var up, down = []byte("\x1b[A"), []byte("\x1b[B")

func TestPick(t *testing.T) {
	devices := []DeviceInfo{{ID: "a", Name: "Built-in"}, {ID: "b", Name: "AirPods"}, {ID: "c", Name: "USB"}}
	tests := []struct {
		name string
		keys [][]byte
		want int
	}{
		{"enter", [][]byte{{'\r'}}, 0},
		{"down", [][]byte{down, {'\r'}}, 1},
		{"clamped at end", [][]byte{down, down, down, {'\r'}}, 2},
		{"clamped at start", [][]byte{up, {'\r'}}, 0},
		{"vim keys", [][]byte{{'j'}, {'j'}, {'k'}, {'\r'}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pick(&keyReader{keys: tt.keys}, io.Discard, devices)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("pick = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPickCancel(t *testing.T) {
	_, err := pick(&keyReader{keys: [][]byte{{3}}}, io.Discard, []DeviceInfo{{}, {}})
	if !errors.Is(err, ErrPickerCancelled) {
		t.Errorf("err = %v, want ErrPickerCancelled", err)
	}
}

func TestPickInputClosed(t *testing.T) {
	if _, err := pick(&keyReader{}, io.Discard, []DeviceInfo{{}, {}}); err == nil {
		t.Error("expected error on EOF")
	}
}

func TestSelectDeviceSingle(t *testing.T) {
	d, err := SelectDevice(NewFakeContextPCM(nil, false))
	if err != nil {
		t.Fatal(err)
	}
	if d == nil || d.ID != "fake" {
		t.Errorf("device = %+v", d)
	}
}

func TestIsBluetooth(t *testing.T) {
	for name, want := range map[string]bool{
		"AirPods Pro":         true,
		"Jabra Evolve2":       true,
		"Built-in Microphone": false,
		"USB Audio Device":    false,
	} {
		if got := IsBluetooth(name); got != want {
			t.Errorf("IsBluetooth(%q) = %v, want %v", name, got, want)
		}
	}
}
