package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// ErrPickerCancelled is returned when the user aborts the device picker.
var ErrPickerCancelled = errors.New("device selection cancelled")

// SelectDevice presents an interactive device picker and returns the
// selected device. With a single device, or when stdin is not a terminal, it
// returns nil (the system default) or the only device without prompting.
func SelectDevice(ctx Context) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}

	switch {
	case len(devices) == 0:
		return nil, fmt.Errorf("no capture devices found")
	case len(devices) == 1:
		return &devices[0], nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, nil
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	i, err := pick(os.Stdin, os.Stdout, devices)
	if err != nil {
		return nil, err
	}
	return &devices[i], nil
}

func renderDevices(w io.Writer, devices []DeviceInfo, cursor int) {
	fmt.Fprint(w, "\r\x1b[J")
	fmt.Fprint(w, "Select input device (↑/↓, Enter to confirm):\r\n\r\n")
	for i, d := range devices {
		btTag := ""
		if IsBluetooth(d.Name) {
			btTag = " \x1b[33m[⚠ Lower audio quality]\x1b[0m"
		}
		if i == cursor {
			fmt.Fprintf(w, "  \x1b[1;36m▶ %s%s\x1b[0m\r\n", d.Name, btTag)
		} else {
			fmt.Fprintf(w, "    %s%s\r\n", d.Name, btTag)
		}
	}
}

// pick reads key presses from r until Enter and returns the chosen index.
func pick(r io.Reader, w io.Writer, devices []DeviceInfo) (int, error) {
	cursor := 0
	renderDevices(w, devices, cursor)

	buf := make([]byte, 3)
	for {
		n, err := r.Read(buf)
		if err != nil {
			return 0, fmt.Errorf("reading input: %w", err)
		}

		var done bool
		cursor, done, err = moveCursor(cursor, len(devices), buf[:n])
		if err != nil {
			fmt.Fprint(w, "\r\n")
			return 0, err
		}
		if done {
			fmt.Fprint(w, "\r\n")
			return cursor, nil
		}

		fmt.Fprintf(w, "\x1b[%dA", len(devices)+2)
		renderDevices(w, devices, cursor)
	}
}

func moveCursor(cursor, n int, key []byte) (int, bool, error) {
	switch {
	case len(key) == 1:
		switch key[0] {
		case '\r', '\n':
			return cursor, true, nil
		case 3, 'q': // Ctrl+C
			return cursor, false, ErrPickerCancelled
		case 'j':
			return min(cursor+1, n-1), false, nil
		case 'k':
			return max(cursor-1, 0), false, nil
		}
	case len(key) == 3 && key[0] == 0x1b && key[1] == '[':
		switch key[2] {
		case 'A':
			return max(cursor-1, 0), false, nil
		case 'B':
			return min(cursor+1, n-1), false, nil
		}
	}
	return cursor, false, nil
}
